// Command nutriscan analyzes meal photos with one or more vision models and
// prints or serves the merged nutrition analysis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahrav/go-nutriscan/internal/application"
)

var (
	configPath string
	verbose    bool

	cfg    application.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nutriscan",
	Short: "Nutrition analysis of meal photos by a consensus of vision models",
	Long: `nutriscan sends a meal photo to several vision-capable LLMs, merges their
answers into one consensus analysis, and reports food items, macronutrients,
a health score, warnings, and allergens.

Provider API keys are read from the environment (OPENAI_API_KEY,
ANTHROPIC_API_KEY, GOOGLE_API_KEY). Several comma-separated keys enable
rotation on authentication or rate-limit errors.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration (defaults are used when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(analyzeCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (application.AppConfig, error) {
	if path == "" {
		return application.DefaultConfig(), nil
	}
	return application.LoadConfig(path)
}

// newLogger builds a production zap logger honoring the configured level
// and encoding. verbose forces debug level.
func newLogger(lc application.LoggingConfig, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = lc.Encoding
	if lc.Encoding == "console" {
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	return config.Build()
}
