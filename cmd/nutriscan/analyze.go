package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-nutriscan/infrastructure/llm"
	"github.com/ahrav/go-nutriscan/internal/application"
	"github.com/ahrav/go-nutriscan/internal/domain"
)

var (
	analyzeMode string
	analyzeRef  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze one meal photo and print the result as JSON",
	Example: `  nutriscan analyze lunch.jpg
  nutriscan analyze --mode fallback --config nutriscan.yaml dinner.png`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeMode, "mode", "m", string(application.ModeEnsemble), "analysis mode: ensemble, fallback, or single")
	analyzeCmd.Flags().StringVar(&analyzeRef, "ref", "", "image reference recorded in the result (defaults to a file:// URL)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	mode, err := application.ParseMode(analyzeMode)
	if err != nil {
		return err
	}

	img, err := llm.LoadImage(args[0])
	if err != nil {
		return err
	}

	ref := analyzeRef
	if ref == "" {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve image path: %w", err)
		}
		ref = "file://" + filepath.ToSlash(abs)
	}

	svc, err := application.NewService(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := svc.Analyze(ctx, img, domain.ImageRef(ref), mode)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
