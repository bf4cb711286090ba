package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-nutriscan/infrastructure/middleware"
	"github.com/ahrav/go-nutriscan/internal/application"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	Long: `serve exposes:

  POST /v1/analyze?mode=ensemble|fallback|single&ref=<reference>
       body: raw JPEG/PNG/GIF/WebP bytes or a base64 data URL
  GET  /metrics   Prometheus metrics
  GET  /healthz   liveness probe`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var watchConfig bool

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false, "rebuild the analyzers when the --config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewPrometheusMetrics(reg)

	svc, err := application.NewService(cfg, logger, metrics)
	if err != nil {
		return err
	}
	analyzer := newReloadingAnalyzer(svc, metrics, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(analyzer, reg, cfg.Server, logger),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	defer func() {
		stop()
		_ = g.Wait()
	}()
	if watchConfig {
		if configPath == "" {
			return errors.New("--watch requires --config")
		}
		watcher, err := application.NewConfigWatcher(configPath, analyzer.apply, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Strings("models", cfg.Ensemble.Models))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMux(
	analyzer mealAnalyzer,
	gatherer prometheus.Gatherer,
	sc application.ServerConfig,
	logger *zap.Logger,
) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/analyze", &analyzeHandler{
		analyzer:     analyzer,
		maxBodyBytes: sc.MaxBodyBytes,
		logger:       logger,
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
