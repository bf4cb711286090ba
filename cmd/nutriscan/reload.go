package main

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ahrav/go-nutriscan/internal/application"
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

// reloadingAnalyzer serves requests from the most recently built Service.
// In-flight analyses finish on the Service they started with.
type reloadingAnalyzer struct {
	current atomic.Pointer[application.Service]
	metrics ports.MetricsCollector
	logger  *zap.Logger
	opts    []application.ServiceOption
}

func newReloadingAnalyzer(
	svc *application.Service,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts ...application.ServiceOption,
) *reloadingAnalyzer {
	r := &reloadingAnalyzer{metrics: metrics, logger: logger, opts: opts}
	r.current.Store(svc)
	return r
}

func (r *reloadingAnalyzer) Analyze(
	ctx context.Context,
	img ports.Image,
	ref domain.ImageRef,
	mode application.Mode,
) (domain.ConsensusResult, error) {
	return r.current.Load().Analyze(ctx, img, ref, mode)
}

// apply builds a Service for next and swaps it in. Server settings are
// only read at startup.
func (r *reloadingAnalyzer) apply(next application.AppConfig) error {
	prev := r.current.Load().Config()
	svc, err := application.NewService(next, r.logger, r.metrics, r.opts...)
	if err != nil {
		return err
	}
	r.current.Store(svc)

	if next.Server != prev.Server {
		r.logger.Warn("server settings changed; restart to apply them")
	}
	return nil
}
