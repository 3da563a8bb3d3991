package service

import (
	"context"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// ReconcileScheduler runs the reconciler periodically
type ReconcileScheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *logger.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewReconcileScheduler creates a new reconciliation scheduler
func NewReconcileScheduler(reconciler *Reconciler, interval time.Duration, log *logger.Logger) *ReconcileScheduler {
	return &ReconcileScheduler{
		reconciler: reconciler,
		interval:   interval,
		logger:     log.WithComponent("reconcile-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine.
// A first pass runs immediately, then one per interval.
func (s *ReconcileScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("reconcile scheduler started")

		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("reconcile scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running pass to finish
func (s *ReconcileScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *ReconcileScheduler) runCycle(ctx context.Context) {
	start := time.Now()

	count, err := s.reconciler.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("stock reconciliation failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("mismatches", count).
		Msg("stock reconciliation completed")
}
