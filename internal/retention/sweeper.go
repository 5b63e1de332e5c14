// Package retention periodically prunes motion events past the retention
// horizon.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes expired events and reports how many were removed.
type Pruner interface {
	PruneOldEvents(ctx context.Context) (int, error)
}

type Config struct {
	RetentionDays int
	Interval      time.Duration
}

// Sweeper runs Pruner once on Start and then every Interval.
type Sweeper struct {
	pruner   Pruner
	logger   *zap.Logger
	days     int
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func New(pruner Pruner, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		pruner:   pruner,
		logger:   logger.Named("retention"),
		days:     cfg.RetentionDays,
		interval: cfg.Interval,
	}
}

// Enabled reports whether Start will launch a sweep goroutine.
func (s *Sweeper) Enabled() bool {
	return s.days > 0 && s.pruner != nil
}

// Start launches the sweep goroutine. It does nothing when retention is
// disabled or the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("retention disabled")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)
	s.logger.Info("retention sweeper started",
		zap.Int("retention_days", s.days),
		zap.Duration("interval", s.interval))
}

// Stop interrupts the interval wait and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.pruner.PruneOldEvents(ctx)
	if err != nil {
		s.logger.Error("prune old events", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pruned old events", zap.Int("count", n), zap.Int("retention_days", s.days))
	}
}
