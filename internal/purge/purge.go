// Package purge deletes expired estimates and their stored artifacts on a
// fixed interval.
package purge

import (
	"context"
	"sync"
	"time"

	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/logger"
	"github.com/Simplici0/quickbuild/internal/storage"
)

// Purger removes estimates older than the retention window.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) ([]estimate.Record, error)
}

// Scheduler runs a purge pass at startup and then every interval.
type Scheduler struct {
	purger    Purger
	store     storage.Store
	log       *logger.Logger
	retention time.Duration
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(purger Purger, store storage.Store, log *logger.Logger, retention, interval time.Duration) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		purger:    purger,
		store:     store,
		log:       log,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the loop in the background. Calling it twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, s.stopCh)
	}()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge pass and returns how many estimates were
// deleted. Failures are logged; the pass never aborts the process.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	deleted, err := s.purger.Purge(ctx, s.retention)
	if err != nil {
		s.log.Error("purge estimates", "error", err, "deleted", len(deleted))
	}

	for _, rec := range deleted {
		if s.store == nil {
			break
		}
		if err := storage.DeleteAll(ctx, s.store, rec.Keys()...); err != nil {
			s.log.Warn("delete purged artifacts", "estimate_id", rec.Estimate.ID, "error", err)
		}
	}

	if len(deleted) > 0 {
		s.log.Info("purged expired estimates",
			"count", len(deleted),
			"retention", s.retention.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return len(deleted)
}
