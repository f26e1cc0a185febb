package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/logging"
)

const DefaultSyncInterval = time.Minute

// Scheduler runs background passes: periodically while online, right after
// connectivity comes back and whenever the app returns to the foreground.
type Scheduler struct {
	rec      *Reconciler
	interval time.Duration
	log      logging.Logger

	mu        sync.Mutex
	isRunning bool
	isOnline  bool
	lastRun   time.Time
	lastRes   Result
	lastErr   error
	passes    int

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(rec *Reconciler, interval time.Duration, log logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Scheduler{
		rec:      rec,
		interval: interval,
		log:      logging.OrNop(log).With("module", "scheduler"),
		isOnline: true,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info(ctx, "sync scheduler started", "interval", s.interval.String())
}

// Stop ends the loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info(context.Background(), "sync scheduler stopped")
}

// SetOnline records connectivity. Going from offline to online triggers a pass.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.isOnline
	s.isOnline = online
	s.mu.Unlock()

	if was != online {
		s.log.Info(context.Background(), "online status changed", "was_online", was, "is_online", online)
	}
	if !was && online {
		s.Trigger()
	}
}

func (s *Scheduler) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOnline
}

// Foreground requests a pass after the app is brought back to the front.
func (s *Scheduler) Foreground() {
	s.Trigger()
}

// Trigger requests a pass without blocking. Requests made while one is
// already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Last reports the outcome of the most recent background pass.
func (s *Scheduler) Last() (time.Time, Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastRes, s.lastErr
}

// Passes returns how many background passes were run.
func (s *Scheduler) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.run(ctx)
		case <-s.trigger:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if !s.IsOnline() {
		s.log.Debug(ctx, "skipping sync, offline")
		return
	}

	res, err := s.rec.Reconcile(ctx, Options{})

	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		s.log.Debug(ctx, "sync already in progress, skipping")
		return
	case errors.Is(err, common.ErrNoSession):
		s.log.Debug(ctx, "skipping sync, no session")
	case err != nil:
		s.log.Warn(ctx, "background sync failed", "error", err)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastRes = res
	s.lastErr = err
	s.passes++
	s.mu.Unlock()
}
