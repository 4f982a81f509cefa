package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type OverdueNotifier interface {
	NotifyOverdueLoans(ctx context.Context, now time.Time) (int, error)
}

// OverdueSweep periodically notifies about open loans past their due date.
type OverdueSweep struct {
	notifier OverdueNotifier
	schedule string
	timeout  time.Duration
	now      func() time.Time

	cron       *cron.Cron
	mu         sync.Mutex
	isRunning  bool
	isSweeping bool
}

// NewOverdueSweep creates the sweep. Each run is bounded by timeout; zero means unbounded.
func NewOverdueSweep(notifier OverdueNotifier, schedule string, timeout time.Duration) *OverdueSweep {
	return &OverdueSweep{
		notifier: notifier,
		schedule: schedule,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start registers the sweep on its schedule and starts the cron loop. It stops when ctx is done.
func (s *OverdueSweep) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("invalid overdue sweep schedule '%s': %w", s.schedule, err)
	}
	s.cron.Start()
	s.isRunning = true
	slog.Info("overdue sweep scheduled", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *OverdueSweep) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	slog.Info("overdue sweep stopped")
}

/*
Runs one sweep right away. Overlapping runs are skipped. Returns how many
notifications were delivered.
*/
func (s *OverdueSweep) RunNow(ctx context.Context) int {
	s.mu.Lock()
	if s.isSweeping {
		s.mu.Unlock()
		slog.Info("overdue sweep skipped, already running")
		return 0
	}
	s.isSweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSweeping = false
		s.mu.Unlock()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	delivered, err := s.notifier.NotifyOverdueLoans(ctx, s.now())
	if err != nil {
		slog.Error("overdue sweep failed", "error", err)
		return delivered
	}
	slog.Info("overdue sweep finished", "notified", delivered, "took", time.Since(started))
	return delivered
}
