package fulfil

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

// Scheduler runs periodic jobs on independent tickers. A panicking tick is
// logged and the job keeps its schedule.
type Scheduler struct {
	logger *zap.Logger
	jobs   []job

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("scheduler")}
}

// Every registers fn to run once per interval. Jobs must be registered
// before Start. A non-positive interval disables the job.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		s.logger.Warn("job disabled", zap.String("job", name), zap.Duration("interval", interval))
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: fn})
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, j)
		s.logger.Info("job scheduled", zap.String("job", j.name), zap.Duration("interval", j.interval))
	}
}

// Stop cancels all jobs and waits for running ticks to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runLoop(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = guard(s.logger, j.name, func() error {
				j.run(ctx)
				return nil
			})
		}
	}
}
