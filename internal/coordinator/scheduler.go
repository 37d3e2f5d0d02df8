package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives periodic refreshes. Runs never overlap: a tick that
// arrives while a refresh is still running is skipped.
type Scheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	c        *Coordinator
	interval time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
}

// NewScheduler creates a Scheduler refreshing c every interval. Refreshes
// run under ctx; Stop cancels it.
func NewScheduler(ctx context.Context, c *Coordinator, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		c:        c,
		interval: interval,
		logger:   logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
	}
}

// Start runs one refresh in the background immediately, then one every interval.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", s.interval)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.run)
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	s.cron.Start()
	// Through the wrapped entry so the first run also counts for SkipIfStillRunning.
	go s.cron.Entry(id).WrappedJob.Run()
	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the coordinator, which cancels any running refresh, and waits
// for the scheduled run to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	s.c.Stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.c.Refresh(s.ctx); err != nil {
		s.logger.Debug("scheduled refresh did not publish", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
