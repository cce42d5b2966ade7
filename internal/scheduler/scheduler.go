package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionExpirer marks active sessions idle since before as expired.
type SessionExpirer interface {
	ExpireIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs the idle-session sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	sessions SessionExpirer
	idle     time.Duration
	schedule string
	now      func() time.Time
	logger   *zap.Logger
}

func New(sessions SessionExpirer, schedule string, idle time.Duration, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
		sessions: sessions,
		idle:     idle,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.Named("scheduler"),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("session sweeper started", zap.String("schedule", s.schedule), zap.Duration("idle_timeout", s.idle))
	return nil
}

// Sweep expires idle sessions once and returns how many were closed.
func (s *Scheduler) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.idle)
	n, err := s.sessions.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("expired idle sessions", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("session sweeper stopped")
}
