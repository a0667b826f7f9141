// Package maintenance runs the off-request memory upkeep: consolidating old
// episodic memories into summaries and forgetting unimportant ones, on a
// cron cadence, serialized per user by an advisory lock.
package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/memory"
	"github.com/mnemolab/mnemo/internal/metrics"
)

const sweepTimeout = 10 * time.Minute

// Users lists users with stored memories and serializes per-user work.
type Users interface {
	ListActiveUsers(ctx context.Context) ([]uuid.UUID, error)
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error
}

// Upkeep is the per-user maintenance surface.
type Upkeep interface {
	Consolidate(ctx context.Context, userID uuid.UUID) (memory.ConsolidationResult, error)
	Forget(ctx context.Context, userID uuid.UUID) (int64, error)
}

type Scheduler struct {
	users  Users
	upkeep Upkeep
	cron   *cron.Cron
	spec   string
	logger *zap.Logger
}

func NewScheduler(users Users, upkeep Upkeep, spec string, logger *zap.Logger) *Scheduler {
	if spec == "" {
		spec = "0 3 * * *"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		users:  users,
		upkeep: upkeep,
		cron:   cron.New(),
		spec:   spec,
		logger: logger,
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep consolidates and forgets for every active user. Per-user failures are
// logged and skipped; the advisory lock keeps concurrent instances from
// working the same user twice.
func (s *Scheduler) Sweep(ctx context.Context) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		s.logger.Error("active user listing failed", zap.Error(err))
		return
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			s.logger.Warn("maintenance sweep interrupted", zap.Error(ctx.Err()))
			return
		}
		if err := s.sweepUser(ctx, userID); err != nil {
			s.logger.Error("user maintenance failed",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

func (s *Scheduler) sweepUser(ctx context.Context, userID uuid.UUID) error {
	return s.users.WithUserLock(ctx, userID, func(ctx context.Context) error {
		res, err := s.upkeep.Consolidate(ctx, userID)
		if err != nil {
			return err
		}
		forgotten, err := s.upkeep.Forget(ctx, userID)
		if err != nil {
			return err
		}
		if res.SummariesCreated > 0 || forgotten > 0 {
			s.logger.Info("maintenance pass",
				zap.String("user_id", userID.String()),
				zap.Int("consolidated", res.Consolidated),
				zap.Int("summaries", res.SummariesCreated),
				zap.Int64("forgotten", forgotten),
			)
		}
		metrics.MaintenanceSweeps.Inc()
		return nil
	})
}
