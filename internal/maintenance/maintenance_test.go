package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/memory"
)

type fakeUsers struct {
	mu     sync.Mutex
	users  []uuid.UUID
	locked []uuid.UUID
}

func (f *fakeUsers) ListActiveUsers(context.Context) ([]uuid.UUID, error) {
	return f.users, nil
}

func (f *fakeUsers) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.locked = append(f.locked, userID)
	f.mu.Unlock()
	return fn(ctx)
}

type fakeUpkeep struct {
	mu             sync.Mutex
	consolidateErr map[uuid.UUID]error
	consolidated   []uuid.UUID
	forgotten      []uuid.UUID
}

func (f *fakeUpkeep) Consolidate(_ context.Context, userID uuid.UUID) (memory.ConsolidationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consolidateErr[userID]; err != nil {
		return memory.ConsolidationResult{}, err
	}
	f.consolidated = append(f.consolidated, userID)
	return memory.ConsolidationResult{SummariesCreated: 1, Consolidated: 3}, nil
}

func (f *fakeUpkeep) Forget(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, userID)
	return 2, nil
}

func TestSweepVisitsEveryUserUnderLock(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	users := &fakeUsers{users: []uuid.UUID{u1, u2}}
	upkeep := &fakeUpkeep{}
	s := NewScheduler(users, upkeep, "", zap.NewNop())

	s.Sweep(context.Background())

	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, users.locked)
	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, upkeep.consolidated)
	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, upkeep.forgotten)
}

func TestSweepIsolatesPerUserFailures(t *testing.T) {
	bad, good := uuid.New(), uuid.New()
	users := &fakeUsers{users: []uuid.UUID{bad, good}}
	upkeep := &fakeUpkeep{consolidateErr: map[uuid.UUID]error{bad: errors.New("boom")}}
	s := NewScheduler(users, upkeep, "", zap.NewNop())

	s.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{good}, upkeep.consolidated)
	// the failing user's forget step is skipped, the next user's still runs
	assert.Equal(t, []uuid.UUID{good}, upkeep.forgotten)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	users := &fakeUsers{users: []uuid.UUID{uuid.New(), uuid.New()}}
	upkeep := &fakeUpkeep{}
	s := NewScheduler(users, upkeep, "", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sweep(ctx)

	assert.Empty(t, upkeep.consolidated)
}

func TestSchedulerDefaultSpec(t *testing.T) {
	s := NewScheduler(&fakeUsers{}, &fakeUpkeep{}, "", zap.NewNop())
	assert.Equal(t, "0 3 * * *", s.spec)
}
