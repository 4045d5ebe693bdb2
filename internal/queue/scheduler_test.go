package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOp(priority Priority, createdOffset time.Duration) *Operation {
	created := testEpoch.Add(createdOffset)
	return &Operation{
		ID:             uuid.New(),
		Kind:           "database",
		Label:          "upsert_card",
		Priority:       priority,
		MaxAttempts:    3,
		NextEligibleAt: created,
		CreatedAt:      created,
	}
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	s := newScheduler()

	a := newTestOp(PriorityNormal, 0)
	b := newTestOp(PriorityHigh, 1*time.Second)
	c := newTestOp(PriorityNormal, 2*time.Second)
	s.Insert(a)
	s.Insert(b)
	s.Insert(c)

	ready := s.PeekReady(testEpoch.Add(time.Minute), 0)
	require.Len(t, ready, 3)
	assert.Equal(t, b.ID, ready[0].ID, "high priority first")
	assert.Equal(t, a.ID, ready[1].ID, "older normal before newer normal")
	assert.Equal(t, c.ID, ready[2].ID)
}

func TestSchedulerEqualPriorityCreationOrder(t *testing.T) {
	s := newScheduler()

	first := newTestOp(PriorityLow, 0)
	second := newTestOp(PriorityLow, 1*time.Second)
	third := newTestOp(PriorityLow, 2*time.Second)

	// Insert out of order; creation time must still win.
	s.Insert(second)
	s.Insert(third)
	s.Insert(first)

	ready := s.PeekReady(testEpoch.Add(time.Minute), 0)
	require.Len(t, ready, 3)
	assert.Equal(t, first.ID, ready[0].ID)
	assert.Equal(t, second.ID, ready[1].ID)
	assert.Equal(t, third.ID, ready[2].ID)
}

func TestSchedulerImmediateAndUserInitiatedGoFirst(t *testing.T) {
	s := newScheduler()

	normal := newTestOp(PriorityNormal, 0)
	immediate := newTestOp(PriorityImmediate, 1*time.Second)
	userInitiated := newTestOp(PriorityLow, 2*time.Second)
	userInitiated.UserInitiated = true

	s.Insert(normal)
	s.Insert(immediate)
	s.Insert(userInitiated)

	ready := s.PeekReady(testEpoch.Add(time.Minute), 0)
	require.Len(t, ready, 3)
	assert.Equal(t, userInitiated.ID, ready[0].ID)
	assert.Equal(t, immediate.ID, ready[1].ID)
	assert.Equal(t, normal.ID, ready[2].ID)
}

func TestSchedulerPeekReadyRespectsEligibilityAndAttempts(t *testing.T) {
	s := newScheduler()

	ready := newTestOp(PriorityNormal, 0)
	future := newTestOp(PriorityHigh, 0)
	future.NextEligibleAt = testEpoch.Add(1 * time.Hour)
	exhausted := newTestOp(PriorityHigh, 0)
	exhausted.Attempts = exhausted.MaxAttempts

	s.Insert(ready)
	s.Insert(future)
	s.Insert(exhausted)

	got := s.PeekReady(testEpoch.Add(time.Minute), 0)
	require.Len(t, got, 1)
	assert.Equal(t, ready.ID, got[0].ID)
}

func TestSchedulerPeekReadyBatchCap(t *testing.T) {
	s := newScheduler()
	for i := 0; i < 10; i++ {
		s.Insert(newTestOp(PriorityNormal, time.Duration(i)*time.Second))
	}

	assert.Len(t, s.PeekReady(testEpoch.Add(time.Minute), 5), 5)
	assert.Len(t, s.PeekReady(testEpoch.Add(time.Minute), 0), 10)
}

func TestSchedulerPromote(t *testing.T) {
	s := newScheduler()

	low := newTestOp(PriorityLow, 0)
	normal := newTestOp(PriorityNormal, 1*time.Second)
	s.Insert(low)
	s.Insert(normal)

	require.True(t, s.Promote(low.ID))
	assert.Equal(t, PriorityNormal, low.Priority)

	// Promoted op is older, so it sorts ahead of the other normal op.
	ready := s.PeekReady(testEpoch.Add(time.Minute), 0)
	assert.Equal(t, low.ID, ready[0].ID)

	// Promotion is a no-op at the top level or for unknown ids.
	top := newTestOp(PriorityImmediate, 0)
	s.Insert(top)
	assert.False(t, s.Promote(top.ID))
	assert.False(t, s.Promote(uuid.New()))
}

func TestSchedulerRemove(t *testing.T) {
	s := newScheduler()
	op := newTestOp(PriorityNormal, 0)
	s.Insert(op)

	assert.True(t, s.Remove(op.ID))
	assert.False(t, s.Remove(op.ID))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerCorrelationGroups(t *testing.T) {
	s := newScheduler()

	a := newTestOp(PriorityNormal, 0)
	a.CorrelationID = "sync-batch-7"
	b := newTestOp(PriorityNormal, 1*time.Second)
	b.CorrelationID = "sync-batch-7"
	other := newTestOp(PriorityNormal, 2*time.Second)
	other.CorrelationID = "sync-batch-8"

	s.Insert(a)
	s.Insert(b)
	s.Insert(other)

	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, s.Group("sync-batch-7"))

	require.True(t, s.Remove(a.ID))
	assert.ElementsMatch(t, []uuid.UUID{b.ID}, s.Group("sync-batch-7"))

	require.True(t, s.Remove(b.ID))
	assert.Empty(t, s.Group("sync-batch-7"))
	assert.ElementsMatch(t, []uuid.UUID{other.ID}, s.Group("sync-batch-8"))
}

func TestSchedulerOldestShedable(t *testing.T) {
	s := newScheduler()

	oldest := newTestOp(PriorityBackground, 0)
	newer := newTestOp(PriorityLow, 1*time.Second)
	protectedHigh := newTestOp(PriorityHigh, -1*time.Hour)
	protectedUser := newTestOp(PriorityLow, -1*time.Hour)
	protectedUser.UserInitiated = true

	s.Insert(oldest)
	s.Insert(newer)
	s.Insert(protectedHigh)
	s.Insert(protectedUser)

	got := s.OldestShedable(nil)
	require.NotNil(t, got)
	assert.Equal(t, oldest.ID, got.ID)

	// In-flight operations are skipped.
	got = s.OldestShedable(map[uuid.UUID]bool{oldest.ID: true})
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	assert.Equal(t, 2, s.CountShedable())
}
