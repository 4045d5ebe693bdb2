package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubSubscribeAndNotify(t *testing.T) {
	h := newHub(setupTestLogger())

	var got []QueueState
	unsubscribe := h.Subscribe(func(s QueueState) {
		got = append(got, s)
	})

	h.Notify(QueueState{Pending: 3, seq: 1})
	h.Notify(QueueState{Pending: 2, seq: 2})

	assert.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Pending)
	assert.Equal(t, 2, got[1].Pending)

	unsubscribe()
	h.Notify(QueueState{Pending: 1, seq: 3})
	assert.Len(t, got, 2, "unsubscribed listener must not be called")
}

func TestHubIsolatesPanickingListener(t *testing.T) {
	h := newHub(setupTestLogger())

	calls := 0
	h.Subscribe(func(QueueState) { panic("listener bug") })
	h.Subscribe(func(QueueState) { calls++ })

	assert.NotPanics(t, func() {
		h.Notify(QueueState{Pending: 1, seq: 1})
	})
	assert.Equal(t, 1, calls, "healthy listener still runs")
}

func TestHubDropsSnapshotsOlderThanDelivered(t *testing.T) {
	h := newHub(setupTestLogger())

	var got []int
	h.Subscribe(func(s QueueState) {
		got = append(got, s.Pending)
	})

	// A snapshot arriving after a newer one was already delivered is
	// dropped, so observers never see state rewind.
	h.Notify(QueueState{Pending: 1, seq: 2})
	h.Notify(QueueState{Pending: 2, seq: 1})
	h.Notify(QueueState{Pending: 0, seq: 3})

	assert.Equal(t, []int{1, 0}, got)
}

func TestHubDeliversReentrantNotifyInOrder(t *testing.T) {
	h := newHub(setupTestLogger())

	var got []uint64
	h.Subscribe(func(s QueueState) {
		got = append(got, s.seq)
		if s.seq == 1 {
			h.Notify(QueueState{seq: 2})
		}
	})

	h.Notify(QueueState{seq: 1})

	assert.Equal(t, []uint64{1, 2}, got, "re-entrant notify delivers after the outer one")
}
