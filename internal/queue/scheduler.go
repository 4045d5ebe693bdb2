package queue

import (
	"time"

	"github.com/google/uuid"
)

// scheduler holds pending operations in priority order. It is not safe
// for concurrent use; the owning Queue serializes all access under its
// mutex, so the drain loop and the public API never interleave reads of
// the ready set with inserts.
type scheduler struct {
	ops []*Operation

	// byCorrelation tracks group membership for query/promote/cancel.
	// Grouping never affects execution order.
	byCorrelation map[string][]uuid.UUID
}

func newScheduler() *scheduler {
	return &scheduler{
		ops:           make([]*Operation, 0),
		byCorrelation: make(map[string][]uuid.UUID),
	}
}

// Insert places op before the first element of strictly lower priority,
// keeping creation order among equals so re-inserted retries return to
// their original position within the band. Immediate-priority and
// user-initiated operations go to the front.
func (s *scheduler) Insert(op *Operation) {
	if op.CorrelationID != "" && !s.inGroup(op.CorrelationID, op.ID) {
		s.byCorrelation[op.CorrelationID] = append(s.byCorrelation[op.CorrelationID], op.ID)
	}

	if op.Priority == PriorityImmediate || op.UserInitiated {
		s.ops = append([]*Operation{op}, s.ops...)
		return
	}

	pos := len(s.ops)
	for i, existing := range s.ops {
		if existing.Priority < op.Priority ||
			(existing.Priority == op.Priority && existing.CreatedAt.After(op.CreatedAt)) {
			pos = i
			break
		}
	}
	s.ops = append(s.ops, nil)
	copy(s.ops[pos+1:], s.ops[pos:])
	s.ops[pos] = op
}

// PeekReady returns, without removing, up to max operations whose
// NextEligibleAt has passed and whose attempts are not exhausted, in
// queue order. max <= 0 means no cap.
func (s *scheduler) PeekReady(now time.Time, max int) []*Operation {
	ready := make([]*Operation, 0, len(s.ops))
	for _, op := range s.ops {
		if !op.Ready(now) {
			continue
		}
		ready = append(ready, op)
		if max > 0 && len(ready) >= max {
			break
		}
	}
	return ready
}

// Remove deletes the operation with the given id and drops it from its
// correlation group. Returns false if the id is not queued.
func (s *scheduler) Remove(id uuid.UUID) bool {
	for i, op := range s.ops {
		if op.ID != id {
			continue
		}
		s.ops = append(s.ops[:i], s.ops[i+1:]...)
		if op.CorrelationID != "" {
			s.dropFromGroup(op.CorrelationID, id)
		}
		return true
	}
	return false
}

// Promote raises the operation's priority one level and re-inserts it so
// ordering invariants hold. No-op when already at immediate or not found.
func (s *scheduler) Promote(id uuid.UUID) bool {
	op := s.Get(id)
	if op == nil || op.Priority == PriorityImmediate {
		return false
	}
	s.Remove(id)
	op.Priority = op.Priority.Promoted()
	s.Insert(op)
	return true
}

// Get returns the queued operation with the given id, or nil.
func (s *scheduler) Get(id uuid.UUID) *Operation {
	for _, op := range s.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Group returns the ids currently queued under the correlation key.
func (s *scheduler) Group(correlationID string) []uuid.UUID {
	ids := s.byCorrelation[correlationID]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// Len reports the number of queued operations.
func (s *scheduler) Len() int {
	return len(s.ops)
}

// All returns the queued operations in order. The slice is shared; the
// caller must not mutate it outside the Queue's lock.
func (s *scheduler) All() []*Operation {
	return s.ops
}

// OldestShedable returns the oldest queued operation at or below normal
// priority that is not user-initiated, skipping the given ids. Used by
// the admission controller to make room under memory pressure.
func (s *scheduler) OldestShedable(skip map[uuid.UUID]bool) *Operation {
	var oldest *Operation
	for _, op := range s.ops {
		if op.Priority > PriorityNormal || op.UserInitiated || skip[op.ID] {
			continue
		}
		if oldest == nil || op.CreatedAt.Before(oldest.CreatedAt) {
			oldest = op
		}
	}
	return oldest
}

// CountShedable reports how many queued operations are at or below
// normal priority and not user-initiated.
func (s *scheduler) CountShedable() int {
	n := 0
	for _, op := range s.ops {
		if op.Priority <= PriorityNormal && !op.UserInitiated {
			n++
		}
	}
	return n
}

func (s *scheduler) inGroup(correlationID string, id uuid.UUID) bool {
	for _, existing := range s.byCorrelation[correlationID] {
		if existing == id {
			return true
		}
	}
	return false
}

func (s *scheduler) dropFromGroup(correlationID string, id uuid.UUID) {
	ids := s.byCorrelation[correlationID]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byCorrelation, correlationID)
	} else {
		s.byCorrelation[correlationID] = ids
	}
}
