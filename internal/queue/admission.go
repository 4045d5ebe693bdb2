package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/opqueue/internal/pressure"
)

// AdmissionConfig holds the tunables for admission control. The cap and
// TTL are empirically chosen defaults, not correctness constants.
type AdmissionConfig struct {
	// LowPriorityCap bounds how many operations at or below normal
	// priority may sit in the queue under high memory pressure before
	// the oldest one is evicted to make room.
	LowPriorityCap int `mapstructure:"low_priority_cap"`

	// PendingTTL is the age past which pending operations that are not
	// high-priority or user-initiated are swept from the queue.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`

	// SweepInterval is how often the TTL sweep runs. Sweeps also fire on
	// memory-pressure transitions.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultAdmissionConfig returns an AdmissionConfig with reasonable
// defaults.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		LowPriorityCap: 50,
		PendingTTL:     5 * time.Minute,
		SweepInterval:  2 * time.Minute,
	}
}

// admission decides whether operations may enter or remain in the queue
// under resource pressure. Like the scheduler, it runs under the Queue's
// lock and holds no locking of its own.
type admission struct {
	config AdmissionConfig
}

func newAdmission(config AdmissionConfig) *admission {
	if config.LowPriorityCap <= 0 {
		config.LowPriorityCap = DefaultAdmissionConfig().LowPriorityCap
	}
	if config.PendingTTL <= 0 {
		config.PendingTTL = DefaultAdmissionConfig().PendingTTL
	}
	return &admission{config: config}
}

// ShouldAdmit reports whether op may enter the queue given the current
// pressure state. Under high memory pressure only immediate/high priority
// or user-initiated operations are admitted.
func (a *admission) ShouldAdmit(op *Operation, st pressure.State) bool {
	if st.Memory != pressure.LevelHigh {
		return true
	}
	return op.Priority >= PriorityHigh || op.UserInitiated
}

// Evictable returns the operation to evict before admitting another one
// under high memory pressure, or nil when the queue is within its cap.
// Eviction picks the single oldest shedable operation, not the queue
// head. Operations currently in flight are never evicted.
func (a *admission) Evictable(s *scheduler, st pressure.State, inFlight map[uuid.UUID]bool) *Operation {
	if st.Memory != pressure.LevelHigh {
		return nil
	}
	if s.CountShedable() <= a.config.LowPriorityCap {
		return nil
	}
	return s.OldestShedable(inFlight)
}

// Expired returns the pending operations older than the TTL that are not
// high-priority, user-initiated, or in flight. The caller removes and
// finalizes them.
func (a *admission) Expired(s *scheduler, now time.Time, inFlight map[uuid.UUID]bool) []*Operation {
	cutoff := now.Add(-a.config.PendingTTL)
	var expired []*Operation
	for _, op := range s.All() {
		if op.Priority >= PriorityHigh || op.UserInitiated || inFlight[op.ID] {
			continue
		}
		if op.CreatedAt.Before(cutoff) {
			expired = append(expired, op)
		}
	}
	return expired
}
