package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders operations within the queue. Higher values are
// scheduled before lower ones; ties break on CreatedAt (older first).
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

// String returns the human-readable priority name used in state
// breakdowns and logs.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// Promoted returns the priority one level above p, capped at immediate.
func (p Priority) Promoted() Priority {
	if p >= PriorityImmediate {
		return PriorityImmediate
	}
	return p + 1
}

// Demoted returns the priority one level below p, floored at background.
func (p Priority) Demoted() Priority {
	if p <= PriorityBackground {
		return PriorityBackground
	}
	return p - 1
}

// Operation is a queued unit of work awaiting execution. The queue never
// inspects Payload; it is handed opaquely to the executor.
type Operation struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Label          string          `json:"label"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       Priority        `json:"priority"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
	CreatedAt      time.Time       `json:"created_at"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	UserInitiated  bool            `json:"user_initiated,omitempty"`

	// Terminal callbacks are registered at enqueue time and fire exactly
	// once. They are not persisted; restored operations report outcomes
	// only through ResultFor.
	onSuccess func(Result)
	onFailure func(Result)
}

// Ready reports whether the operation may be attempted at the given time.
func (o *Operation) Ready(now time.Time) bool {
	return !o.NextEligibleAt.After(now) && o.Attempts < o.MaxAttempts
}

// Result is the terminal outcome of an operation as reported by the
// executor. Data and Err are opaque to the queue. Permanent marks a
// failure that must not be retried regardless of remaining attempts.
type Result struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Err       string          `json:"error,omitempty"`
	Permanent bool            `json:"permanent,omitempty"`
}

// EnqueueRequest carries the caller-supplied fields for a new operation.
type EnqueueRequest struct {
	Kind          string
	Label         string
	Payload       json.RawMessage
	Priority      Priority
	MaxAttempts   int
	CorrelationID string
	UserInitiated bool
	OnSuccess     func(Result)
	OnFailure     func(Result)
}
