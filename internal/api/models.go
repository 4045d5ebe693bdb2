package api

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/opqueue/internal/queue"
)

// EnqueueOperationRequest is the request body for enqueuing an operation.
type EnqueueOperationRequest struct {
	Kind          string          `json:"kind"           validate:"required"`
	Label         string          `json:"label"`
	Payload       json.RawMessage `json:"payload"`
	Priority      string          `json:"priority"       validate:"omitempty,oneof=background low normal high immediate"`
	MaxAttempts   int             `json:"max_attempts"   validate:"omitempty,gt=0"`
	CorrelationID string          `json:"correlation_id"`
	UserInitiated bool            `json:"user_initiated"`
}

// EnqueueOperationResponse carries the id of an admitted operation.
type EnqueueOperationResponse struct {
	ID string `json:"id"`
}

// GroupActionResponse reports how many operations a group action touched.
type GroupActionResponse struct {
	Affected int `json:"affected"`
}

// parsePriority maps the wire name to a queue priority. An empty string
// defaults to normal.
func parsePriority(s string) (queue.Priority, error) {
	switch s {
	case "":
		return queue.PriorityNormal, nil
	case "background":
		return queue.PriorityBackground, nil
	case "low":
		return queue.PriorityLow, nil
	case "normal":
		return queue.PriorityNormal, nil
	case "high":
		return queue.PriorityHigh, nil
	case "immediate":
		return queue.PriorityImmediate, nil
	default:
		return queue.PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}
