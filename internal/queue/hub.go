package queue

import (
	"log/slog"
	"sync"
)

// QueueState is the aggregate snapshot handed to subscribers and returned
// by State().
type QueueState struct {
	Pending           int            `json:"pending"`
	Ready             int            `json:"ready"`
	Failed            int            `json:"failed"`
	Completed         int            `json:"completed"`
	PriorityBreakdown map[string]int `json:"priority_breakdown"`
	Quality           string         `json:"connection_quality"`
	MemoryPressure    string         `json:"memory_pressure"`

	// seq orders snapshots as they were captured under the queue mutex;
	// the hub uses it to keep deliveries monotonic.
	seq uint64
}

// Listener receives the aggregate state after every operation transition.
type Listener func(QueueState)

// hub fans queue state changes out to subscribers. Listeners are invoked
// synchronously; a panicking listener is isolated and logged so it cannot
// abort the drain loop or starve other listeners. Concurrent settles
// publish through a backlog drained by whichever caller holds the
// delivering flag, so snapshots arrive in capture order and a snapshot
// older than one already delivered is dropped rather than rewinding
// observers.
type hub struct {
	mu         sync.Mutex
	listeners  map[int]Listener
	nextID     int
	backlog    []QueueState
	delivering bool
	delivered  uint64
	logger     *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		listeners: make(map[int]Listener),
		logger:    logger.With("component", "notification_hub"),
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (h *hub) Subscribe(fn Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Notify delivers the state to every subscriber. Re-entrant calls from a
// listener enqueue and return; the outer frame delivers them.
func (h *hub) Notify(state QueueState) {
	h.mu.Lock()
	h.backlog = append(h.backlog, state)
	if h.delivering {
		h.mu.Unlock()
		return
	}
	h.delivering = true

	for len(h.backlog) > 0 {
		next := h.backlog[0]
		h.backlog = h.backlog[1:]
		if next.seq <= h.delivered {
			continue
		}
		h.delivered = next.seq

		listeners := make([]Listener, 0, len(h.listeners))
		for _, fn := range h.listeners {
			listeners = append(listeners, fn)
		}
		h.mu.Unlock()

		for _, fn := range listeners {
			h.notifyOne(fn, next)
		}
		h.mu.Lock()
	}

	h.delivering = false
	h.mu.Unlock()
}

func (h *hub) notifyOne(fn Listener, state QueueState) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("queue listener panicked", "panic", r)
		}
	}()
	fn(state)
}
