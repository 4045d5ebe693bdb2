package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// BlobStore is the durable key-value primitive the queue persists into.
// A missing key returns (nil, nil). The queue owns its namespace key
// exclusively; nothing else reads or writes it.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// snapshotBlob is the persisted form of the queue: the live pending
// operations plus the bounded window of terminal outcomes.
type snapshotBlob struct {
	Pending  []*Operation         `json:"pending"`
	Outcomes map[uuid.UUID]Result `json:"outcomes"`
}

// persister serializes queue state to a BlobStore and restores it at
// startup. Restore fails open: corrupt or missing data yields an empty
// queue, never a startup failure.
type persister struct {
	store     BlobStore
	namespace string
	logger    *slog.Logger
}

func newPersister(store BlobStore, namespace string, logger *slog.Logger) *persister {
	return &persister{
		store:     store,
		namespace: namespace,
		logger:    logger.With("component", "queue_persister"),
	}
}

// Snapshot writes the current pending queue and outcome window. Called
// after every state-changing event; persistence errors are logged, not
// propagated, so a flaky store cannot wedge the drain loop.
func (p *persister) Snapshot(ctx context.Context, pending []*Operation, outcomes map[uuid.UUID]Result) {
	if p.store == nil {
		return
	}

	blob, err := json.Marshal(snapshotBlob{Pending: pending, Outcomes: outcomes})
	if err != nil {
		p.logger.Error("failed to serialize queue snapshot", "error", err)
		return
	}

	if err := p.store.Put(ctx, p.namespace, blob); err != nil {
		p.logger.Error("failed to persist queue snapshot",
			"namespace", p.namespace,
			"error", err)
	}
}

// Restore loads the last snapshot. On any failure it returns an empty
// state and logs the cause.
func (p *persister) Restore(ctx context.Context) ([]*Operation, map[uuid.UUID]Result) {
	empty := map[uuid.UUID]Result{}
	if p.store == nil {
		return nil, empty
	}

	blob, err := p.store.Get(ctx, p.namespace)
	if err != nil {
		p.logger.Error("failed to read queue snapshot, starting empty",
			"namespace", p.namespace,
			"error", err)
		return nil, empty
	}
	if len(blob) == 0 {
		return nil, empty
	}

	var snap snapshotBlob
	if err := json.Unmarshal(blob, &snap); err != nil {
		p.logger.Error("corrupt queue snapshot, starting empty",
			"namespace", p.namespace,
			"error", fmt.Errorf("failed to decode snapshot: %w", err))
		return nil, empty
	}

	if snap.Outcomes == nil {
		snap.Outcomes = map[uuid.UUID]Result{}
	}
	p.logger.Info("restored queue snapshot",
		"pending_count", len(snap.Pending),
		"outcome_count", len(snap.Outcomes))
	return snap.Pending, snap.Outcomes
}
