package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/opqueue/internal/queue"
)

// DBTX abstracts the database access layer. Both *sql.DB and *sql.Tx
// satisfy it, so the executor works inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlPayload is the wire shape of a "database" operation's payload.
// The queue itself never decodes it; only this executor does.
type sqlPayload struct {
	Statement string `json:"statement"`
	Args      []any  `json:"args,omitempty"`
}

// SQL executes "database" operations: the payload carries a statement
// and its arguments, applied through a DBTX. A payload that cannot be
// decoded is a permanent failure; statement errors are transient and
// left to the queue's retry policy.
type SQL struct {
	db     DBTX
	logger *slog.Logger
}

// NewSQL creates a SQL executor over the given database handle.
func NewSQL(db DBTX, logger *slog.Logger) *SQL {
	return &SQL{
		db:     db,
		logger: logger.With("component", "sql_executor"),
	}
}

// Execute applies the payload's statement. Label names the mutation for
// logging only.
func (e *SQL) Execute(ctx context.Context, kind, label string, payload json.RawMessage) (queue.Result, error) {
	var p sqlPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.Result{
			Success:   false,
			Err:       fmt.Sprintf("malformed database payload: %v", err),
			Permanent: true,
		}, nil
	}
	if p.Statement == "" {
		return queue.Result{
			Success:   false,
			Err:       "database payload has no statement",
			Permanent: true,
		}, nil
	}

	res, err := e.db.ExecContext(ctx, p.Statement, p.Args...)
	if err != nil {
		return queue.Result{}, fmt.Errorf("failed to apply %q: %w", label, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		// Driver cannot report the count; the statement still applied.
		rows = 0
	}

	e.logger.Debug("database operation applied",
		"label", label,
		"rows_affected", rows)

	data, err := json.Marshal(map[string]int64{"rows_affected": rows})
	if err != nil {
		return queue.Result{Success: true}, nil
	}
	return queue.Result{Success: true, Data: data}, nil
}
