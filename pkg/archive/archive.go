package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	request    JSONB NOT NULL,
	server_id  TEXT,
	result     JSONB,
	error      TEXT,
	retries    INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Archive mirrors task transitions into a Postgres table for external
// querying. It is write-only from the gateway's perspective: nothing in
// the core ever reads it back. A nil *Archive is valid and every method
// no-ops, so callers never branch on whether archival is configured.
type Archive struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and ensures the tasks table exists.
func New(ctx context.Context, connString string) (*Archive, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Archive{pool: pool}, nil
}

// RecordTask upserts the task's current row. Failures are logged and
// swallowed; archival never affects task state.
func (a *Archive) RecordTask(ctx context.Context, t *types.Task) {
	if a == nil {
		return
	}

	query := `
		INSERT INTO tasks (id, status, request, server_id, result, error, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			server_id  = EXCLUDED.server_id,
			result     = EXCLUDED.result,
			error      = EXCLUDED.error,
			retries    = EXCLUDED.retries,
			updated_at = EXCLUDED.updated_at
	`

	var result interface{}
	if len(t.Result) > 0 {
		result = []byte(t.Result)
	}
	request := []byte("{}")
	if reqJSON, err := encodeRequest(&t.Request); err == nil {
		request = reqJSON
	}

	_, err := a.pool.Exec(ctx, query,
		t.ID, string(t.Status), request, nullable(t.ServerID), result,
		nullable(t.Error), len(t.Attempts), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		logger := log.WithComponent("archive")
		logger.Warn().
			Err(err).
			Str("task_id", t.ID).
			Msg("failed to archive task")
		metrics.UpdateComponent("archive", false, err.Error())
		return
	}
	metrics.UpdateComponent("archive", true, "")
}

// Close releases the connection pool.
func (a *Archive) Close() {
	if a == nil {
		return
	}
	a.pool.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
