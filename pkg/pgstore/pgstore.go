// Package pgstore is an optional, external disaster-recovery sink for
// consensus snapshots, backed by github.com/jackc/pgx/v5's pool. It is not
// part of the consensus core - pkg/rabia/persistence is what the engine
// touches on every Dormant transition - this is a place an operator can
// archive snapshots to, outside the hot path.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

const defaultTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS rabia_snapshots (
	node_id TEXT NOT NULL,
	phase   BIGINT NOT NULL,
	payload BYTEA NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (node_id, phase)
);
`

// Store implements types.SnapshotSink against a Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

var _ types.SnapshotSink = (*Store)(nil)

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveSnapshot archives snapshot for node at phase, idempotently - a retry
// of the same (node, phase) pair overwrites rather than duplicating.
func (s *Store) SaveSnapshot(node types.NodeId, phase types.Phase, snapshot []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rabia_snapshots (node_id, phase, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (node_id, phase) DO UPDATE SET payload = EXCLUDED.payload, taken_at = now()
	`, string(node), int64(phase), snapshot)
	if err != nil {
		return fmt.Errorf("pgstore: save snapshot for %s@%d: %w", node, phase, err)
	}
	return nil
}

// LoadLatestSnapshot returns the highest-phase snapshot archived for node.
func (s *Store) LoadLatestSnapshot(node types.NodeId) (types.Phase, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT phase, payload FROM rabia_snapshots
		WHERE node_id = $1
		ORDER BY phase DESC
		LIMIT 1
	`, string(node))

	var phase int64
	var payload []byte
	if err := row.Scan(&phase, &payload); err != nil {
		return 0, nil, fmt.Errorf("pgstore: load latest snapshot for %s: %w", node, err)
	}
	return types.Phase(phase), payload, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
