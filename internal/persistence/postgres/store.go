// Package postgres persists diary snapshots as one jsonb document per key.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/diary/internal/domain"
)

// Store provides Postgres-backed snapshot persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load fetches the snapshot for the key. The second return value reports
// whether a document exists.
func (s *Store) Load(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	const query = `SELECT document FROM diary_snapshots WHERE diary_key=$1`

	var raw []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snapshot, true, nil
}

// Save upserts the full snapshot document. Last writer wins.
func (s *Store) Save(ctx context.Context, key string, snapshot domain.Snapshot) error {
	document, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	const stmt = `INSERT INTO diary_snapshots (diary_key, document, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (diary_key) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, stmt, key, document, time.Now().UTC()); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}
