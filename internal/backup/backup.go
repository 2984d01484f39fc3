// Package backup is the local spill store for vacancy results: when the
// primary database is unreachable mid-run, checked parcels land in a local
// SQLite file instead of being re-checked (and re-billed against the hourly
// quota) next run. Replay pushes them to Postgres after recovery.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // database/sql driver
)

const schema = `
CREATE TABLE IF NOT EXISTS vacancy_spill (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	saved_at   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	replayed   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_vacancy_spill_replayed ON vacancy_spill(replayed);
`

// Spill is the SQLite-backed spill store.
type Spill struct {
	db *sql.DB
}

// Open opens (creating if needed) the spill database at path.
func Open(path string) (*Spill, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "backup: open")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "backup: migrate")
	}
	return &Spill{db: db}, nil
}

// Close releases the database handle.
func (s *Spill) Close() error {
	return eris.Wrap(s.db.Close(), "backup: close")
}

// Save appends a batch of results as JSON rows.
func Save[T any](ctx context.Context, s *Spill, results []T) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "backup: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "backup: marshal")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vacancy_spill (saved_at, payload) VALUES (?, ?)`,
			now, string(payload),
		); err != nil {
			return eris.Wrap(err, "backup: insert")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "backup: commit")
	}
	zap.L().Info("vacancy results spilled", zap.Int("count", len(results)))
	return nil
}

// Pending loads all unreplayed rows, decoded into T, along with their ids.
func Pending[T any](ctx context.Context, s *Spill) ([]T, []int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM vacancy_spill WHERE replayed = 0 ORDER BY id`)
	if err != nil {
		return nil, nil, eris.Wrap(err, "backup: select pending")
	}
	defer rows.Close() //nolint:errcheck

	var out []T
	var ids []int64
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, eris.Wrap(err, "backup: scan pending")
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, nil, eris.Wrap(err, "backup: unmarshal pending")
		}
		out = append(out, v)
		ids = append(ids, id)
	}
	return out, ids, eris.Wrap(rows.Err(), "backup: pending iterate")
}

// MarkReplayed flags rows as pushed to the primary store.
func (s *Spill) MarkReplayed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "backup: begin mark")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vacancy_spill SET replayed = 1 WHERE id = ?`, id,
		); err != nil {
			return eris.Wrap(err, "backup: mark replayed")
		}
	}
	return eris.Wrap(tx.Commit(), "backup: commit mark")
}
