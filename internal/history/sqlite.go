package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airfuse/airfuse/internal/types"
	_ "modernc.org/sqlite"
)

const createHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS hourly_history (
	location_id TEXT NOT NULL,
	hour_ts     INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (location_id, hour_ts)
)`

// SQLiteStore persists the history in a local SQLite database. It is
// the default backend: cheap, durable across restarts, and safe for the
// single-writer access pattern the scheduler guarantees.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if _, err := db.Exec(createHistoryTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store. The primary key makes the write idempotent
// per hour; rows that age out of the retention window are pruned on the
// same round trip.
func (s *SQLiteStore) Append(ctx context.Context, locationID string, entry types.HourlyEntry) error {
	hour := entry.Hour.UTC().Truncate(time.Hour)
	payload, err := json.Marshal(entry.Pollutants)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hourly_history (location_id, hour_ts, payload) VALUES (?, ?, ?)
		 ON CONFLICT(location_id, hour_ts) DO UPDATE SET payload = excluded.payload`,
		locationID, hour.Unix(), string(payload))
	if err != nil {
		return fmt.Errorf("writing history entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM hourly_history WHERE location_id = ? AND hour_ts NOT IN (
			SELECT hour_ts FROM hourly_history WHERE location_id = ?
			ORDER BY hour_ts DESC LIMIT ?)`,
		locationID, locationID, MaxEntries)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, locationID string) ([]types.HourlyEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour_ts, payload FROM hourly_history
		 WHERE location_id = ? ORDER BY hour_ts DESC LIMIT ?`,
		locationID, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var entries []types.HourlyEntry
	for rows.Next() {
		var ts int64
		var payload string
		if err := rows.Scan(&ts, &payload); err != nil {
			return nil, err
		}
		entry := types.HourlyEntry{Hour: time.Unix(ts, 0).UTC()}
		if err := json.Unmarshal([]byte(payload), &entry.Pollutants); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
