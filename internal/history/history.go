// Package history keeps the rolling per-location hourly record the EPA
// averaging windows are built from. The backend is pluggable; every
// backend upholds the same contract: reads return at most 25 entries
// ordered newest first, and a second write for the same hour replaces
// the first.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/types"
)

// MaxEntries is the retention depth: the EPA windows need at most 24
// hours plus a one-hour buffer.
const MaxEntries = 25

// Store is the rolling hourly history contract.
type Store interface {
	// Append records the entry for its hour, replacing any previous
	// entry for the same hour (last write wins).
	Append(ctx context.Context, locationID string, entry types.HourlyEntry) error
	// Load returns the location's entries newest first, at most
	// MaxEntries of them.
	Load(ctx context.Context, locationID string) ([]types.HourlyEntry, error)
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend string // "memory", "sqlite", "file", or "s3"
	Path    string // sqlite database file, or snapshot directory
	Bucket  string // s3 backend
	S3      BlobAPI
}

// New builds the configured store.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "file":
		return NewFileStore(cfg.Path)
	case "s3":
		if cfg.S3 == nil || cfg.Bucket == "" {
			return nil, fmt.Errorf("history: s3 backend needs a client and bucket")
		}
		return NewS3Store(cfg.S3, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
	}
}

// merge inserts an entry into a list, deduplicating on the hour,
// re-sorting newest first, and truncating to MaxEntries.
func merge(entries []types.HourlyEntry, entry types.HourlyEntry) []types.HourlyEntry {
	entry.Hour = entry.Hour.UTC().Truncate(time.Hour)

	out := make([]types.HourlyEntry, 0, len(entries)+1)
	for _, e := range entries {
		if !e.Hour.UTC().Truncate(time.Hour).Equal(entry.Hour) {
			out = append(out, e)
		}
	}
	out = append(out, entry)
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.After(out[j].Hour) })
	if len(out) > MaxEntries {
		out = out[:MaxEntries]
	}
	return out
}

// MemoryStore keeps the history in process memory. It backs tests and
// single-node deployments that can afford to re-warm after a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]types.HourlyEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]types.HourlyEntry)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, locationID string, entry types.HourlyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[locationID] = merge(s.entries[locationID], entry)
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, locationID string) ([]types.HourlyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.HourlyEntry(nil), s.entries[locationID]...), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
