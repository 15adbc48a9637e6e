package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airfuse/airfuse/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// FileStore keeps one compact msgpack snapshot per location in a local
// directory. It suits edge deployments without a database.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the snapshot directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Append implements Store with a read-modify-write of the snapshot.
func (s *FileStore) Append(_ context.Context, locationID string, entry types.HourlyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(locationID)
	if err != nil {
		return err
	}
	entries = merge(entries, entry)

	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding history snapshot: %w", err)
	}
	path := s.path(locationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing history snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, locationID string) ([]types.HourlyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(locationID)
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(locationID string) ([]types.HourlyEntry, error) {
	data, err := os.ReadFile(s.path(locationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history snapshot: %w", err)
	}
	var entries []types.HourlyEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding history snapshot: %w", err)
	}
	return entries, nil
}

func (s *FileStore) path(locationID string) string {
	return filepath.Join(s.dir, locationID+".msgpack")
}
