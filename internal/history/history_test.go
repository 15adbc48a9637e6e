package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/airfuse/airfuse/internal/types"
)

var testHour = time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

func entryAt(hour time.Time, pm25 float64) types.HourlyEntry {
	return types.HourlyEntry{
		Hour: hour,
		Pollutants: map[types.Pollutant]types.HourlyValue{
			types.PM25: {Value: pm25, Units: types.UnitUGM3, Source: types.SourceAirNow},
		},
	}
}

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	const loc = "34.0500_-118.2400"

	// Empty store reads as empty.
	entries, err := store.Load(ctx, loc)
	if err != nil {
		t.Fatalf("loading empty store: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}

	// 30 hourly writes, oldest first.
	for i := 29; i >= 0; i-- {
		hour := testHour.Add(-time.Duration(i) * time.Hour)
		if err := store.Append(ctx, loc, entryAt(hour, float64(i))); err != nil {
			t.Fatalf("append at %v: %v", hour, err)
		}
	}

	entries, err = store.Load(ctx, loc)
	if err != nil {
		t.Fatalf("loading after writes: %v", err)
	}
	if len(entries) != MaxEntries {
		t.Fatalf("expected truncation to %d entries, got %d", MaxEntries, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].Hour.After(entries[i].Hour) {
			t.Fatalf("entries not in descending order at index %d: %v then %v",
				i, entries[i-1].Hour, entries[i].Hour)
		}
	}
	if !entries[0].Hour.Equal(testHour) {
		t.Errorf("newest entry is %v, want %v", entries[0].Hour, testHour)
	}

	// Re-writing the same hour replaces the value rather than duplicating.
	if err := store.Append(ctx, loc, entryAt(testHour, 99.0)); err != nil {
		t.Fatalf("idempotent rewrite: %v", err)
	}
	entries, err = store.Load(ctx, loc)
	if err != nil {
		t.Fatalf("loading after rewrite: %v", err)
	}
	if len(entries) != MaxEntries {
		t.Fatalf("rewrite changed the entry count to %d", len(entries))
	}
	if got := entries[0].Pollutants[types.PM25].Value; got != 99.0 {
		t.Errorf("rewrite did not win: value = %v, want 99.0", got)
	}

	// Locations are isolated.
	other, err := store.Load(ctx, "0.0000_0.0000")
	if err != nil {
		t.Fatalf("loading other location: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated location has %d entries", len(other))
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	storeContract(t, store)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("creating file store: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("creating sqlite store: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestMergeNormalisesHour(t *testing.T) {
	// Sub-hour precision collapses to the hour, so two writes inside the
	// same hour dedupe.
	entries := merge(nil, entryAt(testHour.Add(10*time.Minute), 1.0))
	entries = merge(entries, entryAt(testHour.Add(45*time.Minute), 2.0))
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].Pollutants[types.PM25].Value; got != 2.0 {
		t.Errorf("last write should win, got %v", got)
	}
	if !entries[0].Hour.Equal(testHour) {
		t.Errorf("hour = %v, want truncated %v", entries[0].Hour, testHour)
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default memory", Config{}, false},
		{"memory", Config{Backend: "memory"}, false},
		{"s3 without client", Config{Backend: "s3", Bucket: "b"}, true},
		{"unknown", Config{Backend: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			store.Close()
		})
	}
}
