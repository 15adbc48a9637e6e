package priority

import (
	"context"
	"testing"
	"time"

	"github.com/airfuse/airfuse/internal/types"
)

var testNow = time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

func TestPriorityOrdering(t *testing.T) {
	x := New(nil)
	// A: pinned by two alert users. B: searched heavily, no alerts.
	// C: one alert and some searches. C ties B on score at 4.0; the
	// alert count breaks the tie in C's favour.
	x.Seed(types.PriorityEntry{LocationID: "a", City: "A", AlertUserCount: 2})
	x.Seed(types.PriorityEntry{LocationID: "b", City: "B", SearchCount: 40})
	x.Seed(types.PriorityEntry{LocationID: "c", City: "C", AlertUserCount: 1, SearchCount: 10})

	got := x.PriorityLocations(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	want := []string{"a", "c", "b"}
	for i, id := range want {
		if got[i].LocationID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].LocationID, id)
		}
	}
	if got[0].Score() != 6.0 || got[1].Score() != 4.0 || got[2].Score() != 4.0 {
		t.Errorf("scores = %v/%v/%v, want 6/4/4", got[0].Score(), got[1].Score(), got[2].Score())
	}
}

func TestPriorityLocationsLimit(t *testing.T) {
	x := New(nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		x.Seed(types.PriorityEntry{LocationID: id, AlertUserCount: 1})
	}
	if got := x.PriorityLocations(2); len(got) != 2 {
		t.Errorf("limit not applied: got %d entries", len(got))
	}
}

func TestRegisterSearchAccumulates(t *testing.T) {
	x := New(nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := x.RegisterSearch(ctx, 34.05, -118.24, "Los Angeles"); err != nil {
			t.Fatalf("register search: %v", err)
		}
	}

	entries := x.PriorityLocations(1)
	if len(entries) != 1 {
		t.Fatal("expected one entry")
	}
	e := entries[0]
	if e.SearchCount != 20 {
		t.Errorf("search count = %d, want 20", e.SearchCount)
	}
	if e.DemandBoost != searchBoostCap {
		t.Errorf("boost = %v, want capped at %v", e.DemandBoost, searchBoostCap)
	}
}

func TestRegisterAlertPinsLocations(t *testing.T) {
	x := New(nil)
	err := x.RegisterAlert(context.Background(), AlertRequest{
		UserID: "user-1",
		Locations: []types.Location{
			{Latitude: 34.05, Longitude: -118.24, Name: "Los Angeles"},
			{Latitude: 40.71, Longitude: -74.01, Name: "New York"},
		},
		AQIThreshold: 100,
	})
	if err != nil {
		t.Fatalf("register alert: %v", err)
	}

	entries := x.PriorityLocations(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 pinned locations, got %d", len(entries))
	}
	for _, e := range entries {
		if e.AlertUserCount != 1 {
			t.Errorf("%s alert count = %d, want 1", e.LocationID, e.AlertUserCount)
		}
	}
}

func TestRegisterAlertIdempotentPerUser(t *testing.T) {
	x := New(nil)
	req := AlertRequest{
		UserID: "user-1",
		Locations: []types.Location{
			{Latitude: 34.05, Longitude: -118.24, Name: "Los Angeles"},
		},
		AQIThreshold: 100,
	}

	// A retried POST must not inflate the subscriber count or the boost.
	for i := 0; i < 3; i++ {
		if err := x.RegisterAlert(context.Background(), req); err != nil {
			t.Fatalf("register alert: %v", err)
		}
	}

	entries := x.PriorityLocations(10)
	if len(entries) != 1 {
		t.Fatalf("expected one location, got %d", len(entries))
	}
	e := entries[0]
	if e.AlertUserCount != 1 {
		t.Errorf("alert count = %d after re-registration, want 1", e.AlertUserCount)
	}
	if e.DemandBoost != alertBoostStep {
		t.Errorf("boost = %v after re-registration, want %v", e.DemandBoost, alertBoostStep)
	}

	// A second user on the same location still counts.
	req.UserID = "user-2"
	if err := x.RegisterAlert(context.Background(), req); err != nil {
		t.Fatalf("register alert: %v", err)
	}
	if got := x.PriorityLocations(10)[0].AlertUserCount; got != 2 {
		t.Errorf("alert count = %d with two distinct users, want 2", got)
	}
}

func TestShouldCollect(t *testing.T) {
	x := New(nil)
	x.Seed(types.PriorityEntry{
		LocationID: "alerted", AlertUserCount: 1,
		LastCollected: testNow.Add(-45 * time.Minute),
	})
	x.Seed(types.PriorityEntry{
		LocationID: "busy", AlertUserCount: 3,
		LastCollected: testNow.Add(-20 * time.Minute),
	})
	x.Seed(types.PriorityEntry{
		LocationID: "searched", SearchCount: 5,
		LastCollected: testNow.Add(-2 * time.Hour),
	})
	x.Seed(types.PriorityEntry{
		LocationID: "quiet", SearchCount: 2,
		LastCollected: testNow.Add(-6 * time.Hour),
	})

	tests := []struct {
		id   string
		want bool
	}{
		// One subscriber: interval 30 min, 45 elapsed.
		{"alerted", true},
		// Three subscribers: interval 15 min, 20 elapsed.
		{"busy", true},
		// Searched enough, an hour has passed.
		{"searched", true},
		// Below the search floor, never collected on demand.
		{"quiet", false},
		// Unknown location.
		{"missing", false},
	}
	for _, tt := range tests {
		if got := x.ShouldCollect(tt.id, testNow); got != tt.want {
			t.Errorf("ShouldCollect(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestShouldCollectIntervalShrinksWithSubscribers(t *testing.T) {
	x := New(nil)
	x.Seed(types.PriorityEntry{
		LocationID: "loc", AlertUserCount: 1,
		LastCollected: testNow.Add(-20 * time.Minute),
	})
	// 20 minutes elapsed, interval is 30 minutes: not due yet.
	if x.ShouldCollect("loc", testNow) {
		t.Error("location should not be due at 20 of 30 minutes")
	}
}

func TestMarkCollected(t *testing.T) {
	x := New(nil)
	x.Seed(types.PriorityEntry{
		LocationID: "loc", AlertUserCount: 1,
		LastCollected: testNow.Add(-2 * time.Hour),
	})

	if !x.ShouldCollect("loc", testNow) {
		t.Fatal("location should start due")
	}
	x.MarkCollected("loc", types.QualityGood, testNow)
	if x.ShouldCollect("loc", testNow) {
		t.Error("location still due immediately after collection")
	}
}

func TestMarkCollectedModerateShortensInterval(t *testing.T) {
	x := New(nil)
	x.Seed(types.PriorityEntry{LocationID: "loc", AlertUserCount: 1})

	// One subscriber: 30 minute interval, halved to 15 after a
	// moderate-quality run.
	x.MarkCollected("loc", types.QualityModerate, testNow)
	if x.ShouldCollect("loc", testNow.Add(14*time.Minute)) {
		t.Error("due before the shortened interval elapsed")
	}
	if !x.ShouldCollect("loc", testNow.Add(16*time.Minute)) {
		t.Error("not due after the shortened interval")
	}

	// A good run restores the full interval.
	x.MarkCollected("loc", types.QualityGood, testNow)
	if x.ShouldCollect("loc", testNow.Add(16*time.Minute)) {
		t.Error("good-quality run should keep the full 30 minute interval")
	}
}

func TestFindNearest(t *testing.T) {
	x := New(nil)
	x.Seed(types.PriorityEntry{LocationID: "la", City: "Los Angeles", Latitude: 34.05, Longitude: -118.24, AlertUserCount: 1})
	x.Seed(types.PriorityEntry{LocationID: "sf", City: "San Francisco", Latitude: 37.77, Longitude: -122.42, AlertUserCount: 1})

	// Pasadena is ~15 km from downtown LA.
	got := x.FindNearest(34.15, -118.14, 50)
	if got == nil {
		t.Fatal("expected a match near Pasadena")
	}
	if got.LocationID != "la" {
		t.Errorf("nearest = %s, want la", got.LocationID)
	}

	// Fresno is over 200 km from both.
	if got := x.FindNearest(36.75, -119.77, 50); got != nil {
		t.Errorf("expected no match near Fresno, got %s", got.LocationID)
	}
}
