package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "storage.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	c := &Client{DB: db}
	if err := c.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return c
}

func TestUpsertHourlyIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first := hourlyRow(testHour, 61, "pm25", 17.0)
	if err := c.UpsertHourly(ctx, &first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// The same location-hour again, with a refined value. The timestamp
	// carries sub-hour noise that must truncate to the same hour key.
	second := hourlyRow(testHour.Add(25*time.Minute), 58, "o3", 15.5)
	if err := c.UpsertHourly(ctx, &second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var rows []HourlyRecord
	if err := c.DB.Find(&rows).Error; err != nil {
		t.Fatalf("reading rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want one row per location-hour", len(rows))
	}
	got := rows[0]
	if got.OverallAQI != 58 || got.DominantPollutant != "o3" {
		t.Errorf("row = %d/%s, want the second run's 58/o3", got.OverallAQI, got.DominantPollutant)
	}
	if got.PM25Concentration == nil || *got.PM25Concentration != 15.5 {
		t.Errorf("concentration = %v, want the second run's 15.5", got.PM25Concentration)
	}
	if !got.Timestamp.UTC().Equal(testHour) {
		t.Errorf("timestamp = %v, want truncated %v", got.Timestamp, testHour)
	}
}

func TestUpsertHourlyDistinctHours(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a := hourlyRow(testHour, 61, "pm25", 17.0)
	b := hourlyRow(testHour.Add(time.Hour), 55, "pm25", 14.0)
	if err := c.UpsertHourly(ctx, &a); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := c.UpsertHourly(ctx, &b); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	var count int64
	if err := c.DB.Model(&HourlyRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 2 {
		t.Errorf("rows = %d, want 2 for two distinct hours", count)
	}
}

func TestLatestHourlyMissingCity(t *testing.T) {
	c := newTestClient(t)
	rec, err := c.LatestHourly(context.Background(), "Nowhere")
	if err != nil {
		t.Fatalf("LatestHourly: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for a never-collected city, got %+v", rec)
	}
}

func TestRollupDailyIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	for i, aqi := range []int{40, 60, 80} {
		row := hourlyRow(day.Add(time.Duration(i)*time.Hour), aqi, "pm25", 12.0)
		if err := c.UpsertHourly(ctx, &row); err != nil {
			t.Fatalf("seeding hour %d: %v", i, err)
		}
	}

	for run := 0; run < 2; run++ {
		created, err := c.RollupDaily(ctx, day)
		if err != nil {
			t.Fatalf("rollup run %d: %v", run, err)
		}
		if created != 1 {
			t.Errorf("run %d created = %d, want 1", run, created)
		}
	}

	var trends []DailyTrend
	if err := c.DB.Find(&trends).Error; err != nil {
		t.Fatalf("reading trends: %v", err)
	}
	if len(trends) != 1 {
		t.Fatalf("trends = %d, want one row after two runs", len(trends))
	}
	if trends[0].AvgAQI != 60.0 || trends[0].MaxAQI != 80 {
		t.Errorf("trend = %v/%d, want 60/80", trends[0].AvgAQI, trends[0].MaxAQI)
	}
}
