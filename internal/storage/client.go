// Package storage persists hourly AQI results and daily trend rollups
// to a relational database through GORM.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/internal/types"
)

// Client wraps the database connection.
type Client struct {
	DB *gorm.DB
}

// New connects to the database. Driver is "mysql" or "postgres".
func New(driver, dsn string) (*Client, error) {
	dbLogger := gormlogger.New(
		zap.NewStdLog(log.GetZapLogger()),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "", "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	log.Info("connecting to database...")
	db, err := gorm.Open(dialector, &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	log.Info("database connection successful")

	return &Client{DB: db}, nil
}

// Migrate creates or updates the schema. AutoMigrate is idempotent.
func (c *Client) Migrate() error {
	return c.DB.AutoMigrate(&HourlyRecord{}, &DailyTrend{})
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertHourly writes one location-hour row, replacing any previous row
// for the same (city, timestamp). One retry covers transient conflicts
// from a concurrent writer.
func (c *Client) UpsertHourly(ctx context.Context, rec *HourlyRecord) error {
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Hour)

	upsert := func() error {
		return c.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "city"}, {Name: "timestamp"}},
			UpdateAll: true,
		}).Create(rec).Error
	}
	if err := upsert(); err != nil {
		log.Warnw("hourly upsert failed, retrying once", "city", rec.City, "error", err)
		if err := upsert(); err != nil {
			return types.SourceError{Kind: types.ErrPersistenceConflict, Message: err.Error()}
		}
	}
	return nil
}

// LatestHourly returns the most recent row for a city, or nil when the
// city has never been collected.
func (c *Client) LatestHourly(ctx context.Context, city string) (*HourlyRecord, error) {
	var rec HourlyRecord
	err := c.DB.WithContext(ctx).
		Where("city = ?", city).
		Order("timestamp DESC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HourlyForDate returns a city's rows inside one UTC calendar day,
// ordered by hour. The rollup job consumes this.
func (c *Client) HourlyForDate(ctx context.Context, city string, date time.Time) ([]HourlyRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var rows []HourlyRecord
	err := c.DB.WithContext(ctx).
		Where("city = ? AND timestamp >= ? AND timestamp < ?", city, day, day.Add(24*time.Hour)).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}

// CitiesForDate lists the distinct cities with at least one row on the
// given UTC day.
func (c *Client) CitiesForDate(ctx context.Context, date time.Time) ([]string, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var cities []string
	err := c.DB.WithContext(ctx).
		Model(&HourlyRecord{}).
		Where("timestamp >= ? AND timestamp < ?", day, day.Add(24*time.Hour)).
		Distinct("city").
		Pluck("city", &cities).Error
	return cities, err
}

// BuildHourlyRecord flattens one pipeline result into the persisted row.
func BuildHourlyRecord(loc types.Location, hour time.Time, overall *types.OverallAQI, fused map[types.Pollutant]types.FusedConcentration, weather *types.Weather) *HourlyRecord {
	rec := &HourlyRecord{
		City:              coerceCity(loc.Name, loc),
		Timestamp:         hour.UTC().Truncate(time.Hour),
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		OverallAQI:        overall.AQI,
		DominantPollutant: string(overall.Dominant),
		Category:          overall.Category,
		Color:             overall.Color,
		HealthMessage:     overall.HealthMessage,
		Explanation:       overall.Explanation,
	}

	set := func(p types.Pollutant, conc **float64, aqi **int, bias *bool) {
		if fc, ok := fused[p]; ok {
			*conc = nullFloat(fc.Value)
			*bias = fc.BiasCorrected
		}
		if pa, ok := overall.PerPollutant[p]; ok {
			v := pa.AQI
			*aqi = &v
		}
	}
	set(types.PM25, &rec.PM25Concentration, &rec.PM25AQI, &rec.PM25BiasCorrected)
	set(types.PM10, &rec.PM10Concentration, &rec.PM10AQI, &rec.PM10BiasCorrected)
	set(types.O3, &rec.O3Concentration, &rec.O3AQI, &rec.O3BiasCorrected)
	set(types.NO2, &rec.NO2Concentration, &rec.NO2AQI, &rec.NO2BiasCorrected)
	set(types.SO2, &rec.SO2Concentration, &rec.SO2AQI, &rec.SO2BiasCorrected)
	set(types.CO, &rec.COConcentration, &rec.COAQI, &rec.COBiasCorrected)

	if weather != nil {
		rec.TemperatureC = nullFloatPtr(weather.TemperatureC)
		rec.HumidityPct = nullFloatPtr(weather.HumidityPct)
		rec.PressureHPa = nullFloatPtr(weather.PressureHPa)
		rec.WindSpeedMS = nullFloatPtr(weather.WindSpeedMS)
		rec.WindDirDeg = nullFloatPtr(weather.WindDirDeg)
	}

	rec.DataSources = marshalSources(fused)
	return rec
}

// marshalSources renders the per-pollutant provenance as a JSON text
// column.
func marshalSources(fused map[types.Pollutant]types.FusedConcentration) string {
	type provenance struct {
		Sources []types.SourceID           `json:"sources"`
		Weights map[types.SourceID]float64 `json:"weights"`
	}
	doc := make(map[types.Pollutant]provenance, len(fused))
	for p, fc := range fused {
		doc[p] = provenance{Sources: fc.SourcesUsed, Weights: fc.WeightsUsed}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// coerceCity collapses missing names to the grid key so the unique key
// stays meaningful.
func coerceCity(name string, loc types.Location) string {
	s := strings.TrimSpace(name)
	if s == "" || strings.EqualFold(s, "null") {
		return loc.ID()
	}
	return s
}

// nullFloat converts NaN and infinities to SQL NULL.
func nullFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nullFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return nullFloat(*v)
}
