package storage

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/airfuse/airfuse/internal/types"
)

var testHour = time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

func TestNullFloat(t *testing.T) {
	if got := nullFloat(12.5); got == nil || *got != 12.5 {
		t.Errorf("nullFloat(12.5) = %v", got)
	}
	if got := nullFloat(math.NaN()); got != nil {
		t.Errorf("NaN must collapse to NULL, got %v", *got)
	}
	if got := nullFloat(math.Inf(1)); got != nil {
		t.Errorf("Inf must collapse to NULL, got %v", *got)
	}
}

func TestCoerceCity(t *testing.T) {
	loc := types.Location{Latitude: 40.7128, Longitude: -74.0060}
	tests := []struct {
		in   string
		want string
	}{
		{"New York", "New York"},
		{"  Boston  ", "Boston"},
		{"", "40.7128_-74.0060"},
		{"null", "40.7128_-74.0060"},
		{"NULL", "40.7128_-74.0060"},
	}
	for _, tt := range tests {
		if got := coerceCity(tt.in, loc); got != tt.want {
			t.Errorf("coerceCity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sampleOverall() *types.OverallAQI {
	return &types.OverallAQI{
		AQI:           61,
		Dominant:      types.PM25,
		Category:      "Moderate",
		Color:         "#ffff00",
		HealthMessage: "Air quality is acceptable.",
		Explanation:   "Today's air quality is driven by fine particles (PM2.5) (AQI 61).",
		PerPollutant: map[types.Pollutant]types.PollutantAQI{
			types.PM25: {Pollutant: types.PM25, AQI: 61},
			types.NO2:  {Pollutant: types.NO2, AQI: 18},
		},
	}
}

func sampleFused() map[types.Pollutant]types.FusedConcentration {
	return map[types.Pollutant]types.FusedConcentration{
		types.PM25: {
			Pollutant: types.PM25, Value: 17.05, Units: types.UnitUGM3,
			SourcesUsed:   []types.SourceID{types.SourceAirNow, types.SourceGEOSCF, types.SourceWAQI},
			WeightsUsed:   map[types.SourceID]float64{types.SourceAirNow: 0.59, types.SourceWAQI: 0.35, types.SourceGEOSCF: 0.06},
			BiasCorrected: true,
		},
		types.NO2: {
			Pollutant: types.NO2, Value: 18.9, Units: types.UnitPPB,
			SourcesUsed: []types.SourceID{types.SourceAirNow},
			WeightsUsed: map[types.SourceID]float64{types.SourceAirNow: 1.0},
		},
	}
}

func TestBuildHourlyRecord(t *testing.T) {
	loc := types.Location{Latitude: 40.7128, Longitude: -74.0060, Name: "New York"}
	temp := 24.5
	weather := &types.Weather{TemperatureC: &temp}

	rec := BuildHourlyRecord(loc, testHour.Add(25*time.Minute), sampleOverall(), sampleFused(), weather)

	if rec.City != "New York" {
		t.Errorf("city = %q", rec.City)
	}
	if !rec.Timestamp.Equal(testHour) {
		t.Errorf("timestamp = %v, want truncated %v", rec.Timestamp, testHour)
	}
	if rec.OverallAQI != 61 || rec.DominantPollutant != "pm25" {
		t.Errorf("overall = %d/%s", rec.OverallAQI, rec.DominantPollutant)
	}
	if rec.PM25Concentration == nil || *rec.PM25Concentration != 17.05 {
		t.Errorf("PM2.5 concentration = %v", rec.PM25Concentration)
	}
	if rec.PM25AQI == nil || *rec.PM25AQI != 61 {
		t.Errorf("PM2.5 AQI = %v", rec.PM25AQI)
	}
	if !rec.PM25BiasCorrected {
		t.Error("PM2.5 bias flag lost")
	}
	if rec.NO2BiasCorrected {
		t.Error("NO2 bias flag wrongly set")
	}
	if rec.O3Concentration != nil || rec.O3AQI != nil {
		t.Error("absent pollutants must stay NULL")
	}
	if rec.TemperatureC == nil || *rec.TemperatureC != 24.5 {
		t.Errorf("temperature = %v", rec.TemperatureC)
	}

	// The provenance column must be valid JSON keyed by pollutant.
	var doc map[string]struct {
		Sources []string           `json:"sources"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal([]byte(rec.DataSources), &doc); err != nil {
		t.Fatalf("data_sources is not JSON: %v", err)
	}
	if len(doc["pm25"].Sources) != 3 {
		t.Errorf("pm25 provenance = %+v", doc["pm25"])
	}
}

func hourlyRow(hour time.Time, aqi int, dominant string, pm25 float64) HourlyRecord {
	pm25AQI := aqi
	return HourlyRecord{
		City:              "New York",
		Timestamp:         hour,
		Latitude:          40.7128,
		Longitude:         -74.0060,
		OverallAQI:        aqi,
		DominantPollutant: dominant,
		PM25Concentration: &pm25,
		PM25AQI:           &pm25AQI,
	}
}

func TestBuildDailyTrend(t *testing.T) {
	date := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	rows := []HourlyRecord{
		hourlyRow(date.Add(0*time.Hour), 40, "pm25", 9.0),
		hourlyRow(date.Add(1*time.Hour), 60, "pm25", 15.0),
		hourlyRow(date.Add(2*time.Hour), 80, "o3", 21.0),
	}

	trend := buildDailyTrend("New York", date, rows)
	if trend.AvgAQI != 60.0 {
		t.Errorf("avg AQI = %v, want 60", trend.AvgAQI)
	}
	if trend.MaxAQI != 80 {
		t.Errorf("max AQI = %d, want 80", trend.MaxAQI)
	}
	if trend.DominantPollutant != "pm25" {
		t.Errorf("dominant = %q, want the most frequent pm25", trend.DominantPollutant)
	}
	if trend.Category != "Moderate" {
		t.Errorf("category = %q, want Moderate from the averaged AQI", trend.Category)
	}
	if trend.AvgPM25 == nil || *trend.AvgPM25 != 15.0 {
		t.Errorf("avg PM2.5 = %v, want 15", trend.AvgPM25)
	}
	if trend.AvgPM25AQI == nil || *trend.AvgPM25AQI != 60.0 {
		t.Errorf("avg PM2.5 AQI = %v, want 60", trend.AvgPM25AQI)
	}
	if trend.AvgO3AQI != nil {
		t.Error("missing per-pollutant AQI must average to NULL")
	}
	if trend.DataPoints != 3 {
		t.Errorf("data points = %d", trend.DataPoints)
	}
	if math.Abs(trend.Completeness-0.125) > 1e-9 {
		t.Errorf("completeness = %v, want 3/24", trend.Completeness)
	}
	if trend.AvgTemperatureC != nil {
		t.Error("missing weather must average to NULL")
	}
}

func TestBuildDailyTrendSkipsNullColumns(t *testing.T) {
	date := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	withPM := hourlyRow(date, 50, "pm25", 12.0)
	withoutPM := hourlyRow(date.Add(time.Hour), 50, "pm25", 0)
	withoutPM.PM25Concentration = nil

	trend := buildDailyTrend("New York", date, []HourlyRecord{withPM, withoutPM})
	// Only the row that carries the column participates in its mean.
	if trend.AvgPM25 == nil || *trend.AvgPM25 != 12.0 {
		t.Errorf("avg PM2.5 = %v, want 12 from the single reporting row", trend.AvgPM25)
	}
}

func TestMostFrequent(t *testing.T) {
	got := mostFrequent(map[string]int{"pm25": 10, "o3": 8, "no2": 10})
	// Counts tie between pm25 and no2; the lexically smaller name wins
	// so the rollup is deterministic.
	if got != "no2" {
		t.Errorf("mostFrequent = %q, want no2", got)
	}
	if got := mostFrequent(map[string]int{}); got != "" {
		t.Errorf("empty input = %q, want empty", got)
	}
}
