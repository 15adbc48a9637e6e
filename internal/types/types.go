// Package types defines the data model shared across the collection,
// fusion, AQI, and persistence layers.
package types

import (
	"fmt"
	"time"
)

// Pollutant identifies one of the tracked air pollutants.
type Pollutant string

const (
	PM25 Pollutant = "pm25"
	PM10 Pollutant = "pm10"
	O3   Pollutant = "o3"
	NO2  Pollutant = "no2"
	SO2  Pollutant = "so2"
	CO   Pollutant = "co"
	HCHO Pollutant = "hcho" // science-only, no EPA AQI
)

// EPAPollutants lists the six pollutants that carry an EPA AQI, in the
// tie-break order used when two pollutants produce the same AQI.
var EPAPollutants = []Pollutant{PM25, O3, PM10, NO2, SO2, CO}

// AllPollutants lists every tracked pollutant including science-only ones.
var AllPollutants = []Pollutant{PM25, PM10, O3, NO2, SO2, CO, HCHO}

// Unit is a measurement unit for pollutant concentrations.
type Unit string

const (
	UnitPPB          Unit = "ppb"
	UnitPPM          Unit = "ppm"
	UnitUGM3         Unit = "ugm3"
	UnitMoleculesCM2 Unit = "molecules/cm2"
)

// CanonicalUnit returns the unit every fused value for the pollutant is
// expressed in: particulates in µg/m³, O3 and CO in ppm, the remaining
// gases in ppb.
func CanonicalUnit(p Pollutant) Unit {
	switch p {
	case PM25, PM10:
		return UnitUGM3
	case O3, CO:
		return UnitPPM
	default:
		return UnitPPB
	}
}

// SourceID identifies an external data source.
type SourceID string

const (
	SourceTEMPO     SourceID = "tempo"     // satellite tile store
	SourceGEOSCF    SourceID = "geoscf"    // atmospheric model API
	SourceAirNow    SourceID = "airnow"    // US ground-station network
	SourceWAQI      SourceID = "waqi"      // global ground aggregator
	SourceOpenMeteo SourceID = "openmeteo" // weather only
)

// PollutantSources lists the sources that can contribute pollutant
// concentrations to fusion (weather-only sources excluded).
var PollutantSources = []SourceID{SourceAirNow, SourceWAQI, SourceTEMPO, SourceGEOSCF}

// Quality describes how trustworthy a single measurement is.
type Quality string

const (
	QualityNASACompliant Quality = "nasa_compliant"
	QualityGood          Quality = "good"
	QualityModerate      Quality = "moderate"
	QualityInsufficient  Quality = "insufficient"
	QualityFiltered      Quality = "filtered"
)

// ErrorKind classifies adapter and pipeline failures. Errors are carried
// as data in diagnostics; only ConfigurationFatal ever stops the process.
type ErrorKind string

const (
	ErrTransientUpstream   ErrorKind = "transient_upstream"
	ErrQualityFiltered     ErrorKind = "quality_filtered"
	ErrNoDataInRange       ErrorKind = "no_data_in_range"
	ErrUnitUnsupported     ErrorKind = "unit_unsupported"
	ErrInsufficientHistory ErrorKind = "insufficient_history_for_epa"
	ErrPersistenceConflict ErrorKind = "persistence_conflict"
	ErrConfigurationFatal  ErrorKind = "configuration_fatal"
)

// SourceError is one captured failure inside an adapter.
type SourceError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Diagnostics records what happened during one adapter fetch.
type Diagnostics struct {
	Source        SourceID      `json:"source"`
	LatencyMS     int64         `json:"latency_ms"`
	Attempts      int           `json:"attempts"`
	FilterReasons []string      `json:"filter_reasons,omitempty"`
	Errors        []SourceError `json:"errors,omitempty"`
}

// Failed reports whether the fetch produced no usable data.
func (d Diagnostics) Failed() bool {
	return len(d.Errors) > 0
}

// Measurement is a single raw per-pollutant value from one source.
// It lives for exactly one collection cycle and is never persisted raw.
type Measurement struct {
	Pollutant    Pollutant `json:"pollutant"`
	Value        float64   `json:"value"`
	Units        Unit      `json:"units"`
	Source       SourceID  `json:"source"`
	Quality      Quality   `json:"quality"`
	Uncertainty  float64   `json:"uncertainty,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
	FilterReason string    `json:"filter_reason,omitempty"`
	// DistanceKM is the distance from the target point to the reporting
	// station or pixel, where the source provides one.
	DistanceKM float64 `json:"distance_km,omitempty"`
}

// Usable reports whether the measurement may enter fusion.
func (m Measurement) Usable() bool {
	return m.Quality != QualityFiltered && m.Quality != QualityInsufficient
}

// Location is a user-chosen geographic point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// ID returns the stable grid key for the location. Rounding to four
// decimals fixes the grid: two requests within ~11 m share a key.
func (l Location) ID() string {
	return LocationID(l.Latitude, l.Longitude)
}

// LocationID formats the stable grid key for a coordinate pair.
func LocationID(lat, lon float64) string {
	return fmt.Sprintf("%.4f_%.4f", lat, lon)
}

// Weather is the meteorological context attached to an observation.
// Pointer fields are nil when the upstream omitted the parameter.
type Weather struct {
	TemperatureC  *float64 `json:"temperature_c,omitempty"`
	HumidityPct   *float64 `json:"humidity_pct,omitempty"`
	PressureHPa   *float64 `json:"pressure_hpa,omitempty"`
	WindSpeedMS   *float64 `json:"wind_speed_ms,omitempty"`
	WindDirDeg    *float64 `json:"wind_dir_deg,omitempty"`
	Precipitation *float64 `json:"precipitation_mm,omitempty"`
	CloudCover    *float64 `json:"cloud_cover,omitempty"`
	Source        SourceID `json:"source,omitempty"`
}

// Observation is the merged output of one collection cycle for one location.
type Observation struct {
	Location    Location                               `json:"location"`
	Timestamp   time.Time                              `json:"timestamp"`
	Sources     map[SourceID]map[Pollutant]Measurement `json:"sources"`
	Weather     *Weather                               `json:"weather,omitempty"`
	Diagnostics []Diagnostics                          `json:"diagnostics,omitempty"`
}

// FusedConcentration is the best-estimate value for one pollutant after
// bias correction and trust-weighted averaging.
type FusedConcentration struct {
	Pollutant     Pollutant            `json:"pollutant"`
	Value         float64              `json:"value"`
	Units         Unit                 `json:"units"`
	SourcesUsed   []SourceID           `json:"sources_used"`
	WeightsUsed   map[SourceID]float64 `json:"weights_used"`
	BiasCorrected bool                 `json:"bias_correction_applied"`
	Confidence    float64              `json:"confidence"`
}

// HourlyValue is the per-pollutant payload of one hourly history entry.
type HourlyValue struct {
	Value         float64  `json:"value" msgpack:"value"`
	Units         Unit     `json:"units" msgpack:"units"`
	Source        SourceID `json:"source" msgpack:"source"`
	Quality       Quality  `json:"quality" msgpack:"quality"`
	BiasCorrected bool     `json:"bias_corrected" msgpack:"bias_corrected"`
}

// HourlyEntry is one location's fused concentrations for one hour.
type HourlyEntry struct {
	Hour       time.Time                 `json:"hour_ts" msgpack:"hour_ts"`
	Pollutants map[Pollutant]HourlyValue `json:"pollutants" msgpack:"pollutants"`
}

// AveragingPeriod names the EPA time-averaging window applied to a pollutant.
type AveragingPeriod string

const (
	Period1h  AveragingPeriod = "1h"
	Period8h  AveragingPeriod = "8h"
	Period24h AveragingPeriod = "24h"
)

// PollutantAQI is the per-pollutant AQI result.
type PollutantAQI struct {
	Pollutant          Pollutant       `json:"pollutant"`
	CurrentHourValue   float64         `json:"current_hour_value"`
	AveragedValue      float64         `json:"averaged_value"`
	AveragingPeriod    AveragingPeriod `json:"averaging_period"`
	AQI                int             `json:"aqi"`
	Category           string          `json:"category"`
	Color              string          `json:"color"`
	BreakpointUsed     string          `json:"breakpoint_used"`
	DataPointsUsed     int             `json:"data_points_used"`
	InsufficientForEPA bool            `json:"insufficient_for_epa,omitempty"`
}

// OverallAQI is the location-level AQI result for one hour.
type OverallAQI struct {
	AQI           int                        `json:"aqi"`
	Dominant      Pollutant                  `json:"dominant_pollutant"`
	Category      string                     `json:"category"`
	Color         string                     `json:"color"`
	HealthMessage string                     `json:"health_message"`
	Explanation   string                     `json:"explanation,omitempty"`
	PerPollutant  map[Pollutant]PollutantAQI `json:"per_pollutant"`
}

// PriorityEntry is one candidate location in the collection priority index.
type PriorityEntry struct {
	LocationID     string    `json:"location_id"`
	City           string    `json:"city"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	PriorityScore  float64   `json:"priority_score"`
	LastCollected  time.Time `json:"last_collected"`
	LastQuality    Quality   `json:"last_quality,omitempty"`
	AlertUserCount int       `json:"alert_user_count"`
	SearchCount    int64     `json:"search_count"`
	DemandBoost    float64   `json:"user_demand_boost"`
}

// Score computes the priority score from the entry's counters.
func (p PriorityEntry) Score() float64 {
	return 3*float64(p.AlertUserCount) + 0.1*float64(p.SearchCount) + p.DemandBoost
}
