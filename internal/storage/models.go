package storage

import (
	"time"
)

// HourlyRecord is one persisted location-hour: the overall AQI, the six
// EPA pollutant triples, weather context, and source provenance.
type HourlyRecord struct {
	ID        uint      `gorm:"primaryKey"`
	City      string    `gorm:"size:128;uniqueIndex:idx_city_timestamp"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_city_timestamp;index:idx_geo_time,priority:3"`
	Latitude  float64   `gorm:"index:idx_geo_time,priority:1"`
	Longitude float64   `gorm:"index:idx_geo_time,priority:2"`

	OverallAQI        int `gorm:"index"`
	DominantPollutant string
	Category          string
	Color             string
	HealthMessage     string `gorm:"type:text"`
	Explanation       string `gorm:"type:text"`

	PM25Concentration *float64
	PM25AQI           *int
	PM25BiasCorrected bool

	PM10Concentration *float64
	PM10AQI           *int
	PM10BiasCorrected bool

	O3Concentration *float64
	O3AQI           *int
	O3BiasCorrected bool

	NO2Concentration *float64
	NO2AQI           *int
	NO2BiasCorrected bool

	SO2Concentration *float64
	SO2AQI           *int
	SO2BiasCorrected bool

	COConcentration *float64
	COAQI           *int
	COBiasCorrected bool

	TemperatureC *float64
	HumidityPct  *float64
	PressureHPa  *float64
	WindSpeedMS  *float64
	WindDirDeg   *float64

	// DataSources is a JSON document describing which sources fed each
	// pollutant and with what weights.
	DataSources string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements the GORM table naming override.
func (HourlyRecord) TableName() string {
	return "comprehensive_aqi_hourly"
}

// DailyTrend is the per-location daily aggregate derived from 24 hourly
// rows by the rollup job.
type DailyTrend struct {
	ID        uint      `gorm:"primaryKey"`
	City      string    `gorm:"size:128;uniqueIndex:idx_city_date"`
	Date      time.Time `gorm:"uniqueIndex:idx_city_date"`
	Latitude  float64
	Longitude float64

	AvgAQI            float64
	MaxAQI            int
	DominantPollutant string
	Category          string

	AvgPM25 *float64
	AvgPM10 *float64
	AvgO3   *float64
	AvgNO2  *float64
	AvgSO2  *float64
	AvgCO   *float64

	AvgPM25AQI *float64
	AvgPM10AQI *float64
	AvgO3AQI   *float64
	AvgNO2AQI  *float64
	AvgSO2AQI  *float64
	AvgCOAQI   *float64

	AvgTemperatureC *float64
	AvgHumidityPct  *float64
	AvgWindSpeedMS  *float64

	// Completeness is hourly points used divided by 24.
	Completeness float64
	DataPoints   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements the GORM table naming override.
func (DailyTrend) TableName() string {
	return "daily_aqi_trends"
}
