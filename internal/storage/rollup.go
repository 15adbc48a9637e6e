package storage

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm/clause"

	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/pkg/airq"
)

// RollupDaily aggregates every city's hourly rows for one UTC day into
// daily_aqi_trends. Cities roll up independently; one failure does not
// stop the rest.
func (c *Client) RollupDaily(ctx context.Context, date time.Time) (int, error) {
	cities, err := c.CitiesForDate(ctx, date)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, city := range cities {
		rows, err := c.HourlyForDate(ctx, city, date)
		if err != nil {
			log.Warnw("daily rollup read failed", "city", city, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		trend := buildDailyTrend(city, date, rows)
		err = c.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "city"}, {Name: "date"}},
			UpdateAll: true,
		}).Create(trend).Error
		if err != nil {
			log.Warnw("daily rollup write failed", "city", city, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

// buildDailyTrend averages the numeric columns of one city-day and
// picks the most frequent dominant pollutant.
func buildDailyTrend(city string, date time.Time, rows []HourlyRecord) *DailyTrend {
	aqis := make([]float64, 0, len(rows))
	maxAQI := 0
	dominantCounts := make(map[string]int)
	for _, r := range rows {
		aqis = append(aqis, float64(r.OverallAQI))
		if r.OverallAQI > maxAQI {
			maxAQI = r.OverallAQI
		}
		if r.DominantPollutant != "" {
			dominantCounts[r.DominantPollutant]++
		}
	}

	avgAQI := stat.Mean(aqis, nil)
	trend := &DailyTrend{
		City:              city,
		Date:              date.UTC().Truncate(24 * time.Hour),
		Latitude:          rows[0].Latitude,
		Longitude:         rows[0].Longitude,
		AvgAQI:            avgAQI,
		MaxAQI:            maxAQI,
		DominantPollutant: mostFrequent(dominantCounts),
		Category:          airq.Category(int(avgAQI + 0.5)),
		Completeness:      float64(len(rows)) / 24.0,
		DataPoints:        len(rows),
	}

	trend.AvgPM25 = meanOf(rows, func(r HourlyRecord) *float64 { return r.PM25Concentration })
	trend.AvgPM10 = meanOf(rows, func(r HourlyRecord) *float64 { return r.PM10Concentration })
	trend.AvgO3 = meanOf(rows, func(r HourlyRecord) *float64 { return r.O3Concentration })
	trend.AvgNO2 = meanOf(rows, func(r HourlyRecord) *float64 { return r.NO2Concentration })
	trend.AvgSO2 = meanOf(rows, func(r HourlyRecord) *float64 { return r.SO2Concentration })
	trend.AvgCO = meanOf(rows, func(r HourlyRecord) *float64 { return r.COConcentration })

	trend.AvgPM25AQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.PM25AQI })
	trend.AvgPM10AQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.PM10AQI })
	trend.AvgO3AQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.O3AQI })
	trend.AvgNO2AQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.NO2AQI })
	trend.AvgSO2AQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.SO2AQI })
	trend.AvgCOAQI = meanOfAQI(rows, func(r HourlyRecord) *int { return r.COAQI })
	trend.AvgTemperatureC = meanOf(rows, func(r HourlyRecord) *float64 { return r.TemperatureC })
	trend.AvgHumidityPct = meanOf(rows, func(r HourlyRecord) *float64 { return r.HumidityPct })
	trend.AvgWindSpeedMS = meanOf(rows, func(r HourlyRecord) *float64 { return r.WindSpeedMS })

	return trend
}

// meanOf averages a nullable column over the rows that carry it.
func meanOf(rows []HourlyRecord, field func(HourlyRecord) *float64) *float64 {
	var values []float64
	for _, r := range rows {
		if v := field(r); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	m := stat.Mean(values, nil)
	return &m
}

// meanOfAQI is meanOf over the integer per-pollutant AQI columns.
func meanOfAQI(rows []HourlyRecord, field func(HourlyRecord) *int) *float64 {
	var values []float64
	for _, r := range rows {
		if v := field(r); v != nil {
			values = append(values, float64(*v))
		}
	}
	if len(values) == 0 {
		return nil
	}
	m := stat.Mean(values, nil)
	return &m
}

func mostFrequent(counts map[string]int) string {
	best := ""
	bestCount := 0
	for name, count := range counts {
		if count > bestCount || (count == bestCount && name < best) {
			best = name
			bestCount = count
		}
	}
	return best
}
