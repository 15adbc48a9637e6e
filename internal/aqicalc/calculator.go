// Package aqicalc turns fused concentrations plus the rolling hourly
// history into EPA AQI results: time-averaged windows per pollutant,
// breakpoint interpolation, dominant-pollutant selection, and a plain
// language explanation of the day's driver.
package aqicalc

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/airfuse/airfuse/internal/types"
	"github.com/airfuse/airfuse/pkg/airq"
)

// window describes one pollutant's EPA averaging rule.
type window struct {
	hours    int
	required int
}

// EPA averaging windows. NO2 and SO2 are instantaneous, so they carry
// no entry and use the current hour directly.
var windows = map[types.Pollutant]window{
	types.O3:   {hours: 8, required: 6},
	types.CO:   {hours: 8, required: 6},
	types.PM25: {hours: 24, required: 18},
	types.PM10: {hours: 24, required: 18},
}

// Calculator computes AQI results from fused values and history.
type Calculator struct{}

// New creates a Calculator.
func New() *Calculator {
	return &Calculator{}
}

// Calculate computes the per-pollutant and overall AQI for one location
// hour. The history slice follows the store contract: newest first, at
// most 25 entries. Weather may be nil; it only feeds the explanation.
func (c *Calculator) Calculate(fused map[types.Pollutant]types.FusedConcentration, history []types.HourlyEntry, weather *types.Weather, now time.Time) *types.OverallAQI {
	hour := now.UTC().Truncate(time.Hour)
	perPollutant := make(map[types.Pollutant]types.PollutantAQI)

	for _, pollutant := range types.EPAPollutants {
		fc, ok := fused[pollutant]
		if !ok {
			continue
		}
		result, err := c.pollutantAQI(pollutant, fc.Value, history, hour)
		if err != nil {
			continue
		}
		perPollutant[pollutant] = result
	}

	if len(perPollutant) == 0 {
		return nil
	}

	dominant := dominantPollutant(perPollutant)
	top := perPollutant[dominant]

	return &types.OverallAQI{
		AQI:           top.AQI,
		Dominant:      dominant,
		Category:      top.Category,
		Color:         top.Color,
		HealthMessage: airq.HealthMessage(top.AQI),
		Explanation:   explain(dominant, top.AQI, weather),
		PerPollutant:  perPollutant,
	}
}

// pollutantAQI builds the averaging window for one pollutant and
// interpolates the AQI from the averaged concentration.
func (c *Calculator) pollutantAQI(pollutant types.Pollutant, current float64, history []types.HourlyEntry, hour time.Time) (types.PollutantAQI, error) {
	averaged := current
	period := types.Period1h
	points := 1
	insufficient := false

	if w, ok := windows[pollutant]; ok {
		values := windowValues(pollutant, current, history, hour, w.hours)
		if len(values) >= w.required {
			averaged = stat.Mean(values, nil)
			points = len(values)
			if w.hours == 8 {
				period = types.Period8h
			} else {
				period = types.Period24h
			}
		} else {
			// Not enough history for the EPA window: fall back to
			// the current hour and flag the result.
			insufficient = true
			points = len(values)
			if points == 0 {
				points = 1
			}
		}
	}

	aqi, label, err := airq.ForConcentration(string(pollutant), averaged)
	if err != nil {
		return types.PollutantAQI{}, err
	}

	return types.PollutantAQI{
		Pollutant:          pollutant,
		CurrentHourValue:   current,
		AveragedValue:      averaged,
		AveragingPeriod:    period,
		AQI:                aqi,
		Category:           airq.Category(aqi),
		Color:              airq.Color(aqi),
		BreakpointUsed:     label,
		DataPointsUsed:     points,
		InsufficientForEPA: insufficient,
	}, nil
}

// windowValues gathers the pollutant's values inside the window ending
// at hour. The current fused value stands in for the current hour; the
// history supplies the rest, one value per distinct hour.
func windowValues(pollutant types.Pollutant, current float64, history []types.HourlyEntry, hour time.Time, hours int) []float64 {
	oldest := hour.Add(-time.Duration(hours-1) * time.Hour)
	values := []float64{current}

	for _, entry := range history {
		ts := entry.Hour.UTC().Truncate(time.Hour)
		if ts.Equal(hour) || ts.Before(oldest) || ts.After(hour) {
			continue
		}
		if v, ok := entry.Pollutants[pollutant]; ok {
			values = append(values, v.Value)
		}
	}
	return values
}

// dominantPollutant picks the pollutant with the highest AQI, breaking
// ties by the fixed EPA reporting order.
func dominantPollutant(results map[types.Pollutant]types.PollutantAQI) types.Pollutant {
	var dominant types.Pollutant
	best := -1
	for _, pollutant := range types.EPAPollutants {
		r, ok := results[pollutant]
		if !ok {
			continue
		}
		if r.AQI > best {
			best = r.AQI
			dominant = pollutant
		}
	}
	return dominant
}

// Explanation thresholds over the weather context.
const (
	photochemistryTempC = 25.0
	stagnationWindMS    = 2.0
	aerosolHumidityPct  = 70.0
)

// explain composes the "why today" paragraph from the dominant
// pollutant, its AQI, and the weather context.
func explain(dominant types.Pollutant, aqi int, weather *types.Weather) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Today's air quality is driven by %s (AQI %d).", pollutantName(dominant), aqi))

	if weather != nil {
		if dominant == types.O3 && weather.TemperatureC != nil && *weather.TemperatureC > photochemistryTempC {
			parts = append(parts, "Warm, sunny conditions are accelerating photochemical ozone formation.")
		}
		if weather.WindSpeedMS != nil && *weather.WindSpeedMS < stagnationWindMS {
			parts = append(parts, "Light winds are allowing pollutants to accumulate near the surface.")
		}
		if (dominant == types.PM25 || dominant == types.PM10) && weather.HumidityPct != nil && *weather.HumidityPct > aerosolHumidityPct {
			parts = append(parts, "High humidity is promoting secondary aerosol formation, adding to particle levels.")
		}
	}
	return strings.Join(parts, " ")
}

func pollutantName(p types.Pollutant) string {
	switch p {
	case types.PM25:
		return "fine particles (PM2.5)"
	case types.PM10:
		return "coarse particles (PM10)"
	case types.O3:
		return "ground-level ozone"
	case types.NO2:
		return "nitrogen dioxide"
	case types.SO2:
		return "sulfur dioxide"
	case types.CO:
		return "carbon monoxide"
	default:
		return string(p)
	}
}
