// Package airq implements the EPA Air Quality Index: breakpoint tables,
// piecewise-linear interpolation from concentration to AQI, the inverse
// map from AQI back to concentration, and category/color/health lookups.
package airq

import (
	"fmt"
	"math"
)

// Pollutant keys accepted by the breakpoint tables. Values match the
// enum used across the pipeline.
const (
	PM25 = "pm25"
	PM10 = "pm10"
	O3   = "o3"
	NO2  = "no2"
	SO2  = "so2"
	CO   = "co"
)

// AboveScale is the breakpoint label reported when a concentration
// exceeds the top of the EPA table and the AQI is capped at 500.
const AboveScale = "above_scale"

// Breakpoint is one row of the EPA table: the concentration range
// [CLow, CHigh] maps linearly onto the AQI range [ILow, IHigh].
type Breakpoint struct {
	CLow, CHigh float64
	ILow, IHigh int
}

// Label renders the concentration range for provenance columns.
func (b Breakpoint) Label() string {
	return fmt.Sprintf("%g-%g", b.CLow, b.CHigh)
}

// Breakpoint tables in canonical units: PM2.5/PM10 µg/m³ (24-h average),
// O3 and CO ppm (8-h average), NO2 and SO2 ppb (1-h).
//
// The PM2.5 Good/Moderate boundary uses the pre-2024 value of 12.0 µg/m³.
// The upstream calibration data was fitted against that table and the two
// candidate tables disagree only below 35.5 µg/m³.
var tables = map[string][]Breakpoint{
	PM25: {
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 350.4, 301, 400},
		{350.5, 500.4, 401, 500},
	},
	PM10: {
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	},
	O3: {
		{0.000, 0.054, 0, 50},
		{0.055, 0.070, 51, 100},
		{0.071, 0.085, 101, 150},
		{0.086, 0.105, 151, 200},
		{0.106, 0.200, 201, 300},
		// EPA defines the upper ranges on the 1-hour scale.
		{0.201, 0.404, 301, 400},
		{0.405, 0.604, 401, 500},
	},
	CO: {
		{0.0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
		{30.5, 40.4, 301, 400},
		{40.5, 50.4, 401, 500},
	},
	NO2: {
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
		{1250, 1649, 301, 400},
		{1650, 2049, 401, 500},
	},
	SO2: {
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
		{605, 804, 301, 400},
		{805, 1004, 401, 500},
	},
}

// HasTable reports whether the pollutant carries an EPA AQI.
func HasTable(pollutant string) bool {
	_, ok := tables[pollutant]
	return ok
}

// ForConcentration interpolates the AQI for a concentration in the
// pollutant's canonical unit. The returned label identifies the
// breakpoint row used, or AboveScale when the value exceeds the table.
func ForConcentration(pollutant string, c float64) (aqi int, label string, err error) {
	rows, ok := tables[pollutant]
	if !ok {
		return 0, "", fmt.Errorf("no EPA breakpoints for pollutant %q", pollutant)
	}
	if c < 0 {
		return 0, rows[0].Label(), nil
	}
	for _, bp := range rows {
		if c <= bp.CHigh {
			return interpolate(bp, c), bp.Label(), nil
		}
	}
	// Concentrations above the top breakpoint map to AQI 500 ("Hazardous").
	return 500, AboveScale, nil
}

// ConcentrationForAQI is the inverse map: given a reported AQI, it
// returns the concentration in the pollutant's canonical unit. It lets
// AQI-only ground sources feed the fusion engine alongside concentration
// sources.
func ConcentrationForAQI(pollutant string, aqi int) (float64, error) {
	rows, ok := tables[pollutant]
	if !ok {
		return 0, fmt.Errorf("no EPA breakpoints for pollutant %q", pollutant)
	}
	if aqi < 0 {
		return 0, fmt.Errorf("invalid AQI %d", aqi)
	}
	for _, bp := range rows {
		if aqi <= bp.IHigh {
			if bp.IHigh == bp.ILow {
				return bp.CLow, nil
			}
			frac := float64(aqi-bp.ILow) / float64(bp.IHigh-bp.ILow)
			return bp.CLow + frac*(bp.CHigh-bp.CLow), nil
		}
	}
	// AQI above 500: extrapolate to the top of the table.
	return rows[len(rows)-1].CHigh, nil
}

func interpolate(bp Breakpoint, c float64) int {
	if bp.CHigh == bp.CLow {
		return bp.ILow
	}
	aqi := (float64(bp.IHigh-bp.ILow)/(bp.CHigh-bp.CLow))*(c-bp.CLow) + float64(bp.ILow)
	return int(math.Round(aqi))
}

// Category returns the AQI category name for a given AQI value
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}

// Color returns the standard color code for an AQI value
func Color(aqi int) string {
	switch {
	case aqi <= 50:
		return "#00e400" // Green
	case aqi <= 100:
		return "#ffff00" // Yellow
	case aqi <= 150:
		return "#ff7e00" // Orange
	case aqi <= 200:
		return "#ff0000" // Red
	case aqi <= 300:
		return "#99004c" // Purple
	default:
		return "#7e0023" // Maroon
	}
}

// HealthMessage returns the public-health guidance for an AQI value.
func HealthMessage(aqi int) string {
	switch {
	case aqi <= 50:
		return "Air quality is satisfactory, and air pollution poses little or no risk."
	case aqi <= 100:
		return "Air quality is acceptable. There may be a risk for people who are unusually sensitive to air pollution."
	case aqi <= 150:
		return "Members of sensitive groups may experience health effects. The general public is less likely to be affected."
	case aqi <= 200:
		return "Some members of the general public may experience health effects; members of sensitive groups may experience more serious health effects."
	case aqi <= 300:
		return "Health alert: the risk of health effects is increased for everyone."
	default:
		return "Health warning of emergency conditions: everyone is more likely to be affected."
	}
}
