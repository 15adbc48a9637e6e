// Package units converts pollutant concentrations between ppb, ppm, and
// µg/m³ using the ideal-gas law. Conversions use local temperature and
// pressure when available and fall back to 25 °C / 1 atm.
package units

import (
	"errors"
	"fmt"
)

// Unit names accepted by Convert. These mirror the wire units reported by
// the source adapters.
const (
	PPB  = "ppb"
	PPM  = "ppm"
	UGM3 = "ugm3"
)

// Reference conditions used when the caller has no local meteorology.
const (
	DefaultTemperatureC = 25.0
	DefaultPressureAtm  = 1.0
)

// gasConstant is the universal gas constant in J/(mol·K).
const gasConstant = 8.31446

// pascalsPerAtm converts atmospheres to pascals.
const pascalsPerAtm = 101325.0

// MolarMasses holds molar masses in g/mol for the gas-phase pollutants.
// Particulates have no molar mass and only exist in µg/m³.
var MolarMasses = map[string]float64{
	"no2":  46.0055,
	"so2":  64.066,
	"co":   28.010,
	"o3":   47.9982,
	"hcho": 30.026,
}

// ErrUnitUnsupported is returned for any conversion route outside the
// table. Callers must drop the value rather than pass it through.
var ErrUnitUnsupported = errors.New("unsupported unit conversion")

// Conditions carries the local meteorology for gas conversions.
type Conditions struct {
	TemperatureC float64
	PressureAtm  float64
}

// Default returns the 25 °C / 1 atm reference conditions.
func Default() Conditions {
	return Conditions{TemperatureC: DefaultTemperatureC, PressureAtm: DefaultPressureAtm}
}

// Convert converts value from one unit to another for the named pollutant.
// Gas-phase routes require a molar mass; any request outside the
// conversion table fails with ErrUnitUnsupported.
func Convert(value float64, from, to, pollutant string, cond Conditions) (float64, error) {
	if from == to {
		return value, nil
	}
	if cond.TemperatureC == 0 && cond.PressureAtm == 0 {
		cond = Default()
	}

	switch {
	case from == PPB && to == PPM:
		return value / 1000.0, nil
	case from == PPM && to == PPB:
		return value * 1000.0, nil
	case from == PPB && to == UGM3:
		m, err := molarMass(pollutant)
		if err != nil {
			return 0, err
		}
		return value * m * molarDensity(cond) * 1e-3, nil
	case from == UGM3 && to == PPB:
		m, err := molarMass(pollutant)
		if err != nil {
			return 0, err
		}
		return value / (m * molarDensity(cond) * 1e-3), nil
	case from == PPM && to == UGM3:
		ppb, err := Convert(value, PPM, PPB, pollutant, cond)
		if err != nil {
			return 0, err
		}
		return Convert(ppb, PPB, UGM3, pollutant, cond)
	case from == UGM3 && to == PPM:
		ppb, err := Convert(value, UGM3, PPB, pollutant, cond)
		if err != nil {
			return 0, err
		}
		return Convert(ppb, PPB, PPM, pollutant, cond)
	}

	return 0, fmt.Errorf("%w: %s -> %s for %s", ErrUnitUnsupported, from, to, pollutant)
}

// molarDensity returns the molar density of air in mol/m³ at the given
// conditions, P/(R·T).
func molarDensity(cond Conditions) float64 {
	tKelvin := cond.TemperatureC + 273.15
	pPa := cond.PressureAtm * pascalsPerAtm
	return pPa / (gasConstant * tKelvin)
}

func molarMass(pollutant string) (float64, error) {
	m, ok := MolarMasses[pollutant]
	if !ok {
		return 0, fmt.Errorf("%w: no molar mass for %s", ErrUnitUnsupported, pollutant)
	}
	return m, nil
}
