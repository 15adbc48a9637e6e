// Package fusion reconciles per-source measurements into one
// best-estimate concentration per pollutant: trust weighting, sanity
// penalties, linear bias correction against ground references, and an
// exactly-normalised weighted average.
package fusion

import (
	"math"
	"sort"

	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/internal/types"
	"github.com/airfuse/airfuse/pkg/units"
)

// Trust weights by source. Ground stations dominate; the model is a
// gap-filler.
var trustWeights = map[types.SourceID]float64{
	types.SourceAirNow: 0.50,
	types.SourceWAQI:   0.30,
	types.SourceTEMPO:  0.15,
	types.SourceGEOSCF: 0.05,
}

// penaltyFactor multiplies the weight of a source whose value falls
// outside the plausible range for the pollutant.
const penaltyFactor = 0.15

// plausibleMax holds the per-pollutant upper bounds in canonical units.
// Values above them (or below zero) are penalised, not dropped.
var plausibleMax = map[types.Pollutant]float64{
	types.PM25: 300,  // µg/m³
	types.PM10: 600,  // µg/m³
	types.NO2:  400,  // ppb
	types.SO2:  400,  // ppb
	types.HCHO: 400,  // ppb
	types.O3:   0.4,  // ppm
	types.CO:   50,   // ppm
}

// BiasParams is the linear correction c' = Slope·c + Intercept fitted
// for one (pollutant, source) pairing against ground references.
type BiasParams struct {
	Slope     float64
	Intercept float64
}

// defaultBias holds the calibration parameters, in canonical units.
// Ground sources are the reference and are never corrected.
var defaultBias = map[types.Pollutant]map[types.SourceID]BiasParams{
	types.NO2: {
		types.SourceTEMPO:  {Slope: 0.85, Intercept: 1.2},
		types.SourceGEOSCF: {Slope: 0.92, Intercept: 0.8},
	},
	types.O3: {
		types.SourceTEMPO:  {Slope: 0.90, Intercept: 0.002},
		types.SourceGEOSCF: {Slope: 0.95, Intercept: 0.001},
	},
	types.PM25: {
		types.SourceGEOSCF: {Slope: 0.78, Intercept: 5.2},
	},
	types.HCHO: {
		types.SourceTEMPO: {Slope: 0.80, Intercept: 0.3},
	},
}

// groundSources are the reference sources bias corrections were fitted
// against; a correction only applies when one of them reported.
var groundSources = map[types.SourceID]bool{
	types.SourceAirNow: true,
	types.SourceWAQI:   true,
}

// Engine fuses raw observations.
type Engine struct {
	weights map[types.SourceID]float64
	bias    map[types.Pollutant]map[types.SourceID]BiasParams
}

// New creates a fusion engine with the default trust weights and
// calibration table.
func New() *Engine {
	return &Engine{weights: trustWeights, bias: defaultBias}
}

// Fuse produces one FusedConcentration per pollutant present in at
// least one source with a usable value.
func (e *Engine) Fuse(obs *types.Observation) map[types.Pollutant]types.FusedConcentration {
	cond := conditionsFrom(obs.Weather)
	out := make(map[types.Pollutant]types.FusedConcentration)

	for _, pollutant := range types.AllPollutants {
		fused, ok := e.fusePollutant(pollutant, obs, cond)
		if ok {
			out[pollutant] = fused
		}
	}
	return out
}

// input is one source's contribution after unit normalisation.
type input struct {
	source        types.SourceID
	value         float64
	weight        float64
	biasCorrected bool
}

func (e *Engine) fusePollutant(pollutant types.Pollutant, obs *types.Observation, cond units.Conditions) (types.FusedConcentration, bool) {
	canonical := types.CanonicalUnit(pollutant)

	var inputs []input
	for source, measurements := range obs.Sources {
		m, ok := measurements[pollutant]
		if !ok || !m.Usable() {
			continue
		}
		baseWeight, ok := e.weights[source]
		if !ok {
			continue
		}

		value, err := units.Convert(m.Value, string(m.Units), string(canonical), string(pollutant), cond)
		if err != nil {
			// UnitUnsupported: drop the value, keep the pipeline going.
			log.Warnw("dropping measurement with unconvertible units",
				"pollutant", pollutant, "source", source, "units", m.Units, "error", err)
			continue
		}

		weight := baseWeight
		if !plausible(pollutant, value) {
			weight *= penaltyFactor
		}
		inputs = append(inputs, input{source: source, value: value, weight: weight})
	}

	if len(inputs) == 0 {
		return types.FusedConcentration{}, false
	}

	biasApplied := e.applyBias(pollutant, inputs)
	weights := normalizeWeights(inputs)

	value := 0.0
	for i, in := range inputs {
		value += weights[i] * in.value
	}
	// Non-negativity: a negative weighted sum is replaced by the
	// smallest positive input, or zero.
	if value < 0 {
		value = minPositive(inputs)
	}

	sourcesUsed := make([]types.SourceID, 0, len(inputs))
	weightsUsed := make(map[types.SourceID]float64, len(inputs))
	for i, in := range inputs {
		sourcesUsed = append(sourcesUsed, in.source)
		weightsUsed[in.source] = weights[i]
	}
	sort.Slice(sourcesUsed, func(i, j int) bool { return sourcesUsed[i] < sourcesUsed[j] })

	return types.FusedConcentration{
		Pollutant:     pollutant,
		Value:         value,
		Units:         canonical,
		SourcesUsed:   sourcesUsed,
		WeightsUsed:   weightsUsed,
		BiasCorrected: biasApplied,
		Confidence:    confidence(len(inputs), biasApplied),
	}, true
}

// applyBias corrects model and satellite inputs when calibration
// parameters exist and a ground reference is present in the mix.
func (e *Engine) applyBias(pollutant types.Pollutant, inputs []input) bool {
	params, ok := e.bias[pollutant]
	if !ok {
		return false
	}
	hasGround := false
	for _, in := range inputs {
		if groundSources[in.source] {
			hasGround = true
			break
		}
	}
	if !hasGround {
		return false
	}

	applied := false
	for i, in := range inputs {
		if groundSources[in.source] {
			continue
		}
		p, ok := params[in.source]
		if !ok {
			continue
		}
		inputs[i].value = p.Slope*in.value + p.Intercept
		inputs[i].biasCorrected = true
		applied = true
	}
	return applied
}

// normalizeWeights renormalises so the weights sum to exactly 1.0; any
// floating-point residual is absorbed by the largest weight.
func normalizeWeights(inputs []input) []float64 {
	total := 0.0
	for _, in := range inputs {
		total += in.weight
	}
	weights := make([]float64, len(inputs))
	largest := 0
	for i, in := range inputs {
		weights[i] = in.weight / total
		if weights[i] > weights[largest] {
			largest = i
		}
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	weights[largest] += 1.0 - sum
	return weights
}

func confidence(reporting int, biasApplied bool) float64 {
	c := 0.6 + 0.2*float64(reporting)/float64(len(types.PollutantSources))
	if biasApplied {
		c += 0.1
	}
	return math.Min(c, 0.9)
}

func plausible(pollutant types.Pollutant, value float64) bool {
	if value < 0 {
		return false
	}
	limit, ok := plausibleMax[pollutant]
	if !ok {
		return true
	}
	return value <= limit
}

func minPositive(inputs []input) float64 {
	best := 0.0
	for _, in := range inputs {
		if in.value > 0 && (best == 0 || in.value < best) {
			best = in.value
		}
	}
	return best
}

// conditionsFrom derives gas-conversion conditions from the observation
// weather, falling back to the 25 °C / 1 atm reference.
func conditionsFrom(w *types.Weather) units.Conditions {
	cond := units.Default()
	if w == nil {
		return cond
	}
	if w.TemperatureC != nil {
		cond.TemperatureC = *w.TemperatureC
	}
	if w.PressureHPa != nil {
		cond.PressureAtm = *w.PressureHPa / 1013.25
	}
	return cond
}
