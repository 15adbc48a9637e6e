// Package geoscf fetches forecast chemistry and meteorology from the
// GEOS-CF model API. One request is issued per species, all concurrently
// under a bounded worker pool, and the value whose timestamp is closest
// to the current UTC hour is selected from each returned time series.
package geoscf

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/types"
	"go.uber.org/zap"
)

// speciesWorkers bounds the concurrent per-species requests.
const speciesWorkers = 5

// minPM25Components is the minimum number of component species required
// for an accepted PM2.5 sum.
const minPM25Components = 5

// chemSpecies lists the chemistry endpoints queried per fetch.
var chemSpecies = []string{"no2", "o3", "co", "so2", "pm25"}

// metParams lists the meteorology parameters fetched as weather context.
const metParams = "T2M,TPREC,CLDTT,U10M,V10M"

// Adapter queries the GEOS-CF cfapi endpoints.
type Adapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

type seriesResponse struct {
	Time   []string             `json:"time"`
	Values map[string][]float64 `json:"values"`
}

// New creates a GEOS-CF adapter.
func New(baseURL string, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: adapters.FetchTimeout},
		logger:  logger.Named("geoscf"),
	}
}

// Name returns the source identifier.
func (a *Adapter) Name() types.SourceID {
	return types.SourceGEOSCF
}

// Fetch issues the per-species chemistry requests plus one meteorology
// request, all concurrently under the worker pool.
func (a *Adapter) Fetch(ctx context.Context, lat, lon float64, now time.Time) adapters.Result {
	diag := adapters.NewDiagnostics(types.SourceGEOSCF)
	started := time.Now()
	defer func() { diag.LatencyMS = time.Since(started).Milliseconds() }()

	type speciesResult struct {
		species     string
		measurement *types.Measurement
		attempts    int
		err         error
	}

	results := make(chan speciesResult, len(chemSpecies))
	sem := make(chan struct{}, speciesWorkers)
	var wg sync.WaitGroup

	for _, species := range chemSpecies {
		wg.Add(1)
		go func(species string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			m, attempts, err := a.fetchSpecies(ctx, species, lat, lon, now)
			results <- speciesResult{species: species, measurement: m, attempts: attempts, err: err}
		}(species)
	}

	// Meteorology runs concurrently with the chemistry requests.
	var (
		weather     *types.Weather
		metAttempts int
		metErr      error
		metWG       sync.WaitGroup
	)
	metWG.Add(1)
	go func() {
		defer metWG.Done()
		weather, metAttempts, metErr = a.fetchMeteorology(ctx, lat, lon, now)
	}()

	wg.Wait()
	close(results)
	metWG.Wait()

	measurements := make(map[types.Pollutant]types.Measurement)
	totalAttempts := metAttempts
	for r := range results {
		totalAttempts += r.attempts
		if r.err != nil {
			adapters.RecordError(&diag, adapters.ClassifyError(r.err),
				"GEOS-CF %s fetch failed: %v", r.species, r.err)
			continue
		}
		if r.measurement != nil {
			measurements[r.measurement.Pollutant] = *r.measurement
		}
	}
	if metErr != nil {
		adapters.RecordError(&diag, adapters.ClassifyError(metErr),
			"GEOS-CF meteorology fetch failed: %v", metErr)
	}
	diag.Attempts = totalAttempts

	a.logger.Debugw("GEOS-CF fetch complete",
		"pollutants", len(measurements), "weather", weather != nil)
	return adapters.Result{Measurements: measurements, Weather: weather, Diagnostics: diag}
}

func (a *Adapter) fetchSpecies(ctx context.Context, species string, lat, lon float64, now time.Time) (*types.Measurement, int, error) {
	url := fmt.Sprintf("%s/fcast/chm/v1/%s/%.1fx%.1f/latest/", a.baseURL, species, lat, lon)

	var resp seriesResponse
	attempts, err := adapters.GetJSON(ctx, a.client, url, &resp)
	if err != nil {
		return nil, attempts, err
	}
	if len(resp.Time) == 0 {
		return nil, attempts, fmt.Errorf("empty time series for %s", species)
	}

	idx, observed := nearestIndex(resp.Time, now)
	if idx < 0 {
		return nil, attempts, fmt.Errorf("no parseable timestamps for %s", species)
	}

	if species == "pm25" {
		value, components := sumComponents(resp.Values, idx)
		if components < minPM25Components {
			return nil, attempts, fmt.Errorf("PM2.5 sum rejected: only %d of 7 components present", components)
		}
		return &types.Measurement{
			Pollutant:  types.PM25,
			Value:      value,
			Units:      types.UnitUGM3,
			Source:     types.SourceGEOSCF,
			Quality:    types.QualityGood,
			ObservedAt: observed,
		}, attempts, nil
	}

	series, ok := lookupSeries(resp.Values, species)
	if !ok || idx >= len(series) {
		return nil, attempts, fmt.Errorf("no value series for %s", species)
	}
	value := series[idx]

	m := &types.Measurement{
		Source:     types.SourceGEOSCF,
		Quality:    types.QualityGood,
		ObservedAt: observed,
	}
	switch species {
	case "no2":
		m.Pollutant, m.Value, m.Units = types.NO2, value, types.UnitPPB
	case "o3":
		m.Pollutant, m.Value, m.Units = types.O3, value, types.UnitPPB
	case "so2":
		m.Pollutant, m.Value, m.Units = types.SO2, value, types.UnitPPB
	case "co":
		// The model reports CO in ppbv.
		m.Pollutant, m.Value, m.Units = types.CO, value/1000.0, types.UnitPPM
	default:
		return nil, attempts, fmt.Errorf("unknown species %q", species)
	}
	return m, attempts, nil
}

func (a *Adapter) fetchMeteorology(ctx context.Context, lat, lon float64, now time.Time) (*types.Weather, int, error) {
	url := fmt.Sprintf("%s/fcast/met/v1/%s/%.1fx%.1f/latest/", a.baseURL, metParams, lat, lon)

	var resp seriesResponse
	attempts, err := adapters.GetJSON(ctx, a.client, url, &resp)
	if err != nil {
		return nil, attempts, err
	}
	if len(resp.Time) == 0 {
		return nil, attempts, fmt.Errorf("empty meteorology time series")
	}
	idx, _ := nearestIndex(resp.Time, now)
	if idx < 0 {
		return nil, attempts, fmt.Errorf("no parseable meteorology timestamps")
	}

	w := &types.Weather{Source: types.SourceGEOSCF}
	if t2m, ok := valueAt(resp.Values, "T2M", idx); ok {
		// T2M arrives in Kelvin.
		if t2m > 150 {
			t2m -= 273.15
		}
		w.TemperatureC = &t2m
	}
	if v, ok := valueAt(resp.Values, "TPREC", idx); ok {
		w.Precipitation = &v
	}
	if v, ok := valueAt(resp.Values, "CLDTT", idx); ok {
		// Total cloud fraction 0..1; persist as percent.
		pct := v * 100.0
		w.CloudCover = &pct
	}
	u, uok := valueAt(resp.Values, "U10M", idx)
	v10, vok := valueAt(resp.Values, "V10M", idx)
	if uok && vok {
		speed := math.Hypot(u, v10)
		dir := math.Mod(math.Atan2(-u, -v10)*180.0/math.Pi+360.0, 360.0)
		w.WindSpeedMS = &speed
		w.WindDirDeg = &dir
	}
	return w, attempts, nil
}

// nearestIndex returns the index of the timestamp closest to the current
// hour in UTC, and the parsed timestamp.
func nearestIndex(timestamps []string, now time.Time) (int, time.Time) {
	target := now.UTC().Truncate(time.Hour)
	best := -1
	var bestTime time.Time
	bestDelta := math.MaxFloat64
	for i, ts := range timestamps {
		t, err := parseTimestamp(ts)
		if err != nil {
			continue
		}
		delta := math.Abs(t.Sub(target).Seconds())
		if delta < bestDelta {
			best, bestTime, bestDelta = i, t, delta
		}
	}
	return best, bestTime
}

func parseTimestamp(ts string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", ts)
}

// sumComponents adds the PM2.5 component species at one index and counts
// how many were present.
func sumComponents(values map[string][]float64, idx int) (float64, int) {
	sum := 0.0
	count := 0
	for _, series := range values {
		if idx < len(series) {
			sum += series[idx]
			count++
		}
	}
	return sum, count
}

// lookupSeries finds the value series for a species, tolerating the
// API's case differences; a single-series response is used as-is.
func lookupSeries(values map[string][]float64, species string) ([]float64, bool) {
	for k, v := range values {
		if strings.EqualFold(k, species) {
			return v, true
		}
	}
	if len(values) == 1 {
		for _, v := range values {
			return v, true
		}
	}
	return nil, false
}

func valueAt(values map[string][]float64, key string, idx int) (float64, bool) {
	series, ok := lookupSeries(values, key)
	if !ok || idx >= len(series) {
		return 0, false
	}
	return series[idx], true
}
