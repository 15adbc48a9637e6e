// Package airnow fetches current observations from the AirNow network.
// The search starts at a short radius and widens until any station
// reports, checking several radii in parallel batches. AirNow reports
// AQI rather than concentration, so accepted values go through the
// inverse EPA breakpoint map before fusion.
package airnow

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/geo"
	"github.com/airfuse/airfuse/internal/types"
	"github.com/airfuse/airfuse/pkg/airq"
	"go.uber.org/zap"
)

const (
	// startRadiusMiles and maxRadiusMiles bound the expanding search.
	startRadiusMiles = 4
	maxRadiusMiles   = 50
	// batchSize is the number of radii checked in parallel per round.
	batchSize = 4
)

// Adapter queries the AirNow latLong observation endpoint.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.SugaredLogger
}

type observation struct {
	DateObserved  string  `json:"DateObserved"`
	HourObserved  int     `json:"HourObserved"`
	LocalTimeZone string  `json:"LocalTimeZone"`
	ReportingArea string  `json:"ReportingArea"`
	StateCode     string  `json:"StateCode"`
	Latitude      float64 `json:"Latitude"`
	Longitude     float64 `json:"Longitude"`
	ParameterName string  `json:"ParameterName"`
	AQI           int     `json:"AQI"`
	Category      struct {
		Number int    `json:"Number"`
		Name   string `json:"Name"`
	} `json:"Category"`
}

// parameterNames maps AirNow parameter names to the pollutant enum.
var parameterNames = map[string]types.Pollutant{
	"PM2.5": types.PM25,
	"PM10":  types.PM10,
	"O3":    types.O3,
	"OZONE": types.O3,
	"NO2":   types.NO2,
	"SO2":   types.SO2,
	"CO":    types.CO,
}

// New creates an AirNow adapter.
func New(baseURL, apiKey string, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: adapters.FetchTimeout},
		logger:  logger.Named("airnow"),
	}
}

// Name returns the source identifier.
func (a *Adapter) Name() types.SourceID {
	return types.SourceAirNow
}

// searchRadii returns the expanding sequence of radii in miles, starting
// short and growing geometrically until the maximum: 4, 5, 6, 7, 8, 10,
// 12, 15, 18, 22, 27, 33, 41, 50.
func searchRadii() []int {
	var radii []int
	r := float64(startRadiusMiles)
	for int(r) < maxRadiusMiles {
		radii = append(radii, int(r))
		r = math.Floor(r * 1.25)
	}
	return append(radii, maxRadiusMiles)
}

// Fetch widens the search radius until any station returns data, then
// keeps the closest station per pollutant.
func (a *Adapter) Fetch(ctx context.Context, lat, lon float64, now time.Time) adapters.Result {
	diag := adapters.NewDiagnostics(types.SourceAirNow)
	started := time.Now()
	defer func() { diag.LatencyMS = time.Since(started).Milliseconds() }()

	radii := searchRadii()
	totalAttempts := 0
	for batchStart := 0; batchStart < len(radii); batchStart += batchSize {
		end := batchStart + batchSize
		if end > len(radii) {
			end = len(radii)
		}
		batch := radii[batchStart:end]

		obs, attempts, err := a.fetchBatch(ctx, lat, lon, batch)
		totalAttempts += attempts
		if err != nil {
			diag.Attempts = totalAttempts
			adapters.RecordError(&diag, adapters.ClassifyError(err), "AirNow fetch failed: %v", err)
			return adapters.Result{Diagnostics: diag}
		}
		if len(obs) > 0 {
			diag.Attempts = totalAttempts
			measurements := a.merge(obs, lat, lon, now)
			a.logger.Debugw("AirNow observations found",
				"radius_batch", batch, "stations", len(obs), "pollutants", len(measurements))
			return adapters.Result{Measurements: measurements, Diagnostics: diag}
		}
	}

	diag.Attempts = totalAttempts
	adapters.RecordError(&diag, types.ErrNoDataInRange,
		"no AirNow stations within %d miles of %.4f,%.4f", maxRadiusMiles, lat, lon)
	return adapters.Result{Diagnostics: diag}
}

// fetchBatch checks several radii in parallel and returns the
// observations from the smallest radius that produced any.
func (a *Adapter) fetchBatch(ctx context.Context, lat, lon float64, radii []int) ([]observation, int, error) {
	type fetchResult struct {
		obs      []observation
		attempts int
		err      error
	}

	results := make([]fetchResult, len(radii))
	var wg sync.WaitGroup
	for i, radius := range radii {
		wg.Add(1)
		go func(i, radius int) {
			defer wg.Done()
			obs, attempts, err := a.fetchRadius(ctx, lat, lon, radius)
			results[i] = fetchResult{obs: obs, attempts: attempts, err: err}
		}(i, radius)
	}
	wg.Wait()

	attempts := 0
	var firstErr error
	for _, r := range results {
		attempts += r.attempts
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if len(r.obs) > 0 {
			return r.obs, attempts, nil
		}
	}
	// An empty result from every radius is not an error; the caller
	// widens the search. A transport failure on all radii is.
	allFailed := true
	for _, r := range results {
		if r.err == nil {
			allFailed = false
			break
		}
	}
	if allFailed && firstErr != nil {
		return nil, attempts, firstErr
	}
	return nil, attempts, nil
}

func (a *Adapter) fetchRadius(ctx context.Context, lat, lon float64, radiusMiles int) ([]observation, int, error) {
	q := url.Values{}
	q.Set("format", "application/json")
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("distance", fmt.Sprintf("%d", radiusMiles))
	q.Set("API_KEY", a.apiKey)

	endpoint := fmt.Sprintf("%s/aq/observation/latLong/current/?%s", a.baseURL, q.Encode())

	var obs []observation
	attempts, err := adapters.GetJSON(ctx, a.client, endpoint, &obs)
	return obs, attempts, err
}

// merge keeps, per pollutant, the closest reporting station and converts
// its AQI back to a concentration in the canonical unit.
func (a *Adapter) merge(obs []observation, lat, lon float64, now time.Time) map[types.Pollutant]types.Measurement {
	out := make(map[types.Pollutant]types.Measurement)
	for _, o := range obs {
		pollutant, ok := parameterNames[o.ParameterName]
		if !ok || o.AQI < 0 {
			continue
		}
		distKM := geo.HaversineKM(lat, lon, o.Latitude, o.Longitude)
		if prev, exists := out[pollutant]; exists && prev.DistanceKM <= distKM {
			continue
		}
		conc, err := airq.ConcentrationForAQI(string(pollutant), o.AQI)
		if err != nil {
			continue
		}
		out[pollutant] = types.Measurement{
			Pollutant:  pollutant,
			Value:      conc,
			Units:      types.CanonicalUnit(pollutant),
			Source:     types.SourceAirNow,
			Quality:    types.QualityGood,
			ObservedAt: observedAt(o, now),
			DistanceKM: distKM,
		}
	}
	return out
}

// observedAt reconstructs the observation hour; AirNow reports a local
// date plus an hour-of-day.
func observedAt(o observation, now time.Time) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(o.DateObserved))
	if err != nil {
		return now
	}
	return time.Date(t.Year(), t.Month(), t.Day(), o.HourObserved, 0, 0, 0, time.UTC)
}
