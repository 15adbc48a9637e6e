// Package waqi fetches observations from the World Air Quality Index
// aggregator. It searches a nine-point grid around the target, dedupes
// stations, and keeps the freshest, closest measurement per pollutant.
// WAQI reports per-pollutant values on the AQI scale; the inverse EPA
// breakpoint map converts them to concentrations for fusion.
package waqi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/geo"
	"github.com/airfuse/airfuse/internal/types"
	"github.com/airfuse/airfuse/pkg/airq"
	"go.uber.org/zap"
)

// gridStep is the offset of the outer grid points from the center.
const gridStep = 0.5

// gridWorkers bounds the parallel grid-point fetches.
const gridWorkers = 4

// Adapter queries the WAQI feed endpoint.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.SugaredLogger
}

type feedResponse struct {
	Status string `json:"status"`
	Data   struct {
		AQI  interface{} `json:"aqi"` // number, or "-" when unavailable
		IDX  int         `json:"idx"`
		City struct {
			Geo  []float64 `json:"geo"`
			Name string    `json:"name"`
		} `json:"city"`
		Time struct {
			ISO string `json:"iso"`
		} `json:"time"`
		IAQI map[string]struct {
			V float64 `json:"v"`
		} `json:"iaqi"`
	} `json:"data"`
}

// station is one deduplicated WAQI station observation.
type station struct {
	idx        int
	name       string
	lat, lon   float64
	distanceKM float64
	ageHours   float64
	observedAt time.Time
	iaqi       map[string]float64
}

// iaqiPollutants maps WAQI iaqi keys to the pipeline pollutant enum.
var iaqiPollutants = map[string]types.Pollutant{
	"pm25": types.PM25,
	"pm10": types.PM10,
	"o3":   types.O3,
	"no2":  types.NO2,
	"so2":  types.SO2,
	"co":   types.CO,
}

// New creates a WAQI adapter.
func New(baseURL, token string, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: adapters.FetchTimeout},
		logger:  logger.Named("waqi"),
	}
}

// Name returns the source identifier.
func (a *Adapter) Name() types.SourceID {
	return types.SourceWAQI
}

// Fetch performs the nine-point grid search and merges the results.
func (a *Adapter) Fetch(ctx context.Context, lat, lon float64, now time.Time) adapters.Result {
	diag := adapters.NewDiagnostics(types.SourceWAQI)
	started := time.Now()
	defer func() { diag.LatencyMS = time.Since(started).Milliseconds() }()

	offsets := [][2]float64{
		{0, 0},
		{gridStep, 0}, {-gridStep, 0}, {0, gridStep}, {0, -gridStep},
		{gridStep, gridStep}, {gridStep, -gridStep}, {-gridStep, gridStep}, {-gridStep, -gridStep},
	}

	var (
		mu       sync.Mutex
		stations = make(map[int]station)
		attempts int
		failures int
	)

	sem := make(chan struct{}, gridWorkers)
	var wg sync.WaitGroup
	for _, off := range offsets {
		wg.Add(1)
		go func(dLat, dLon float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			st, n, err := a.fetchPoint(ctx, lat+dLat, lon+dLon, lat, lon, now)
			mu.Lock()
			defer mu.Unlock()
			attempts += n
			if err != nil {
				failures++
				return
			}
			// Deduplicate by station identifier; grid points often
			// resolve to the same station.
			if prev, ok := stations[st.idx]; !ok || st.distanceKM < prev.distanceKM {
				stations[st.idx] = st
			}
		}(off[0], off[1])
	}
	wg.Wait()
	diag.Attempts = attempts

	if len(stations) == 0 {
		adapters.RecordError(&diag, types.ErrNoDataInRange,
			"no WAQI stations in the ±%.1f° grid around %.4f,%.4f (%d failed fetches)",
			gridStep, lat, lon, failures)
		return adapters.Result{Diagnostics: diag}
	}

	measurements := a.merge(stations)
	weather := bestStationWeather(stations)
	a.logger.Debugw("WAQI grid search complete",
		"stations", len(stations), "pollutants", len(measurements))
	return adapters.Result{Measurements: measurements, Weather: weather, Diagnostics: diag}
}

func (a *Adapter) fetchPoint(ctx context.Context, qLat, qLon, targetLat, targetLon float64, now time.Time) (station, int, error) {
	url := fmt.Sprintf("%s/feed/geo:%.4f;%.4f/?token=%s", a.baseURL, qLat, qLon, a.token)

	var resp feedResponse
	attempts, err := adapters.GetJSON(ctx, a.client, url, &resp)
	if err != nil {
		return station{}, attempts, err
	}
	if resp.Status != "ok" {
		return station{}, attempts, fmt.Errorf("WAQI status %q", resp.Status)
	}

	st := station{
		idx:  resp.Data.IDX,
		name: resp.Data.City.Name,
		iaqi: make(map[string]float64, len(resp.Data.IAQI)),
	}
	if len(resp.Data.City.Geo) >= 2 {
		st.lat, st.lon = resp.Data.City.Geo[0], resp.Data.City.Geo[1]
		st.distanceKM = geo.HaversineKM(targetLat, targetLon, st.lat, st.lon)
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.Time.ISO); err == nil {
		st.observedAt = t.UTC()
		st.ageHours = now.Sub(st.observedAt).Hours()
		if st.ageHours < 0 {
			st.ageHours = 0
		}
	} else {
		st.observedAt = now
	}
	for k, v := range resp.Data.IAQI {
		st.iaqi[k] = v.V
	}
	return st, attempts, nil
}

// merge picks, per pollutant, the station with the smallest
// (age_hours, distance) tuple and converts its AQI-scale value to a
// concentration in the pollutant's canonical unit.
func (a *Adapter) merge(stations map[int]station) map[types.Pollutant]types.Measurement {
	ordered := make([]station, 0, len(stations))
	for _, st := range stations {
		ordered = append(ordered, st)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ageHours != ordered[j].ageHours {
			return ordered[i].ageHours < ordered[j].ageHours
		}
		return ordered[i].distanceKM < ordered[j].distanceKM
	})

	out := make(map[types.Pollutant]types.Measurement)
	for _, st := range ordered {
		for key, pollutant := range iaqiPollutants {
			if _, done := out[pollutant]; done {
				continue
			}
			aqiVal, ok := st.iaqi[key]
			if !ok || aqiVal < 0 {
				continue
			}
			conc, err := airq.ConcentrationForAQI(string(pollutant), int(aqiVal+0.5))
			if err != nil {
				continue
			}
			out[pollutant] = types.Measurement{
				Pollutant:  pollutant,
				Value:      conc,
				Units:      types.CanonicalUnit(pollutant),
				Source:     types.SourceWAQI,
				Quality:    types.QualityGood,
				ObservedAt: st.observedAt,
				DistanceKM: st.distanceKM,
			}
		}
	}
	return out
}

// bestStationWeather surfaces humidity/temperature/pressure/wind from the
// closest station reporting them. The fusion engine ignores these; the
// persistence layer uses them when the model adapter omitted weather.
func bestStationWeather(stations map[int]station) *types.Weather {
	ordered := make([]station, 0, len(stations))
	for _, st := range stations {
		ordered = append(ordered, st)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].distanceKM < ordered[j].distanceKM
	})

	for _, st := range ordered {
		w := &types.Weather{Source: types.SourceWAQI}
		found := false
		if v, ok := st.iaqi["t"]; ok {
			w.TemperatureC = &v
			found = true
		}
		if v, ok := st.iaqi["h"]; ok {
			w.HumidityPct = &v
			found = true
		}
		if v, ok := st.iaqi["p"]; ok {
			w.PressureHPa = &v
			found = true
		}
		if v, ok := st.iaqi["w"]; ok {
			w.WindSpeedMS = &v
			found = true
		}
		if found {
			return w
		}
	}
	return nil
}
