// Package collector fans out the source adapters for one location and
// merges their results into a single raw observation. Each adapter runs
// in its own goroutine with error isolation: a failing adapter
// contributes an empty measurement set, never an abort.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/types"
	"go.uber.org/zap"
)

const (
	// AdapterTimeout is the soft per-adapter deadline.
	AdapterTimeout = 30 * time.Second
	// TotalTimeout is the hard per-location budget. On expiry the
	// collector cancels outstanding work and returns what completed.
	TotalTimeout = 60 * time.Second
)

// Collector runs the configured adapters concurrently for one location.
type Collector struct {
	adapters       []adapters.Adapter
	fallbackSource adapters.WeatherSource
	satellite      types.SourceID
	logger         *zap.SugaredLogger

	adapterTimeout time.Duration
	totalTimeout   time.Duration
}

// New creates a collector over the given adapters. fallback supplies
// weather for locations where no pollutant source carried any; satellite
// names the adapter skipped for locations outside its coverage.
func New(adapterList []adapters.Adapter, fallback adapters.WeatherSource, satellite types.SourceID, logger *zap.SugaredLogger) *Collector {
	return &Collector{
		adapters:       adapterList,
		fallbackSource: fallback,
		satellite:      satellite,
		logger:         logger.Named("collector"),
		adapterTimeout: AdapterTimeout,
		totalTimeout:   TotalTimeout,
	}
}

// Collect fans out all adapters for the location and blocks until every
// task has returned, failed, or the total budget expired.
func (c *Collector) Collect(ctx context.Context, loc types.Location, includeSatellite bool) *types.Observation {
	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	now := time.Now().UTC()
	obs := &types.Observation{
		Location:  loc,
		Timestamp: now.Truncate(time.Hour),
		Sources:   make(map[types.SourceID]map[types.Pollutant]types.Measurement),
	}

	var (
		mu              sync.Mutex
		wg              sync.WaitGroup
		weatherBySource = make(map[types.SourceID]*types.Weather)
	)

	for _, a := range c.adapters {
		if !includeSatellite && a.Name() == c.satellite {
			continue
		}
		wg.Add(1)
		go func(a adapters.Adapter) {
			defer wg.Done()
			taskCtx, taskCancel := context.WithTimeout(ctx, c.adapterTimeout)
			defer taskCancel()

			result := a.Fetch(taskCtx, loc.Latitude, loc.Longitude, now)

			mu.Lock()
			defer mu.Unlock()
			obs.Diagnostics = append(obs.Diagnostics, result.Diagnostics)
			if len(result.Measurements) > 0 {
				obs.Sources[a.Name()] = result.Measurements
			}
			if result.Weather != nil {
				weatherBySource[a.Name()] = result.Weather
			}
		}(a)
	}

	if c.fallbackSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskCtx, taskCancel := context.WithTimeout(ctx, c.adapterTimeout)
			defer taskCancel()

			w, diag := c.fallbackSource.FetchWeather(taskCtx, loc.Latitude, loc.Longitude, now)

			mu.Lock()
			defer mu.Unlock()
			obs.Diagnostics = append(obs.Diagnostics, diag)
			if w != nil {
				weatherBySource[c.fallbackSource.Name()] = w
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warnw("collection budget exceeded, returning partial results",
			"location", loc.ID(), "budget", c.totalTimeout)
		// Outstanding adapters see the cancelled context; their late
		// results are discarded with the observation already snapshotted.
	}

	mu.Lock()
	snapshot := *obs
	// Copy the source map so that an adapter finishing after the budget
	// expired cannot mutate the returned observation.
	snapshot.Sources = make(map[types.SourceID]map[types.Pollutant]types.Measurement, len(obs.Sources))
	for src, measurements := range obs.Sources {
		snapshot.Sources[src] = measurements
	}
	snapshot.Diagnostics = append([]types.Diagnostics(nil), obs.Diagnostics...)
	snapshot.Weather = pickWeather(weatherBySource)
	mu.Unlock()

	c.logger.Debugw("collection complete",
		"location", loc.ID(),
		"sources", len(snapshot.Sources),
		"weather", snapshot.Weather != nil)
	return &snapshot
}

// pickWeather prefers the model's meteorology, then ground-station
// weather, then the open forecast fallback.
func pickWeather(bySource map[types.SourceID]*types.Weather) *types.Weather {
	for _, src := range []types.SourceID{types.SourceGEOSCF, types.SourceWAQI, types.SourceOpenMeteo} {
		if w, ok := bySource[src]; ok {
			return w
		}
	}
	return nil
}
