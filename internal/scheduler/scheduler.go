// Package scheduler drives the hourly collection cycle: it asks the
// priority index for due locations, runs each one through the
// collection, fusion, AQI, and persistence stages, and triggers the
// daily rollup after midnight UTC.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/airfuse/airfuse/internal/aqicalc"
	"github.com/airfuse/airfuse/internal/collector"
	"github.com/airfuse/airfuse/internal/config"
	"github.com/airfuse/airfuse/internal/fusion"
	"github.com/airfuse/airfuse/internal/history"
	"github.com/airfuse/airfuse/internal/priority"
	"github.com/airfuse/airfuse/internal/storage"
	"github.com/airfuse/airfuse/internal/types"
)

// TickInterval is the cadence of the collection cycle.
const TickInterval = time.Hour

// Scheduler owns the per-tick pipeline. Locations are processed
// sequentially so database write contention stays bounded; concurrency
// lives inside the collector.
type Scheduler struct {
	collector *collector.Collector
	fusion    *fusion.Engine
	calc      *aqicalc.Calculator
	history   history.Store
	store     *storage.Client
	index     *priority.Index
	bbox      config.BoundingBox
	limit     int
	logger    *zap.SugaredLogger

	running atomic.Bool
}

// New wires the pipeline stages together.
func New(col *collector.Collector, eng *fusion.Engine, calc *aqicalc.Calculator, hist history.Store, store *storage.Client, index *priority.Index, bbox config.BoundingBox, limit int, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		collector: col,
		fusion:    eng,
		calc:      calc,
		history:   hist,
		store:     store,
		index:     index,
		bbox:      bbox,
		limit:     limit,
		logger:    logger.Named("scheduler"),
	}
}

// Run ticks until the context is cancelled. The first tick fires
// immediately so a fresh deployment produces data without waiting an
// hour.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one collection cycle. A tick still in flight when the next
// one fires makes the new tick a no-op.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous tick still running, skipping")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	now := start.UTC()

	targets := s.index.PriorityLocations(s.limit)
	collected, failed := 0, 0

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if !s.index.ShouldCollect(target.LocationID, now) {
			continue
		}
		if err := s.collectOne(ctx, target, now); err != nil {
			failed++
			pipelineErrors.Inc()
			s.logger.Errorw("location pipeline failed",
				"location", target.LocationID, "city", target.City, "error", err)
			continue
		}
		collected++
		locationsCollected.Inc()
	}

	if now.Hour() == 0 && s.store != nil {
		s.rollupYesterday(ctx, now)
	}

	elapsed := time.Since(start)
	tickDuration.Observe(elapsed.Seconds())
	s.logger.Infow("tick complete",
		"targets", len(targets),
		"collected", collected,
		"failed", failed,
		"elapsed", elapsed)
}

// collectOne runs the full pipeline for one location.
func (s *Scheduler) collectOne(ctx context.Context, target types.PriorityEntry, now time.Time) error {
	loc := types.Location{
		Latitude:  target.Latitude,
		Longitude: target.Longitude,
		Name:      target.City,
	}
	includeSatellite := s.bbox.Contains(loc.Latitude, loc.Longitude)

	obs := s.collector.Collect(ctx, loc, includeSatellite)
	if len(obs.Sources) == 0 {
		return fmt.Errorf("no source returned data")
	}

	fused := s.fusion.Fuse(obs)
	if len(fused) == 0 {
		return fmt.Errorf("no pollutant survived fusion")
	}

	entry := hourlyEntry(obs.Timestamp, fused)
	if err := s.history.Append(ctx, loc.ID(), entry); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	hist, err := s.history.Load(ctx, loc.ID())
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	overall := s.calc.Calculate(fused, hist, obs.Weather, obs.Timestamp)
	if overall == nil {
		return fmt.Errorf("no pollutant carries an EPA AQI")
	}

	if s.store != nil {
		rec := storage.BuildHourlyRecord(loc, obs.Timestamp, overall, fused, obs.Weather)
		if err := s.store.UpsertHourly(ctx, rec); err != nil {
			return fmt.Errorf("storing hourly row: %w", err)
		}
		rowsStored.Inc()
	}

	s.index.MarkCollected(loc.ID(), collectionQuality(obs), now)
	return nil
}

// rollupYesterday aggregates the previous UTC day into daily trends.
func (s *Scheduler) rollupYesterday(ctx context.Context, now time.Time) {
	yesterday := now.AddDate(0, 0, -1)
	created, err := s.store.RollupDaily(ctx, yesterday)
	if err != nil {
		pipelineErrors.Inc()
		s.logger.Errorw("daily rollup failed", "date", yesterday.Format("2006-01-02"), "error", err)
		return
	}
	dailyAveragesCreated.Add(float64(created))
	s.logger.Infow("daily rollup complete",
		"date", yesterday.Format("2006-01-02"), "rows", created)
}

// hourlyEntry converts the fused map into the history payload.
func hourlyEntry(hour time.Time, fused map[types.Pollutant]types.FusedConcentration) types.HourlyEntry {
	pollutants := make(map[types.Pollutant]types.HourlyValue, len(fused))
	for p, fc := range fused {
		source := types.SourceID("")
		if len(fc.SourcesUsed) > 0 {
			source = fc.SourcesUsed[0]
		}
		pollutants[p] = types.HourlyValue{
			Value:         fc.Value,
			Units:         fc.Units,
			Source:        source,
			Quality:       qualityFromConfidence(fc.Confidence),
			BiasCorrected: fc.BiasCorrected,
		}
	}
	return types.HourlyEntry{Hour: hour, Pollutants: pollutants}
}

func qualityFromConfidence(confidence float64) types.Quality {
	if confidence >= 0.8 {
		return types.QualityGood
	}
	return types.QualityModerate
}

// collectionQuality grades the cycle by how many pollutant sources
// actually contributed.
func collectionQuality(obs *types.Observation) types.Quality {
	switch {
	case len(obs.Sources) >= 3:
		return types.QualityGood
	case len(obs.Sources) >= 1:
		return types.QualityModerate
	default:
		return types.QualityInsufficient
	}
}
