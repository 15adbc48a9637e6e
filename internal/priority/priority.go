// Package priority decides which locations the scheduler collects and
// in what order. Alert subscriptions and search telemetry are persisted
// through GORM; the scoring view lives in memory behind one mutex.
package priority

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/airfuse/airfuse/internal/geo"
	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/internal/types"
)

// Boost caps. A location's demand boost saturates so one hot location
// cannot starve the rest of the queue.
const (
	searchBoostStep = 0.1
	searchBoostCap  = 1.2
	alertBoostStep  = 2.0
	alertBoostCap   = 2.0

	// minSearchCount is how many searches promote an un-alerted
	// location into scheduled collection.
	minSearchCount = 3

	baseInterval = time.Hour
)

// AlertLocation is one user's subscription to one location.
type AlertLocation struct {
	ID           string    `gorm:"primaryKey;size:36"`
	UserID       string    `gorm:"size:64;index;uniqueIndex:idx_user_location"`
	LocationID   string    `gorm:"size:32;index;uniqueIndex:idx_user_location"`
	City         string    `gorm:"size:128"`
	Latitude     float64
	Longitude    float64
	AQIThreshold int
	Active       bool `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName implements the GORM table naming override.
func (AlertLocation) TableName() string { return "alert_locations" }

// UserPreferences carries a user's delivery settings.
type UserPreferences struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Channels  string `gorm:"size:256"` // comma-separated
	QuietFrom int
	QuietTo   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements the GORM table naming override.
func (UserPreferences) TableName() string { return "user_preferences" }

// SearchLocation is the cumulative search counter for one location.
type SearchLocation struct {
	LocationID  string `gorm:"primaryKey;size:32"`
	City        string `gorm:"size:128"`
	Latitude    float64
	Longitude   float64
	SearchCount int64
	DemandBoost float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName implements the GORM table naming override.
func (SearchLocation) TableName() string { return "search_locations" }

// AlertRequest is the input to RegisterAlert.
type AlertRequest struct {
	UserID       string
	Locations    []types.Location
	AQIThreshold int
	Channels     string
}

// Index is the collection priority view.
type Index struct {
	db *gorm.DB

	mu      sync.Mutex
	entries map[string]*types.PriorityEntry
	// subscribers mirrors the (user_id, location_id) uniqueness of the
	// alert table so re-registrations cannot inflate the counts.
	subscribers map[string]map[string]struct{}
}

// New builds the index. db may be nil for a memory-only index (tests).
func New(db *gorm.DB) *Index {
	return &Index{
		db:          db,
		entries:     make(map[string]*types.PriorityEntry),
		subscribers: make(map[string]map[string]struct{}),
	}
}

// Migrate creates the subscription and telemetry tables.
func (x *Index) Migrate() error {
	if x.db == nil {
		return nil
	}
	return x.db.AutoMigrate(&AlertLocation{}, &UserPreferences{}, &SearchLocation{})
}

// Load rebuilds the in-memory view from the database at start-up.
func (x *Index) Load(ctx context.Context) error {
	if x.db == nil {
		return nil
	}

	var searches []SearchLocation
	if err := x.db.WithContext(ctx).Find(&searches).Error; err != nil {
		return err
	}
	var alerts []AlertLocation
	if err := x.db.WithContext(ctx).Where("active = ?", true).Find(&alerts).Error; err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range searches {
		e := x.entryLocked(s.LocationID, s.City, s.Latitude, s.Longitude)
		e.SearchCount = s.SearchCount
		e.DemandBoost = s.DemandBoost
	}
	for _, a := range alerts {
		e := x.entryLocked(a.LocationID, a.City, a.Latitude, a.Longitude)
		if x.subscribeLocked(a.LocationID, a.UserID) {
			e.AlertUserCount++
		}
	}
	log.Infow("priority index loaded", "locations", len(x.entries))
	return nil
}

// RegisterSearch records one search for a location: the persistent
// counter goes up by one and the demand boost rises toward its cap.
func (x *Index) RegisterSearch(ctx context.Context, lat, lon float64, city string) error {
	id := types.LocationID(lat, lon)

	x.mu.Lock()
	e := x.entryLocked(id, city, lat, lon)
	e.SearchCount++
	e.DemandBoost = capBoost(e.DemandBoost+searchBoostStep, searchBoostCap)
	count, boost := e.SearchCount, e.DemandBoost
	x.mu.Unlock()

	if x.db == nil {
		return nil
	}
	return x.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "location_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"search_count": count,
			"demand_boost": boost,
			"city":         city,
		}),
	}).Create(&SearchLocation{
		LocationID:  id,
		City:        city,
		Latitude:    lat,
		Longitude:   lon,
		SearchCount: count,
		DemandBoost: boost,
	}).Error
}

// RegisterAlert subscribes a user to one or more locations, pinning
// them into the collection set.
func (x *Index) RegisterAlert(ctx context.Context, req AlertRequest) error {
	for _, loc := range req.Locations {
		id := loc.ID()

		x.mu.Lock()
		e := x.entryLocked(id, loc.Name, loc.Latitude, loc.Longitude)
		if x.subscribeLocked(id, req.UserID) {
			e.AlertUserCount++
			e.DemandBoost = capBoost(e.DemandBoost+alertBoostStep, searchBoostCap+alertBoostCap)
		}
		x.mu.Unlock()

		if x.db == nil {
			continue
		}
		row := &AlertLocation{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			LocationID:   id,
			City:         loc.Name,
			Latitude:     loc.Latitude,
			Longitude:    loc.Longitude,
			AQIThreshold: req.AQIThreshold,
			Active:       true,
		}
		err := x.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "location_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"active":        true,
				"aqi_threshold": req.AQIThreshold,
			}),
		}).Create(row).Error
		if err != nil {
			return err
		}
	}

	if x.db == nil {
		return nil
	}
	return x.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&UserPreferences{
		UserID:   req.UserID,
		Channels: req.Channels,
	}).Error
}

// PriorityLocations returns up to limit entries ordered by score
// descending, alert count breaking ties.
func (x *Index) PriorityLocations(limit int) []types.PriorityEntry {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make([]types.PriorityEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Score(), out[j].Score()
		if si != sj {
			return si > sj
		}
		if out[i].AlertUserCount != out[j].AlertUserCount {
			return out[i].AlertUserCount > out[j].AlertUserCount
		}
		return out[i].LocationID < out[j].LocationID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ShouldCollect reports whether a location is due. Alert subscribers
// shorten the interval; heavily searched locations qualify on the base
// interval.
func (x *Index) ShouldCollect(locationID string, now time.Time) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[locationID]
	if !ok {
		return false
	}
	elapsed := now.Sub(e.LastCollected)
	interval := baseInterval
	if e.AlertUserCount > 0 {
		interval = baseInterval / time.Duration(1+e.AlertUserCount)
	} else if e.SearchCount < minSearchCount {
		return false
	}
	// A degraded last run gets a sooner retry.
	if degraded(e.LastQuality) {
		interval /= 2
	}
	return elapsed >= interval
}

// MarkCollected stamps the location after a completed pipeline run. The
// run's quality feeds the next ShouldCollect interval.
func (x *Index) MarkCollected(locationID string, quality types.Quality, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[locationID]; ok {
		e.LastCollected = now
		e.LastQuality = quality
	}
}

// FindNearest returns the closest tracked location within radiusKM of
// the point, or nil. A bounding-box pre-filter keeps the Haversine
// evaluations cheap.
func (x *Index) FindNearest(lat, lon, radiusKM float64) *types.PriorityEntry {
	latDelta, lonDelta := geo.BoundingDegrees(lat, radiusKM)

	x.mu.Lock()
	defer x.mu.Unlock()

	var best *types.PriorityEntry
	bestDist := radiusKM
	for _, e := range x.entries {
		if e.Latitude < lat-latDelta || e.Latitude > lat+latDelta ||
			e.Longitude < lon-lonDelta || e.Longitude > lon+lonDelta {
			continue
		}
		d := geo.HaversineKM(lat, lon, e.Latitude, e.Longitude)
		if d <= bestDist {
			copied := *e
			best = &copied
			bestDist = d
		}
	}
	return best
}

// Seed inserts or replaces one entry in the in-memory view. Tests and
// the loader use it.
func (x *Index) Seed(entry types.PriorityEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	copied := entry
	copied.PriorityScore = copied.Score()
	x.entries[entry.LocationID] = &copied
}

func (x *Index) entryLocked(id, city string, lat, lon float64) *types.PriorityEntry {
	e, ok := x.entries[id]
	if !ok {
		e = &types.PriorityEntry{
			LocationID: id,
			City:       city,
			Latitude:   lat,
			Longitude:  lon,
		}
		x.entries[id] = e
	}
	if e.City == "" {
		e.City = city
	}
	return e
}

// subscribeLocked records one (location, user) subscription and reports
// whether it is new. Caller holds the mutex.
func (x *Index) subscribeLocked(locationID, userID string) bool {
	subs, ok := x.subscribers[locationID]
	if !ok {
		subs = make(map[string]struct{})
		x.subscribers[locationID] = subs
	}
	if _, seen := subs[userID]; seen {
		return false
	}
	subs[userID] = struct{}{}
	return true
}

func degraded(q types.Quality) bool {
	return q != "" && q != types.QualityGood && q != types.QualityNASACompliant
}

func capBoost(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}
