package geoindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ridepulse/ridepulse/pkg/geo"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
)

const (
	// metadataTTL bounds how long a silent driver stays visible.
	metadataTTL = 30 * time.Second
)

func regionKey(region string) string {
	return "drivers:" + region
}

func driverKey(driverID string) string {
	return "driver:" + driverID
}

// Index keeps per-region geospatial sets and per-driver metadata hashes.
// Region isolation is purely key-namespacing: a radius query against one
// region can never return drivers indexed under another. It also tracks
// per-cell driver presence in memory for the supply snapshot publisher.
type Index struct {
	redis *redisclient.Client
	ttl   time.Duration

	mu    sync.Mutex
	cells map[string]cellEntry // driver id -> last reported cell
}

type cellEntry struct {
	cell   string
	region string
	tenant string
	seenAt time.Time
}

// NewIndex creates a geo index over the given Redis client.
func NewIndex(redis *redisclient.Client, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = metadataTTL
	}
	return &Index{
		redis: redis,
		ttl:   ttl,
		cells: make(map[string]cellEntry),
	}
}

// Upsert writes the driver's position into the region set and overwrites the
// metadata hash. Last write wins; every call resets the metadata TTL. A
// region change is just an upsert in the new region: the old geo entry goes
// stale and its metadata expiry hides it from candidate filtering.
func (i *Index) Upsert(ctx context.Context, tenant string, loc DriverLocation) error {
	if loc.Status == "" {
		loc.Status = DriverIdle
	}

	if err := i.redis.GeoAdd(ctx, regionKey(loc.Region), loc.Longitude, loc.Latitude, loc.DriverID); err != nil {
		return fmt.Errorf("geo add driver %s: %w", loc.DriverID, err)
	}

	key := driverKey(loc.DriverID)
	values := []interface{}{
		"region", loc.Region,
		"status", string(loc.Status),
		"vehicle_tier", loc.VehicleTier,
		"latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
		"longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		"last_seen", time.Now().UTC().Format(time.RFC3339),
	}
	// Omitted rating fields stay absent in the hash, so readers can tell an
	// unrated driver from one rated exactly zero.
	if loc.Rating != nil {
		values = append(values, "rating", strconv.FormatFloat(*loc.Rating, 'f', -1, 64))
	}
	if loc.DeclineRate != nil {
		values = append(values, "decline_rate", strconv.FormatFloat(*loc.DeclineRate, 'f', -1, 64))
	}
	err := i.redis.HashSetValues(ctx, key, values...)
	if err != nil {
		return fmt.Errorf("write driver metadata %s: %w", loc.DriverID, err)
	}
	if err := i.redis.Expire(ctx, key, i.ttl); err != nil {
		return fmt.Errorf("expire driver metadata %s: %w", loc.DriverID, err)
	}

	i.trackCell(tenant, loc)
	return nil
}

func (i *Index) trackCell(tenant string, loc DriverLocation) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cells[loc.DriverID] = cellEntry{
		cell:   geo.SurgeCell(loc.Latitude, loc.Longitude),
		region: loc.Region,
		tenant: tenant,
		seenAt: time.Now(),
	}
}

// Radius returns up to limit drivers within radiusKm of the point, ascending
// by distance.
func (i *Index) Radius(ctx context.Context, region string, lat, lng, radiusKm float64, limit int) ([]Candidate, error) {
	results, err := i.redis.GeoRadius(ctx, regionKey(region), lng, lat, radiusKm, limit)
	if err != nil {
		return nil, fmt.Errorf("radius query %s: %w", region, err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{DriverID: r.Member, DistanceKm: r.DistanceKm})
	}
	return candidates, nil
}

// Metadata reads the driver metadata hash. Found is false when the hash has
// expired or was never written.
func (i *Index) Metadata(ctx context.Context, driverID string) (DriverMetadata, error) {
	raw, err := i.redis.HashGetAll(ctx, driverKey(driverID))
	if err != nil {
		return DriverMetadata{}, fmt.Errorf("read driver metadata %s: %w", driverID, err)
	}
	if len(raw) == 0 {
		return DriverMetadata{DriverID: driverID}, nil
	}

	meta := DriverMetadata{
		DriverID:    driverID,
		Region:      raw["region"],
		Status:      DriverStatus(raw["status"]),
		VehicleTier: raw["vehicle_tier"],
		Found:       true,
	}
	if v, ok := raw["rating"]; ok {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			meta.Rating = f
			meta.RatingKnown = true
		}
	}
	if v, ok := raw["decline_rate"]; ok {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			meta.DeclineRate = f
			meta.DeclineRateKnown = true
		}
	}
	meta.Latitude, _ = strconv.ParseFloat(raw["latitude"], 64)
	meta.Longitude, _ = strconv.ParseFloat(raw["longitude"], 64)
	if ts, err := time.Parse(time.RFC3339, raw["last_seen"]); err == nil {
		meta.LastSeen = ts
	}
	return meta, nil
}

// Remove takes a driver out of the index immediately instead of waiting for
// the metadata TTL, e.g. when a driver goes offline.
func (i *Index) Remove(ctx context.Context, region, driverID string) error {
	if err := i.redis.GeoRemove(ctx, regionKey(region), driverID); err != nil {
		return fmt.Errorf("geo remove driver %s: %w", driverID, err)
	}
	if err := i.redis.Delete(ctx, driverKey(driverID)); err != nil {
		return fmt.Errorf("delete driver metadata %s: %w", driverID, err)
	}

	i.mu.Lock()
	delete(i.cells, driverID)
	i.mu.Unlock()
	return nil
}

// SetStatus overwrites only the status field and leaves the TTL intact, so a
// status change does not extend a driver's visibility window.
func (i *Index) SetStatus(ctx context.Context, driverID string, status DriverStatus) error {
	if err := i.redis.HashSetField(ctx, driverKey(driverID), "status", string(status)); err != nil {
		return fmt.Errorf("set driver status %s: %w", driverID, err)
	}
	return nil
}

// CellCount is the per-cell active driver tally used by the snapshot publisher.
type CellCount struct {
	Cell    string
	Region  string
	Tenant  string
	Drivers int
}

// ActiveCellCounts tallies drivers that reported within the metadata TTL,
// grouped by surge cell.
func (i *Index) ActiveCellCounts() []CellCount {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := time.Now().Add(-i.ttl)
	counts := make(map[string]*CellCount)

	for driverID, entry := range i.cells {
		if entry.seenAt.Before(cutoff) {
			delete(i.cells, driverID)
			continue
		}
		cc, ok := counts[entry.cell]
		if !ok {
			cc = &CellCount{Cell: entry.cell, Region: entry.region, Tenant: entry.tenant}
			counts[entry.cell] = cc
		}
		cc.Drivers++
	}

	out := make([]CellCount, 0, len(counts))
	for _, cc := range counts {
		out = append(out, *cc)
	}
	return out
}
