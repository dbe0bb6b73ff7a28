package surge

import (
	"time"
)

// Observation is one supply/demand sample for a cell.
type Observation struct {
	DriverCount   int
	OpenRideCount int
	ObservedAt    time.Time
}

// Compute derives the surge factor from the observations inside the window.
// Each sample contributes its own demand ratio rides/max(drivers, 1); samples
// are rank-weighted by recency, rank 1 for the oldest through N for the
// newest, and the weighted sum is normalized by N(N+1)/2. Observations must
// arrive in ascending time order, which is how the window zset returns them.
// The clamp to [1.0, max] happens once at the end; intermediate values may
// dip below 1.
func Compute(obs []Observation, now time.Time, window time.Duration, factor, max float64) float64 {
	if window <= 0 {
		return 1.0
	}

	ratios := make([]float64, 0, len(obs))
	for _, o := range obs {
		age := now.Sub(o.ObservedAt)
		if age < 0 || age >= window {
			continue
		}
		ratios = append(ratios, demandRatio(o.DriverCount, o.OpenRideCount))
	}
	if len(ratios) == 0 {
		// Nothing in the window; the caller falls back elsewhere.
		return 1.0
	}

	var weighted float64
	for i, r := range ratios {
		weighted += float64(i+1) * r
	}
	n := float64(len(ratios))
	ratio := weighted / (n * (n + 1) / 2)

	return clampSurge(1.0+factor*(ratio-1.0), max)
}

// Instant computes the factor from a single fresh sample, used on ingest so a
// cell has a usable factor before its window fills.
func Instant(driverCount, openRideCount int, factor, max float64) float64 {
	ratio := demandRatio(driverCount, openRideCount)
	return clampSurge(1.0+factor*(ratio-1.0), max)
}

// demandRatio floors supply at one driver so empty cells do not divide by
// zero.
func demandRatio(drivers, rides int) float64 {
	supply := float64(drivers)
	if supply < 1 {
		supply = 1
	}
	return float64(rides) / supply
}

func clampSurge(surge, max float64) float64 {
	if surge < 1.0 {
		return 1.0
	}
	if surge > max {
		return max
	}
	return surge
}
