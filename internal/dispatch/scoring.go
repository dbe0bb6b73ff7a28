package dispatch

import "sort"

// ScoringWeights weight the three candidate signals. They are flag-gated:
// the standard triple is distance-heavy, the A/B variant rebalances toward
// rating.
type ScoringWeights struct {
	Distance    float64
	Rating      float64
	Reliability float64
}

var (
	// StandardWeights is the default scoring triple.
	StandardWeights = ScoringWeights{Distance: 0.5, Rating: 0.3, Reliability: 0.2}
	// VariantWeights is the rating-rebalanced A/B triple.
	VariantWeights = ScoringWeights{Distance: 0.4, Rating: 0.4, Reliability: 0.2}
)

const (
	// distanceFloorKm and declineFloor keep the inverse terms bounded.
	distanceFloorKm = 0.01
	declineFloor    = 0.01

	// Defaults for drivers whose metadata is missing those fields.
	defaultRating      = 4.0
	defaultDeclineRate = 0.1
)

// ScoredCandidate is a driver considered for one dispatch attempt. The
// Missing flags mark fields absent from the driver's metadata hash; a present
// zero is a real value, not a gap.
type ScoredCandidate struct {
	DriverID           string
	DistanceKm         float64
	Rating             float64
	RatingMissing      bool
	DeclineRate        float64
	DeclineRateMissing bool
	Score              float64
}

// Score computes the composite: closer, better-rated, rarely-declining
// drivers win. Inverse terms are floored so a driver standing on the pickup
// point does not produce an unbounded score. Defaults apply only to missing
// metadata fields; a reported decline rate of zero is floored, not defaulted.
func Score(c ScoredCandidate, w ScoringWeights) float64 {
	distance := c.DistanceKm
	if distance < distanceFloorKm {
		distance = distanceFloorKm
	}

	rating := c.Rating
	if c.RatingMissing {
		rating = defaultRating
	}

	decline := c.DeclineRate
	if c.DeclineRateMissing {
		decline = defaultDeclineRate
	}
	if decline < declineFloor {
		decline = declineFloor
	}

	return w.Distance*(1/distance) + w.Rating*rating + w.Reliability*(1/decline)
}

// Rank scores and orders candidates descending by score. The sort is stable,
// so equal scores keep the caller's order. Candidates arrive ascending by
// distance from the geo index, making ascending distance the tie-break.
func Rank(candidates []ScoredCandidate, w ScoringWeights) []ScoredCandidate {
	ranked := make([]ScoredCandidate, len(candidates))
	copy(ranked, candidates)

	for i := range ranked {
		ranked[i].Score = Score(ranked[i], w)
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked
}
