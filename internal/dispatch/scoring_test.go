package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreStandardWeights(t *testing.T) {
	c := ScoredCandidate{DistanceKm: 2.0, Rating: 4.5, DeclineRate: 0.2}

	// 0.5*(1/2) + 0.3*4.5 + 0.2*(1/0.2)
	expected := 0.5*0.5 + 0.3*4.5 + 0.2*5.0
	assert.InDelta(t, expected, Score(c, StandardWeights), 1e-9)
}

func TestScoreVariantWeights(t *testing.T) {
	c := ScoredCandidate{DistanceKm: 2.0, Rating: 4.5, DeclineRate: 0.2}

	expected := 0.4*0.5 + 0.4*4.5 + 0.2*5.0
	assert.InDelta(t, expected, Score(c, VariantWeights), 1e-9)
}

func TestScoreFloorsDistance(t *testing.T) {
	onTop := ScoredCandidate{DistanceKm: 0, Rating: 4.0, DeclineRate: 0.1}
	atFloor := ScoredCandidate{DistanceKm: 0.01, Rating: 4.0, DeclineRate: 0.1}

	// A driver standing on the pickup point scores the same as one at the floor.
	assert.Equal(t, Score(atFloor, StandardWeights), Score(onTop, StandardWeights))
}

func TestScoreFloorsDeclineRate(t *testing.T) {
	perfect := ScoredCandidate{DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0.001}
	zero := ScoredCandidate{DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0}
	atFloor := ScoredCandidate{DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0.01}

	// A reported zero sits on the floor like any other sub-floor value; it is
	// not treated as a missing field.
	assert.Equal(t, Score(atFloor, StandardWeights), Score(perfect, StandardWeights))
	assert.Equal(t, Score(atFloor, StandardWeights), Score(zero, StandardWeights))
}

func TestScoreAppliesDefaultsForMissingMetadata(t *testing.T) {
	missing := ScoredCandidate{DistanceKm: 1.0, RatingMissing: true, DeclineRateMissing: true}
	explicit := ScoredCandidate{DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0.1}

	assert.Equal(t, Score(explicit, StandardWeights), Score(missing, StandardWeights))

	// A known rating of zero stays zero, scoring well below the default.
	ratedZero := ScoredCandidate{DistanceKm: 1.0, Rating: 0, DeclineRate: 0.1}
	assert.Less(t, Score(ratedZero, StandardWeights), Score(missing, StandardWeights))
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	candidates := []ScoredCandidate{
		{DriverID: "far-good", DistanceKm: 4.0, Rating: 5.0, DeclineRate: 0.01},
		{DriverID: "near-bad", DistanceKm: 0.1, Rating: 3.0, DeclineRate: 0.5},
		{DriverID: "near-good", DistanceKm: 0.1, Rating: 5.0, DeclineRate: 0.01},
	}

	ranked := Rank(candidates, StandardWeights)

	assert.Equal(t, "near-good", ranked[0].DriverID)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestRankTieBreaksByAscendingDistance(t *testing.T) {
	// Identical scoring inputs: the stable sort must keep geo order, which
	// is ascending by distance.
	candidates := []ScoredCandidate{
		{DriverID: "closer", DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0.1},
		{DriverID: "farther", DistanceKm: 1.0, Rating: 4.0, DeclineRate: 0.1},
	}

	ranked := Rank(candidates, StandardWeights)
	assert.Equal(t, "closer", ranked[0].DriverID)
	assert.Equal(t, "farther", ranked[1].DriverID)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	candidates := []ScoredCandidate{
		{DriverID: "b", DistanceKm: 3.0, Rating: 3.0, DeclineRate: 0.3},
		{DriverID: "a", DistanceKm: 0.5, Rating: 5.0, DeclineRate: 0.01},
	}

	Rank(candidates, StandardWeights)
	assert.Equal(t, "b", candidates[0].DriverID)
	assert.Zero(t, candidates[0].Score)
}

func TestTierServes(t *testing.T) {
	assert.True(t, TierPremium.Serves(TierStandard))
	assert.True(t, TierStandard.Serves(TierStandard))
	assert.False(t, TierEconomy.Serves(TierPremium))
	assert.False(t, VehicleTier("HOVERCRAFT").Serves(TierEconomy))
}
