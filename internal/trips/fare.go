package trips

import "math"

// Fare pricing constants, in the trip currency.
const (
	BaseFare        = 2.50
	PerKmRate       = 1.20
	PerMinRate      = 0.25
	MinimumFare     = 5.00
	DefaultCurrency = "usd"
)

// Fare computes the trip fare: base plus distance and time components, scaled
// by the surge factor, rounded to cents and floored at the minimum fare.
func Fare(distanceKm, durationMin, surgeFactor float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	if durationMin < 0 {
		durationMin = 0
	}
	if surgeFactor < 1.0 {
		surgeFactor = 1.0
	}

	raw := (BaseFare + PerKmRate*distanceKm + PerMinRate*durationMin) * surgeFactor
	fare := math.Round(raw*100) / 100
	if fare < MinimumFare {
		return MinimumFare
	}
	return fare
}
