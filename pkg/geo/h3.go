package geo

import (
	"github.com/uber/h3-go/v4"
)

// H3 resolution levels for different use cases.
// See: https://h3geo.org/docs/core-library/restable
const (
	// H3ResolutionMatching is used for driver-rider matching (~175m edge, ~0.11 km²).
	H3ResolutionMatching = 9

	// H3ResolutionSurge is used for surge pricing zones (~460m edge, ~0.74 km²).
	H3ResolutionSurge = 8
)

// LatLngToCell converts latitude/longitude to an H3 cell index at the given
// resolution. Returns the zero cell on out-of-range input, which callers
// should validate upstream.
func LatLngToCell(lat, lng float64, resolution int) h3.Cell {
	latLng := h3.NewLatLng(lat, lng)
	cell, err := h3.LatLngToCell(latLng, resolution)
	if err != nil {
		return 0
	}
	return cell
}

// SurgeCell returns the H3 cell index (as string) for surge pricing at the
// given location.
func SurgeCell(lat, lng float64) string {
	return LatLngToCell(lat, lng, H3ResolutionSurge).String()
}

// MatchingCell returns the H3 cell index (as string) for driver-rider matching.
func MatchingCell(lat, lng float64) string {
	return LatLngToCell(lat, lng, H3ResolutionMatching).String()
}

// CellToLatLng returns the center coordinates of an H3 cell.
func CellToLatLng(cell h3.Cell) (lat, lng float64) {
	latLng, err := cell.LatLng()
	if err != nil {
		return 0, 0
	}
	return latLng.Lat, latLng.Lng
}

// StringToCell parses an H3 cell hex string back to a Cell.
func StringToCell(s string) h3.Cell {
	return h3.CellFromString(s)
}
