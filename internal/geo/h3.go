package geo

import (
	"github.com/uber/h3-go/v4"
)

// H3 resolution levels for different use cases.
// See: https://h3geo.org/docs/core-library/restable
const (
	// H3ResolutionDispatch is used for travel-time memo keys and address
	// annotation (~460m edge, ~0.74 km²). Coarse enough that nearby jobs
	// share cache entries, fine enough to separate neighbourhoods.
	H3ResolutionDispatch = 8
)

// CellFor returns the H3 cell index (as hex string) of a location at the
// dispatch resolution. Returns the zero cell string on out-of-range input,
// which should be validated upstream.
func CellFor(lat, lng float64) string {
	latLng := h3.NewLatLng(lat, lng)
	cell, err := h3.LatLngToCell(latLng, H3ResolutionDispatch)
	if err != nil {
		return h3.Cell(0).String()
	}
	return cell.String()
}

// CellToLatLng returns the center coordinates of an H3 cell hex string.
func CellToLatLng(s string) (lat, lng float64) {
	latLng, err := h3.CellFromString(s).LatLng()
	if err != nil {
		return 0, 0
	}
	return latLng.Lat, latLng.Lng
}
