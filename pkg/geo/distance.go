package geo

import "math"

const (
	earthRadiusMiles = 3958.8

	// averageSpeedMPH is the assumed driving speed when no live traffic
	// estimate is available.
	averageSpeedMPH = 30.0
)

// HaversineMiles returns the great-circle distance in miles between two
// coordinates, rounded to two decimal places.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadiusMiles*c*100) / 100
}

// DriveMinutes returns the base driving time in minutes for a distance in
// miles at the average speed. Traffic multipliers are applied by the caller,
// so the result is left unrounded.
func DriveMinutes(distanceMiles float64) float64 {
	return distanceMiles / averageSpeedMPH * 60
}
