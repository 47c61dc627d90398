// Package geo computes great-circle distances between coordinates.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Distance returns the haversine distance in meters between two points given
// in degrees. Invalid input yields NaN, which callers must treat as unverifiable.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	if !ValidCoordinates(lat1, lng1) || !ValidCoordinates(lat2, lng2) {
		return math.NaN()
	}

	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// ValidCoordinates reports whether lat/lng are finite and within range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
