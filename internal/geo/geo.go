// Package geo provides the small set of great-circle helpers used by the
// ground-station adapters and the location prioritiser.
package geo

import "math"

// EarthRadiusKM is the mean Earth radius.
const EarthRadiusKM = 6371.0

// KMPerMile converts statute miles to kilometers.
const KMPerMile = 1.609344

// HaversineKM returns the great-circle distance between two points in km.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(a))
}

// BoundingDegrees returns the approximate latitude and longitude
// half-spans of a bounding box radiusKM wide, for a cheap pre-filter
// before Haversine refinement.
func BoundingDegrees(lat, radiusKM float64) (dLat, dLon float64) {
	dLat = radiusKM / 111.0
	cosLat := math.Cos(radians(lat))
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon = radiusKM / (111.0 * cosLat)
	return dLat, dLon
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
