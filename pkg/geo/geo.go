// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// EarthRadiusKM is the mean Earth radius used by the haversine formula
const EarthRadiusKM = 6371.0

// Haversine returns the great-circle distance between a and b in kilometers
func Haversine(a, b models.Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// Distance returns the haversine distance and true, or false when either
// coordinate is absent. An unknown distance is not zero.
func Distance(a, b *models.Coordinates) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return Haversine(*a, *b), true
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
