// Package geo holds the great-circle math used for location samples.
package geo

import "math"

// EarthRadiusKM is the equatorial radius used by Distance.
const EarthRadiusKM = 6378.137

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceTo returns the haversine distance from p to q in meters.
func (p Point) DistanceTo(q Point) float64 {
	return Distance(p.Latitude, p.Longitude, q.Latitude, q.Longitude)
}

// Valid reports whether both coordinates are finite numbers.
// Range is not checked; out-of-range degrees still produce a distance.
func (p Point) Valid() bool {
	return Finite(p.Latitude) && Finite(p.Longitude)
}

// Distance returns the great-circle distance in meters between two points given in decimal degrees.
// Inputs are not range checked.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	// each operand goes to radians on its own before the subtraction
	dLat := radians(lat2) - radians(lat1)
	dLon := radians(lon2) - radians(lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKM * c * 1000
}

// Finite reports whether v is neither NaN nor an infinity.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
