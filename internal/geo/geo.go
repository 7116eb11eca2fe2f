package geo

import "math"

// Unit selects the Earth-radius constant used for distances.
type Unit int

const (
	Miles Unit = iota
	Kilometers
)

// One radius per unit, applied everywhere so matching and progress
// tracking cannot drift apart.
const (
	EarthRadiusMiles = 3958.8
	EarthRadiusKm    = 6371.0
	KmPerMile        = 1.609344
)

// Distance returns the great-circle (Haversine) distance between two
// points in the requested unit. NaN inputs propagate to the result
// rather than erroring.
func Distance(lat1, lon1, lat2, lon2 float64, unit Unit) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	if unit == Kilometers {
		return EarthRadiusKm * c
	}
	return EarthRadiusMiles * c
}

// IsWithinRadius reports whether (lat, lon) lies within radiusMiles of
// the center point.
func IsWithinRadius(centerLat, centerLon, lat, lon, radiusMiles float64) bool {
	return Distance(centerLat, centerLon, lat, lon, Miles) <= radiusMiles
}

// BoundingBox returns the min/max latitudes and longitudes of a box
// containing every point within distMiles of the center. Useful for
// prefiltering before an exact Haversine pass.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func BoundingBox(lat, lon, distMiles float64) Box {
	dLat := distMiles / EarthRadiusMiles
	dLon := distMiles / (EarthRadiusMiles * math.Cos(toRad(lat)))
	return Box{
		MinLat: lat - toDeg(dLat),
		MaxLat: lat + toDeg(dLat),
		MinLon: lon - toDeg(dLon),
		MaxLon: lon + toDeg(dLon),
	}
}

// Midpoint returns the point halfway along the great circle between two
// coordinates.
func Midpoint(lat1, lon1, lat2, lon2 float64) (lat, lon float64) {
	p1, l1 := toRad(lat1), toRad(lon1)
	p2, l2 := toRad(lat2), toRad(lon2)

	bx := math.Cos(p2) * math.Cos(l2-l1)
	by := math.Cos(p2) * math.Sin(l2-l1)

	p3 := math.Atan2(
		math.Sin(p1)+math.Sin(p2),
		math.Sqrt((math.Cos(p1)+bx)*(math.Cos(p1)+bx)+by*by),
	)
	l3 := l1 + math.Atan2(by, math.Cos(p1)+bx)
	return toDeg(p3), toDeg(l3)
}

func KmToMiles(km float64) float64    { return km / KmPerMile }
func MilesToKm(miles float64) float64 { return miles * KmPerMile }

// ValidCoordinates reports whether lat/lon fall in the usual ranges.
// NaN fails the comparison and is rejected here even though the math
// functions above let it through.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
