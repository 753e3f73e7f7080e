package domain

import (
	"math"
	"regexp"
	"strconv"
)

const (
	// EarthRadiusKm is the mean radius used for all spherical math.
	EarthRadiusKm = 6371.0

	// KmPerMile converts vendor speeds (always mph) to km/h.
	KmPerMile = 1.60934

	kmPerDegreeLng = 111.32
	kmPerDegreeLat = 110.574

	defaultCirclePoints = 64
)

// speedRe takes the leading number of a speed string such as "12 mph" or "7.5kt".
var speedRe = regexp.MustCompile(`^\s*([-+]?\d+(?:\.\d+)?)`)

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Offset moves origin distanceKm along an initial bearing (degrees clockwise from North).
func Offset(origin Coordinate, bearingDeg, distanceKm float64) Coordinate {
	delta := distanceKm / EarthRadiusKm
	theta := toRad(bearingDeg)
	phi1 := toRad(origin.Lat)
	lambda1 := toRad(origin.Lng)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return Coordinate{Lat: toDeg(phi2), Lng: normalizeLng(toDeg(lambda2))}
}

// DestinationPoint projects where a storm reported at center will be after minutes.
// The vendor direction says where the storm comes from, so the travel bearing is
// direction + 180°.
func DestinationPoint(center Coordinate, directionDeg float64, speed Speed, minutes float64) Coordinate {
	distance := speed.KMH() * minutes / 60
	return Offset(center, TravelBearing(directionDeg), distance)
}

// TravelBearing converts a vendor "from" direction to the bearing of travel in [0, 360).
func TravelBearing(directionDeg float64) float64 {
	return math.Mod(math.Mod(directionDeg+180, 360)+360, 360)
}

// ParseSpeedMPH extracts the numeric part of a speed string. The unit suffix is ignored.
func ParseSpeedMPH(s string) (float64, bool) {
	m := speedRe.FindStringSubmatch(s)
	if len(m) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CirclePolygon approximates a circle as a closed GeoJSON ring using an
// equirectangular approximation. Good enough for radii of a few tens of km.
func CirclePolygon(center Coordinate, radiusKm float64, points int) [][]float64 {
	if points <= 0 {
		points = defaultCirclePoints
	}
	dLngScale := kmPerDegreeLng * math.Cos(toRad(center.Lat))

	ring := make([][]float64, 0, points+1)
	for i := 0; i < points; i++ {
		theta := float64(i) / float64(points) * 2 * math.Pi
		dx := radiusKm * math.Cos(theta)
		dy := radiusKm * math.Sin(theta)
		ring = append(ring, []float64{center.Lng + dx/dLngScale, center.Lat + dy/kmPerDegreeLat})
	}
	ring = append(ring, []float64{ring[0][0], ring[0][1]})
	return ring
}

// PolygonCentroid is the arithmetic mean of the vertices, not the area-weighted
// centroid. Returns false for an empty polygon.
func PolygonCentroid(coords []Coordinate) (Coordinate, bool) {
	if len(coords) == 0 {
		return Coordinate{}, false
	}
	var sumLat, sumLng float64
	for _, c := range coords {
		sumLat += c.Lat
		sumLng += c.Lng
	}
	n := float64(len(coords))
	return Coordinate{Lat: sumLat / n, Lng: sumLng / n}, true
}

func normalizeLng(lng float64) float64 {
	return math.Mod(lng+540, 360) - 180
}
