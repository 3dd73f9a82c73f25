package geo

import "math"

const (
	earthRadiusKm = 6371.0
	metersPerMile = 1609.344
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// HaversineMeters returns the great-circle distance between a and b on a mean
// Earth radius. It is zero only for identical coordinates.
func HaversineMeters(a, b Coordinate) float64 {
	return HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon) * 1000
}

func MetersToMiles(m float64) float64 {
	return m / metersPerMile
}

// Accumulator keeps a running route length. Add is O(1); the total is never
// recomputed from the full route.
type Accumulator struct {
	last    Coordinate
	hasLast bool
	total   float64
}

// NewAccumulator resumes accumulation from a known anchor and total, as
// restored from a checkpoint.
func NewAccumulator(anchor *Coordinate, total float64) Accumulator {
	acc := Accumulator{total: total}
	if anchor != nil {
		acc.last = *anchor
		acc.hasLast = true
	}
	return acc
}

// Add extends the route to c and returns the distance added.
func (a *Accumulator) Add(c Coordinate) float64 {
	if !a.hasLast {
		a.last, a.hasLast = c, true
		return 0
	}
	d := HaversineMeters(a.last, c)
	a.total += d
	a.last = c
	return d
}

// Anchor moves the reference point to c without adding distance.
func (a *Accumulator) Anchor(c Coordinate) {
	a.last, a.hasLast = c, true
}

func (a Accumulator) Total() float64 { return a.total }

func (a Accumulator) Last() (Coordinate, bool) { return a.last, a.hasLast }

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
