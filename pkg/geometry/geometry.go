package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Unit selects the unit a distance is returned in.
type Unit int

const (
	Meters Unit = iota
	Kilometers
	Miles
	Feet
)

var unitFactors = [...]float64{
	Meters:     1,
	Kilometers: 1.0 / 1000,
	Miles:      1.0 / 1609.344,
	Feet:       1.0 / 0.3048,
}

func (u Unit) String() string {
	names := [...]string{"m", "km", "mi", "ft"}
	if u < Meters || int(u) >= len(names) {
		return "unknown"
	}
	return names[u]
}

// Convert expresses a distance in meters in unit.
func Convert(meters float64, unit Unit) float64 {
	if unit < Meters || int(unit) >= len(unitFactors) {
		return meters
	}
	return meters * unitFactors[unit]
}

// Distance returns the great-circle distance between two (lng, lat) points.
func Distance(a, b orb.Point, unit Unit) float64 {
	return Convert(geo.DistanceHaversine(a, b), unit)
}

// PointToLineDistance returns the shortest distance from p to any segment of
// line. The closest point of each segment is found in a local equirectangular
// frame centred on p and the distance to it is measured on the sphere.
// A single vertex line yields the distance to that vertex; an empty line
// yields +Inf.
func PointToLineDistance(p orb.Point, line orb.LineString, unit Unit) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, line[0], unit)
	}

	best := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		d := geo.DistanceHaversine(p, closestOnSegment(p, line[i], line[i+1]))
		if d < best {
			best = d
		}
	}
	return Convert(best, unit)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// normLon folds a longitude difference in radians into [-pi, pi] so segments
// crossing the dateline are measured the short way round.
func normLon(dLon float64) float64 {
	for dLon > math.Pi {
		dLon -= 2 * math.Pi
	}
	for dLon < -math.Pi {
		dLon += 2 * math.Pi
	}
	return dLon
}

func closestOnSegment(p, a, b orb.Point) orb.Point {
	cosLat := math.Max(math.Cos(toRad(p.Lat())), 1e-12)

	project := func(v orb.Point) (float64, float64) {
		x := normLon(toRad(v.Lon()-p.Lon())) * cosLat * orb.EarthRadius
		y := toRad(v.Lat()-p.Lat()) * orb.EarthRadius
		return x, y
	}

	ax, ay := project(a)
	bx, by := project(b)
	dx, dy := bx-ax, by-ay

	segLen2 := dx*dx + dy*dy
	if segLen2 == 0 {
		return a
	}

	// p is the origin of the frame
	t := -(ax*dx + ay*dy) / segLen2
	t = math.Min(1, math.Max(0, t))

	qx, qy := ax+t*dx, ay+t*dy
	return orb.Point{
		p.Lon() + toDeg(qx/(orb.EarthRadius*cosLat)),
		p.Lat() + toDeg(qy/orb.EarthRadius),
	}
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalised to [0, 360).
func Bearing(a, b orb.Point) float64 {
	return math.Mod(geo.Bearing(a, b)+360, 360)
}

// Destination returns the point reached by travelling meters from p along
// the given initial bearing in degrees.
func Destination(p orb.Point, bearing, meters float64) orb.Point {
	q := geo.PointAtBearingAndDistance(p, bearing, meters)
	q[0] = toDeg(normLon(toRad(q[0])))
	return q
}

// Interpolate returns the point a fraction f of the way from a to b.
func Interpolate(a, b orb.Point, f float64) orb.Point {
	if f <= 0 || a == b {
		return a
	}
	if f >= 1 {
		return b
	}
	q, _ := geo.PointAtDistanceAlongLine(orb.LineString{a, b}, geo.DistanceHaversine(a, b)*f)
	return q
}

// LineLength returns the length of line along its vertices.
func LineLength(line orb.LineString, unit Unit) float64 {
	return Convert(geo.LengthHaversine(line), unit)
}
