package route

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb"
)

// ErrMalformedRoute is returned for routes that cannot be navigated.
var ErrMalformedRoute = errors.New("malformed route")

// Sign is the maneuver type of an instruction. Values follow the GraphHopper
// instruction sign codes.
type Sign int

const (
	UTurnUnknown    Sign = -98
	UTurnLeft       Sign = -8
	KeepLeft        Sign = -7
	LeaveRoundabout Sign = -6
	TurnSharpLeft   Sign = -3
	TurnLeft        Sign = -2
	TurnSlightLeft  Sign = -1
	Continue        Sign = 0
	TurnSlightRight Sign = 1
	TurnRight       Sign = 2
	TurnSharpRight  Sign = 3
	Arrive          Sign = 4 // terminal instruction, final vertex of the route
	ReachedVia      Sign = 5
	UseRoundabout   Sign = 6
	KeepRight       Sign = 7
	UTurnRight      Sign = 8
)

var signNames = map[Sign]string{
	UTurnUnknown:    "u_turn",
	UTurnLeft:       "u_turn_left",
	KeepLeft:        "keep_left",
	LeaveRoundabout: "leave_roundabout",
	TurnSharpLeft:   "turn_sharp_left",
	TurnLeft:        "turn_left",
	TurnSlightLeft:  "turn_slight_left",
	Continue:        "continue",
	TurnSlightRight: "turn_slight_right",
	TurnRight:       "turn_right",
	TurnSharpRight:  "turn_sharp_right",
	Arrive:          "arrive",
	ReachedVia:      "reached_via",
	UseRoundabout:   "roundabout",
	KeepRight:       "keep_right",
	UTurnRight:      "u_turn_right",
}

func (s Sign) String() string {
	if n, ok := signNames[s]; ok {
		return n
	}
	return "unknown"
}

// Index returns the numeric sign code.
func (s Sign) Index() int {
	return int(s)
}

// Known reports whether s is one of the defined maneuver codes.
func (s Sign) Known() bool {
	_, ok := signNames[s]
	return ok
}

// Coord is a WGS84 coordinate in latitude, longitude order.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point converts to an orb point, which is ordered (lng, lat).
func (c Coord) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

func (c Coord) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Valid reports whether c is a finite coordinate inside WGS84 bounds.
func (c Coord) Valid() bool {
	return validPoint(c.Point())
}

// CoordFromPoint converts an orb point back to a Coord.
func CoordFromPoint(p orb.Point) Coord {
	return Coord{Lat: p.Lat(), Lng: p.Lon()}
}

// ParseCoord parses "lat,lng".
func ParseCoord(s string) (Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("invalid coordinate %q: want lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	c := Coord{Lat: lat, Lng: lng}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("coordinate %q out of range", s)
	}
	return c, nil
}

// Instruction is a single maneuver of a route. ManeuverPoints[0] is where the
// maneuver happens.
type Instruction struct {
	Sign           Sign        `json:"sign"`
	Text           string      `json:"text"`
	StreetName     string      `json:"street_name,omitempty"`
	DistanceMeters float64     `json:"distance"`
	TimeMs         int64       `json:"time"`
	ManeuverPoints []orb.Point `json:"points"`
}

// Route is an immutable route: once loaded it is replaced as a whole, never
// edited in place.
type Route struct {
	Geometry            orb.LineString `json:"geometry"`
	Instructions        []Instruction  `json:"instructions"`
	TotalDistanceMeters float64        `json:"distance"`
	TotalTimeMs         int64          `json:"time"`
}

// Validate checks that r can be navigated.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: no route", ErrMalformedRoute)
	}
	if len(r.Geometry) == 0 {
		return fmt.Errorf("%w: empty geometry", ErrMalformedRoute)
	}
	for i, p := range r.Geometry {
		if !validPoint(p) {
			return fmt.Errorf("%w: invalid vertex %d %v", ErrMalformedRoute, i, p)
		}
	}
	if len(r.Instructions) == 0 {
		return fmt.Errorf("%w: no instructions", ErrMalformedRoute)
	}
	for i, instr := range r.Instructions {
		last := i == len(r.Instructions)-1
		if last && instr.Sign != Arrive {
			return fmt.Errorf("%w: last instruction is %s, want arrive", ErrMalformedRoute, instr.Sign)
		}
		if !last && instr.Sign == Arrive {
			return fmt.Errorf("%w: arrive instruction at %d is not last", ErrMalformedRoute, i)
		}
		if !last && len(instr.ManeuverPoints) == 0 {
			return fmt.Errorf("%w: instruction %d has no maneuver point", ErrMalformedRoute, i)
		}
		for _, p := range instr.ManeuverPoints {
			if !validPoint(p) {
				return fmt.Errorf("%w: instruction %d has invalid point %v", ErrMalformedRoute, i, p)
			}
		}
	}
	return nil
}

// IsDegenerate reports whether the route collapses to a single location.
func (r *Route) IsDegenerate() bool {
	if len(r.Geometry) <= 1 {
		return true
	}
	first := r.Geometry[0]
	for _, p := range r.Geometry[1:] {
		if math.Abs(p[0]-first[0]) > 1e-9 || math.Abs(p[1]-first[1]) > 1e-9 {
			return false
		}
	}
	return true
}

// Length is the route length in meters. Providers that report no total get
// the length of the geometry.
func (r *Route) Length() float64 {
	if r.TotalDistanceMeters > 0 {
		return r.TotalDistanceMeters
	}
	return geometry.LineLength(r.Geometry, geometry.Meters)
}

// FinalVertex is the last point of the geometry.
func (r *Route) FinalVertex() orb.Point {
	return r.Geometry[len(r.Geometry)-1]
}

// Bound is the bounding box of the route geometry.
func (r *Route) Bound() orb.Bound {
	return r.Geometry.Bound()
}

// InstructionAt returns the instruction at i, clamped to the last one.
func (r *Route) InstructionAt(i int) Instruction {
	if i < 0 {
		i = 0
	}
	if i >= len(r.Instructions) {
		i = len(r.Instructions) - 1
	}
	return r.Instructions[i]
}

func validPoint(p orb.Point) bool {
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
