package nav

import (
	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/pkg/geometry"
)

// Intent is a side effect requested by the tracker. The coordinator applies
// intents in the order they are returned.
type Intent interface {
	intent()
}

// AnnounceInstruction speaks the instruction at Index.
type AnnounceInstruction struct {
	Index int
}

// AdvanceInstruction moves the current instruction to To.
type AdvanceInstruction struct {
	To int
}

// RequestReroute asks for a new route from Origin to the destination.
type RequestReroute struct {
	Origin         route.Coord
	OffRouteMeters float64
}

// AnnounceArrival speaks the arrival message.
type AnnounceArrival struct{}

// BackOnRoute reports the user is within tolerance again after failed
// re-routes.
type BackOnRoute struct{}

func (AnnounceInstruction) intent() {}
func (AdvanceInstruction) intent()  {}
func (RequestReroute) intent()      {}
func (AnnounceArrival) intent()     {}
func (BackOnRoute) intent()         {}

// Tracker evaluates position samples against a state snapshot. It holds no
// state of its own, so evaluating the same sample twice is harmless.
type Tracker struct {
	cfg Config
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Evaluate returns the intents for one position sample.
func (t *Tracker) Evaluate(s State, pos geolocation.Position) []Intent {
	p := s.Progress
	if s.Route == nil || !p.IsNavigating || s.ResumePending {
		return nil
	}
	// an in-flight re-route owns the decision, and arrival happens once
	if p.IsReRouting || p.ArrivalAnnounced || p.Arrived {
		return nil
	}

	r := s.Route
	here := pos.Point()

	if r.IsDegenerate() {
		return []Intent{AnnounceArrival{}}
	}

	offRoute := geometry.PointToLineDistance(here, r.Geometry, geometry.Meters)
	if offRoute > t.cfg.RerouteTolerance {
		if p.CoolingDown || p.RerouteFailures >= t.cfg.MaxRerouteAttempts {
			return nil
		}
		return []Intent{RequestReroute{Origin: pos.Coord(), OffRouteMeters: offRoute}}
	}

	var intents []Intent
	if p.RerouteFailures > 0 || s.StaleRoute {
		intents = append(intents, BackOnRoute{})
	}

	idx := p.CurrentInstructionIndex
	if idx < 0 || idx >= len(r.Instructions) {
		idx = len(r.Instructions) - 1
	}
	instr := r.Instructions[idx]

	if instr.Sign == route.Arrive {
		if geometry.Distance(here, r.FinalVertex(), geometry.Meters) < t.cfg.ArrivalRadius {
			intents = append(intents, AnnounceArrival{})
		}
		return intents
	}

	toManeuver := geometry.Distance(here, instr.ManeuverPoints[0], geometry.Meters)

	first := idx == 0 && len(p.Announced) == 0
	if !p.Announced[idx] && (toManeuver < t.cfg.SpeechTrigger || first) {
		intents = append(intents, AnnounceInstruction{Index: idx})
	}
	if toManeuver < t.cfg.AdvanceThreshold {
		intents = append(intents, AdvanceInstruction{To: idx + 1})
	}
	return intents
}
