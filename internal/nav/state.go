// Package nav is the navigation tracker: it reconciles the device position
// with the active route and decides when to speak, advance, re-route and
// arrive.
package nav

import (
	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/route"
)

type Phase int

const (
	Idle Phase = iota
	Preview
	Navigating
	Rerouting
	Arrived
)

var phaseNames = []string{"IDLE", "PREVIEW", "NAVIGATING", "REROUTING", "ARRIVED"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// User visible messages, keyed for the i18n catalog.
const (
	MsgNoRoute       = "Could not find a route"
	MsgRecalculating = "Recalculating route"
)

// Progress is the per session progress along the current route.
type Progress struct {
	CurrentInstructionIndex int
	IsNavigating            bool
	// a re-route request is in flight or its failure cool-down is running
	IsReRouting bool
	// instruction indexes already spoken for this route
	Announced        map[int]bool
	ArrivalAnnounced bool
	Arrived          bool
	// a re-route completed recently; no new request until the timer expires
	CoolingDown     bool
	RerouteFailures int
}

// State is the whole application state owned by the Coordinator.
type State struct {
	Route         *route.Route
	Destination   *route.Coord
	Progress      Progress
	ResumePending bool
	Muted         bool
	Language      string
	Units         route.Units
	Position      *geolocation.Position
	// the last re-route failed and the route shown may be out of date
	StaleRoute       bool
	GeolocationError string
	Message          string
	SessionID        string
}

func (s State) Phase() Phase {
	switch {
	case s.Route == nil:
		return Idle
	case s.Progress.Arrived:
		return Arrived
	case !s.Progress.IsNavigating:
		return Preview
	case s.Progress.IsReRouting:
		return Rerouting
	default:
		return Navigating
	}
}

// CurrentInstruction returns the instruction being worked towards, if any.
func (s State) CurrentInstruction() (route.Instruction, bool) {
	if s.Route == nil || len(s.Route.Instructions) == 0 {
		return route.Instruction{}, false
	}
	return s.Route.InstructionAt(s.Progress.CurrentInstructionIndex), true
}

func newProgress() Progress {
	return Progress{Announced: make(map[int]bool)}
}
