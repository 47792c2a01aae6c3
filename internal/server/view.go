package server

import (
	"time"

	"github.com/curbz/yamka/internal/announcer"
	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/i18n"
	"github.com/curbz/yamka/internal/nav"
	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb/geojson"
)

type InstructionView struct {
	Index    int    `json:"index"`
	Sign     string `json:"sign"`
	SignCode int    `json:"sign_code"`
	Phrase   string `json:"phrase"`
	Street   string `json:"street,omitempty"`
	// formatted distance to the maneuver point
	Distance string `json:"distance,omitempty"`
}

// View is the state message the browser renders.
type View struct {
	Type        string           `json:"type"`
	Phase       string           `json:"phase"`
	SessionID   string           `json:"session_id,omitempty"`
	Instruction *InstructionView `json:"instruction,omitempty"`

	RemainingMeters   float64 `json:"remaining_meters"`
	RemainingSeconds  int64   `json:"remaining_seconds"`
	RemainingDistance string  `json:"remaining_distance,omitempty"`
	RemainingTime     string  `json:"remaining_time,omitempty"`
	ETA               string  `json:"eta,omitempty"`

	Route       *geojson.FeatureCollection `json:"route,omitempty"`
	Bounds      []float64                  `json:"bounds,omitempty"`
	Destination *route.Coord               `json:"destination,omitempty"`
	Position    *geolocation.Position      `json:"position,omitempty"`

	ResumePending    bool   `json:"resume_pending"`
	Arrived          bool   `json:"arrived"`
	Rerouting        bool   `json:"rerouting"`
	StaleRoute       bool   `json:"stale_route"`
	Muted            bool   `json:"muted"`
	Message          string `json:"message,omitempty"`
	GeolocationError string `json:"geolocation_error,omitempty"`
	Language         string `json:"language"`
	Units            string `json:"units"`
}

// NewView renders s for display at time now.
func NewView(s nav.State, now time.Time) View {
	lang := s.Language
	v := View{
		Type:             "state",
		Phase:            s.Phase().String(),
		SessionID:        s.SessionID,
		Destination:      s.Destination,
		Position:         s.Position,
		ResumePending:    s.ResumePending,
		Arrived:          s.Progress.Arrived,
		Rerouting:        s.Progress.IsReRouting,
		StaleRoute:       s.StaleRoute,
		Muted:            s.Muted,
		GeolocationError: s.GeolocationError,
		Language:         lang,
		Units:            string(s.Units),
	}
	if s.Message != "" {
		v.Message = i18n.Sprintf(lang, s.Message)
	}
	if s.Route == nil {
		return v
	}

	v.Route = s.Route.GeoJSON()
	b := s.Route.Bound()
	v.Bounds = []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}

	if s.Progress.Arrived {
		return v
	}

	idx := s.Progress.CurrentInstructionIndex
	instr, _ := s.CurrentInstruction()
	iv := &InstructionView{
		Index:    idx,
		Sign:     instr.Sign.String(),
		SignCode: instr.Sign.Index(),
		Phrase:   announcer.Phrase(instr, lang),
		Street:   instr.StreetName,
	}

	var meters float64
	var left time.Duration
	if s.Position != nil {
		here := s.Position.Point()
		if len(instr.ManeuverPoints) > 0 {
			iv.Distance = route.FormatDistance(geometry.Distance(here, instr.ManeuverPoints[0], geometry.Meters), s.Units, lang)
		}
		meters, left = route.Remaining(s.Route, idx, here)
	} else {
		meters = s.Route.Length()
		left = time.Duration(s.Route.TotalTimeMs) * time.Millisecond
	}
	v.Instruction = iv

	v.RemainingMeters = meters
	v.RemainingSeconds = int64(left / time.Second)
	v.RemainingDistance = route.FormatDistance(meters, s.Units, lang)
	v.RemainingTime = route.FormatDuration(left, lang)
	v.ETA = route.ETA(now, left).Format("15:04")
	return v
}
