package announcer

import (
	"github.com/curbz/yamka/internal/i18n"
	"github.com/curbz/yamka/internal/route"
)

type phrase struct {
	plain string
	onto  string
}

var signPhrases = map[route.Sign]phrase{
	route.Continue:        {"Continue", "Continue onto %s"},
	route.TurnLeft:        {"Turn left", "Turn left onto %s"},
	route.TurnRight:       {"Turn right", "Turn right onto %s"},
	route.TurnSlightLeft:  {"Turn slight left", "Turn slight left onto %s"},
	route.TurnSlightRight: {"Turn slight right", "Turn slight right onto %s"},
	route.TurnSharpLeft:   {"Turn sharp left", "Turn sharp left onto %s"},
	route.TurnSharpRight:  {"Turn sharp right", "Turn sharp right onto %s"},
	route.KeepLeft:        {plain: "Keep left"},
	route.KeepRight:       {plain: "Keep right"},
	route.UTurnUnknown:    {plain: "Make a U-turn"},
	route.UTurnLeft:       {plain: "Make a U-turn"},
	route.UTurnRight:      {plain: "Make a U-turn"},
	route.UseRoundabout:   {plain: "Enter the roundabout"},
	route.LeaveRoundabout: {plain: "Leave the roundabout"},
	route.ReachedVia:      {plain: "Waypoint reached"},
	route.Arrive:          {plain: "You have arrived at your destination"},
}

// Phrase is the spoken form of an instruction in lang. English requests keep
// the provider's own text when it has one, since it is usually richer than
// the generic phrase.
func Phrase(instr route.Instruction, lang string) string {
	if instr.Sign == route.Arrive {
		return ArrivalPhrase(lang)
	}
	tag := i18n.Match(lang)
	p, ok := signPhrases[instr.Sign]
	if !ok || (tag == i18n.Supported[0] && instr.Text != "") {
		if instr.Text != "" {
			return instr.Text
		}
		if !ok {
			p = signPhrases[route.Continue]
		}
	}
	if instr.StreetName != "" && p.onto != "" {
		return i18n.Sprintf(lang, p.onto, instr.StreetName)
	}
	return i18n.Sprintf(lang, p.plain)
}

// ArrivalPhrase is spoken once when the destination is reached.
func ArrivalPhrase(lang string) string {
	return i18n.Sprintf(lang, "You have arrived at your destination")
}
