package route

import (
	"math"
	"time"

	"github.com/curbz/yamka/internal/i18n"
	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb"
)

// AverageSpeed is the speed in m/s assumed for the stretch between the user
// and the next maneuver.
const AverageSpeed = 10.0

// Units selects how distances are presented.
type Units string

const (
	Metric   Units = "metric"
	Imperial Units = "imperial"
)

// Remaining estimates the distance in meters and time left when the user at
// pos is working towards instruction index. The stretch to the next maneuver
// is measured directly; later instructions contribute their own figures.
func Remaining(r *Route, index int, pos orb.Point) (float64, time.Duration) {
	if r == nil || len(r.Instructions) == 0 {
		return 0, 0
	}
	if index < 0 {
		index = 0
	}
	if index >= len(r.Instructions) {
		index = len(r.Instructions) - 1
	}

	var dist, secs float64

	next := r.Instructions[index]
	target := r.FinalVertex()
	if len(next.ManeuverPoints) > 0 {
		target = next.ManeuverPoints[0]
	}
	toNext := geometry.Distance(pos, target, geometry.Meters)
	dist += toNext
	secs += toNext / AverageSpeed

	for i := index; i < len(r.Instructions); i++ {
		instr := r.Instructions[i]
		secs += float64(instr.TimeMs) / 1000
		if i != index {
			dist += instr.DistanceMeters
		}
	}

	return dist, time.Duration(math.Floor(secs)) * time.Second
}

// ETA is the wall clock arrival time, truncated to the minute.
func ETA(now time.Time, remaining time.Duration) time.Time {
	return now.Add(remaining.Truncate(time.Minute)).Truncate(time.Minute)
}

// FormatDistance renders a trip distance for display, e.g. "350 m" or
// "1.2 km".
func FormatDistance(meters float64, units Units, lang string) string {
	p := i18n.Printer(lang)
	if units == Imperial {
		mi := geometry.Convert(meters, geometry.Miles)
		if mi < 0.1 {
			return p.Sprintf("%d ft", roundTo(geometry.Convert(meters, geometry.Feet), 10))
		}
		return p.Sprintf("%.1f mi", mi)
	}
	if meters < 995 {
		return p.Sprintf("%d m", roundTo(meters, 10))
	}
	return p.Sprintf("%.1f km", geometry.Convert(meters, geometry.Kilometers))
}

// FormatDuration renders a trip duration, e.g. "12 min" or "1 h 5 min".
func FormatDuration(d time.Duration, lang string) string {
	p := i18n.Printer(lang)
	mins := int(d / time.Minute)
	switch {
	case mins < 1:
		return p.Sprintf("<1 min")
	case mins < 60:
		return p.Sprintf("%d min", mins)
	case mins%60 == 0:
		return p.Sprintf("%d h", mins/60)
	default:
		return p.Sprintf("%d h %d min", mins/60, mins%60)
	}
}

func roundTo(v float64, step int) int {
	return int(math.Round(v/float64(step))) * step
}
