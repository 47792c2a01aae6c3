package route

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON renders the route line and its maneuver points as a feature
// collection for the map layer.
func (r *Route) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := geojson.NewFeature(r.Geometry)
	line.Properties["kind"] = "route"
	line.Properties["distance"] = r.Length()
	line.Properties["time"] = r.TotalTimeMs
	fc.Append(line)

	for i, instr := range r.Instructions {
		if len(instr.ManeuverPoints) == 0 {
			continue
		}
		f := geojson.NewFeature(orb.Point(instr.ManeuverPoints[0]))
		f.Properties["kind"] = "maneuver"
		f.Properties["index"] = i
		f.Properties["sign"] = instr.Sign.String()
		f.Properties["text"] = instr.Text
		fc.Append(f)
	}

	return fc
}
