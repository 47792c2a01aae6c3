package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/curbz/yamka/internal/route"
	"github.com/paulmach/orb"
)

// OSRM talks to an OSRM compatible directions API. Mapbox Directions uses the
// same response format and is served by the same client.
type OSRM struct {
	BaseURL string
	Profile string
	// Token is sent as access_token when set (Mapbox).
	Token string
	// osrm servers prefix the path with /route/v1, mapbox does not
	routePrefix string
	client      *http.Client
}

func NewOSRM(baseURL string, client *http.Client) *OSRM {
	if client == nil {
		client = http.DefaultClient
	}
	return &OSRM{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Profile:     "driving",
		routePrefix: "/route/v1",
		client:      client,
	}
}

func NewMapbox(baseURL, token string, client *http.Client) *OSRM {
	o := NewOSRM(baseURL, client)
	o.Profile = "mapbox/driving-traffic"
	o.Token = token
	o.routePrefix = ""
	return o
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Maneuver struct {
		Type        string    `json:"type"`
		Modifier    string    `json:"modifier"`
		Instruction string    `json:"instruction"`
		Location    []float64 `json:"location"`
	} `json:"maneuver"`
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

func (o *OSRM) Route(ctx context.Context, req Request) (*route.Route, error) {
	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "geojson")
	params.Set("steps", "true")
	if o.Token != "" {
		params.Set("access_token", o.Token)
	}
	if req.Language != "" && o.Token != "" {
		params.Set("language", req.Language)
	}

	u := fmt.Sprintf("%s%s/%s/%.6f,%.6f;%.6f,%.6f?%s",
		o.BaseURL, o.routePrefix, o.Profile,
		req.Origin.Lng, req.Origin.Lat, req.Destination.Lng, req.Destination.Lat,
		params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("osrm: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	var parsed osrmResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		if parsed.Code == "NoRoute" {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("osrm: %w", upstreamError(resp, parsed.Message))
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("osrm: JSON decode failed: %w", err)
	}
	if len(parsed.Routes) == 0 || (parsed.Code != "" && parsed.Code != "Ok") {
		return nil, ErrNoRoute
	}

	rt := parsed.Routes[0]
	r := &route.Route{
		TotalDistanceMeters: rt.Distance,
		TotalTimeMs:         int64(math.Round(rt.Duration * 1000)),
	}
	for _, c := range rt.Geometry.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: short coordinate %v", route.ErrMalformedRoute, c)
		}
		r.Geometry = append(r.Geometry, orb.Point{c[0], c[1]})
	}

	for _, leg := range rt.Legs {
		for _, step := range leg.Steps {
			r.Instructions = append(r.Instructions, convertStep(step))
		}
	}
	// multi leg routes arrive at every via point, only the last one is final
	for i := 0; i < len(r.Instructions)-1; i++ {
		if r.Instructions[i].Sign == route.Arrive {
			r.Instructions[i].Sign = route.ReachedVia
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func convertStep(step osrmStep) route.Instruction {
	instr := route.Instruction{
		Sign:           maneuverSign(step.Maneuver.Type, step.Maneuver.Modifier),
		Text:           step.Maneuver.Instruction,
		StreetName:     step.Name,
		DistanceMeters: step.Distance,
		TimeMs:         int64(math.Round(step.Duration * 1000)),
	}
	if instr.Text == "" {
		instr.Text = strings.Join(strings.Fields(step.Maneuver.Type+" "+step.Maneuver.Modifier+" "+step.Name), " ")
	}
	for _, c := range step.Geometry.Coordinates {
		if len(c) >= 2 {
			instr.ManeuverPoints = append(instr.ManeuverPoints, orb.Point{c[0], c[1]})
		}
	}
	if len(instr.ManeuverPoints) == 0 && len(step.Maneuver.Location) >= 2 {
		instr.ManeuverPoints = []orb.Point{{step.Maneuver.Location[0], step.Maneuver.Location[1]}}
	}
	return instr
}

func maneuverSign(typ, modifier string) route.Sign {
	switch typ {
	case "arrive":
		return route.Arrive
	case "depart":
		return route.Continue
	case "roundabout", "rotary", "roundabout turn":
		return route.UseRoundabout
	case "exit roundabout", "exit rotary":
		return route.LeaveRoundabout
	case "fork", "on ramp", "off ramp":
		if strings.Contains(modifier, "left") {
			return route.KeepLeft
		}
		if strings.Contains(modifier, "right") {
			return route.KeepRight
		}
	}

	switch modifier {
	case "uturn":
		return route.UTurnUnknown
	case "sharp right":
		return route.TurnSharpRight
	case "right":
		return route.TurnRight
	case "slight right":
		return route.TurnSlightRight
	case "slight left":
		return route.TurnSlightLeft
	case "left":
		return route.TurnLeft
	case "sharp left":
		return route.TurnSharpLeft
	}
	return route.Continue
}
