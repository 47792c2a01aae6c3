package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/curbz/yamka/internal/route"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

// GraphHopper talks to the GraphHopper routing and geocoding API.
type GraphHopper struct {
	BaseURL string
	Key     string
	Profile string
	// Bias ranks geocoding hits near this point first.
	Bias   *route.Coord
	client *http.Client
}

func NewGraphHopper(baseURL, key string, client *http.Client) *GraphHopper {
	if client == nil {
		client = http.DefaultClient
	}
	return &GraphHopper{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		Profile: "car",
		client:  client,
	}
}

type ghRouteRequest struct {
	Points        [][2]float64 `json:"points"`
	Profile       string       `json:"profile"`
	PointsEncoded bool         `json:"points_encoded"`
	Instructions  bool         `json:"instructions"`
	Locale        string       `json:"locale,omitempty"`
}

type ghRouteResponse struct {
	Message string `json:"message"`
	Paths   []struct {
		Distance float64 `json:"distance"`
		Time     int64   `json:"time"`
		Points   struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"points"`
		Instructions []struct {
			Distance   float64 `json:"distance"`
			Time       int64   `json:"time"`
			Sign       int     `json:"sign"`
			Text       string  `json:"text"`
			StreetName string  `json:"street_name"`
			Interval   []int   `json:"interval"`
		} `json:"instructions"`
	} `json:"paths"`
}

type ghGeocodeResponse struct {
	Message string `json:"message"`
	Hits    []struct {
		Point struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"point"`
		Name        string `json:"name"`
		HouseNumber string `json:"housenumber"`
		Street      string `json:"street"`
		City        string `json:"city"`
		State       string `json:"state"`
		Country     string `json:"country"`
	} `json:"hits"`
}

// Route requests a car route. Points are sent in (lng, lat) order.
func (g *GraphHopper) Route(ctx context.Context, req Request) (*route.Route, error) {
	body, err := json.Marshal(ghRouteRequest{
		Points: [][2]float64{
			{req.Origin.Lng, req.Origin.Lat},
			{req.Destination.Lng, req.Destination.Lat},
		},
		Profile:       g.Profile,
		PointsEncoded: false,
		Instructions:  true,
		Locale:        req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("graphhopper: failed to encode request: %w", err)
	}

	u := g.BaseURL + "/route?key=" + url.QueryEscape(g.Key)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debugf("graphhopper: routing %s -> %s", req.Origin, req.Destination)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graphhopper: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	var parsed ghRouteResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		return nil, fmt.Errorf("graphhopper: %w", upstreamError(resp, parsed.Message))
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("graphhopper: JSON decode failed: %w", err)
	}
	if len(parsed.Paths) == 0 {
		return nil, ErrNoRoute
	}

	return convertGraphHopperPath(parsed)
}

func convertGraphHopperPath(parsed ghRouteResponse) (*route.Route, error) {
	path := parsed.Paths[0]

	geom := make(orb.LineString, 0, len(path.Points.Coordinates))
	for _, c := range path.Points.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: short coordinate %v", route.ErrMalformedRoute, c)
		}
		geom = append(geom, orb.Point{c[0], c[1]})
	}

	r := &route.Route{
		Geometry:            geom,
		TotalDistanceMeters: path.Distance,
		TotalTimeMs:         path.Time,
	}

	for _, in := range path.Instructions {
		sign := route.Sign(in.Sign)
		if !sign.Known() {
			log.Debugf("routing: treating unknown graphhopper sign %d as continue", in.Sign)
			sign = route.Continue
		}
		instr := route.Instruction{
			Sign:           sign,
			Text:           in.Text,
			StreetName:     in.StreetName,
			DistanceMeters: in.Distance,
			TimeMs:         in.Time,
		}
		if len(in.Interval) == 2 && len(geom) > 0 {
			from, to := clamp(in.Interval[0], len(geom)), clamp(in.Interval[1], len(geom))
			if to < from {
				to = from
			}
			instr.ManeuverPoints = append([]orb.Point(nil), geom[from:to+1]...)
		}
		r.Instructions = append(r.Instructions, instr)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Geocode searches for places matching query. near, when set, overrides the
// configured bias point.
func (g *GraphHopper) Geocode(ctx context.Context, query string, near *route.Coord, lang string) ([]Place, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("graphhopper: empty geocoding query")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("key", g.Key)
	if bias := near; bias != nil || g.Bias != nil {
		if bias == nil {
			bias = g.Bias
		}
		params.Set("point", bias.String())
	}
	if lang == "" {
		lang = "en"
	}
	params.Set("locale", lang)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/geocode?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graphhopper: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	var parsed ghGeocodeResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		return nil, fmt.Errorf("graphhopper: %w", upstreamError(resp, parsed.Message))
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("graphhopper: JSON decode failed: %w", err)
	}

	places := make([]Place, 0, len(parsed.Hits))
	for _, h := range parsed.Hits {
		p := Place{
			Name:        h.Name,
			Coord:       route.Coord{Lat: h.Point.Lat, Lng: h.Point.Lng},
			HouseNumber: h.HouseNumber,
			Street:      h.Street,
			City:        h.City,
			State:       h.State,
			Country:     h.Country,
		}
		if !p.Coord.Valid() {
			continue
		}
		places = append(places, p)
	}
	return places, nil
}
