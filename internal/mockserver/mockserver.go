package mockserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/curbz/yamka/pkg/geometry"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

// Server mimics the GraphHopper routing and geocoding endpoints and a
// websocket GPS feed.
type Server struct {
	// Track is streamed to position feed subscribers.
	Track    orb.LineString
	Interval time.Duration

	mu            sync.Mutex
	routeRequests int
	failNext      int
	routeDelay    time.Duration
}

type place struct {
	Name    string
	Street  string
	City    string
	Country string
	Lat     float64
	Lng     float64
}

var places = []place{
	{Name: "Rynok Square", City: "Lviv", Country: "Ukraine", Lat: 49.8419, Lng: 24.0316},
	{Name: "Lviv Opera", Street: "Svobody Avenue", City: "Lviv", Country: "Ukraine", Lat: 49.8440, Lng: 24.0262},
	{Name: "High Castle", City: "Lviv", Country: "Ukraine", Lat: 49.8483, Lng: 24.0395},
	{Name: "Lviv Railway Station", Street: "Dvirtseva Square", City: "Lviv", Country: "Ukraine", Lat: 49.8397, Lng: 23.9944},
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func New() *Server {
	return &Server{Interval: 500 * time.Millisecond}
}

// FailNext makes the next n route requests fail with a 500.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetRouteDelay delays every route response.
func (s *Server) SetRouteDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeDelay = d
}

// RouteRequests is the number of route requests served so far.
func (s *Server) RouteRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routeRequests
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/route", s.routeHandler)
	mux.HandleFunc("/api/1/geocode", s.geocodeHandler)
	mux.HandleFunc("/api/v2/positions", s.wsHandler)
	return mux
}

// Start starts the mock HTTP + WebSocket server on the given port (e.g. "8086").
// It returns the *http.Server so the caller can shut it down when desired.
func (s *Server) Start(port string) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: s.Handler()}
	go func() {
		log.Printf("mockserver: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("mockserver: ListenAndServe error: %v", err)
		}
	}()
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "POST required"})
		return
	}
	if r.URL.Query().Get("key") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Missing API key"})
		return
	}

	s.mu.Lock()
	s.routeRequests++
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	delay := s.routeDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "mock failure"})
		return
	}

	var req struct {
		Points [][2]float64 `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Points) != 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "need exactly two points"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paths": []interface{}{buildPath(orb.Point(req.Points[0]), orb.Point(req.Points[1]))},
	})
}

// buildPath routes east/west first, then north/south, with one turn.
func buildPath(origin, dest orb.Point) map[string]interface{} {
	instr := func(sign int, text, street string, a, b orb.Point, from, to int) map[string]interface{} {
		d := geometry.Distance(a, b, geometry.Meters)
		return map[string]interface{}{
			"sign":        sign,
			"text":        text,
			"street_name": street,
			"distance":    d,
			"time":        int64(d / 10 * 1000),
			"interval":    []int{from, to},
		}
	}

	if origin == dest {
		return map[string]interface{}{
			"distance":     0,
			"time":         0,
			"points":       map[string]interface{}{"type": "LineString", "coordinates": [][2]float64{origin}},
			"instructions": []interface{}{instr(4, "Arrive at destination", "", origin, origin, 0, 0)},
		}
	}

	corner := orb.Point{dest.Lon(), origin.Lat()}
	turn, turnText := 2, "Turn right onto Mock Avenue"
	if (dest.Lon() > origin.Lon()) == (dest.Lat() > origin.Lat()) {
		turn, turnText = -2, "Turn left onto Mock Avenue"
	}

	leg1 := geometry.Distance(origin, corner, geometry.Meters)
	leg2 := geometry.Distance(corner, dest, geometry.Meters)

	return map[string]interface{}{
		"distance": leg1 + leg2,
		"time":     int64((leg1 + leg2) / 10 * 1000),
		"points": map[string]interface{}{
			"type":        "LineString",
			"coordinates": [][2]float64{origin, corner, dest},
		},
		"instructions": []interface{}{
			instr(0, "Continue onto Mock Street", "Mock Street", origin, corner, 0, 1),
			instr(turn, turnText, "Mock Avenue", corner, dest, 1, 2),
			instr(4, "Arrive at destination", "", dest, dest, 2, 2),
		},
	}
}

func (s *Server) geocodeHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Query parameter 'q' is required"})
		return
	}

	hits := []interface{}{}
	for _, p := range places {
		if !strings.Contains(strings.ToLower(p.Name+" "+p.Street+" "+p.City), q) {
			continue
		}
		hits = append(hits, map[string]interface{}{
			"point":   map[string]float64{"lat": p.Lat, "lng": p.Lng},
			"name":    p.Name,
			"street":  p.Street,
			"city":    p.City,
			"country": p.Country,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mockserver: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("mockserver: read error: %v", err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var incoming struct {
			RequestID int64  `json:"req_id"`
			Type      string `json:"type"`
		}
		if err := json.Unmarshal(msg, &incoming); err != nil {
			log.Printf("mockserver: invalid JSON: %v", err)
			continue
		}

		switch incoming.Type {
		case "position_subscribe":
			send(map[string]interface{}{"req_id": incoming.RequestID, "type": "result", "success": true})

			s.mu.Lock()
			track := append(orb.LineString(nil), s.Track...)
			interval := s.Interval
			s.mu.Unlock()

			go func() {
				for i, p := range track {
					heading := 0.0
					if i+1 < len(track) {
						heading = geometry.Bearing(p, track[i+1])
					}
					update := map[string]interface{}{
						"type": "position_update",
						"data": map[string]interface{}{
							"lat":       p.Lat(),
							"lng":       p.Lon(),
							"heading":   heading,
							"accuracy":  5.0,
							"timestamp": time.Now().UnixMilli(),
						},
					}
					if err := send(update); err != nil {
						return
					}
					select {
					case <-time.After(interval):
					case <-done:
						return
					}
				}
			}()

		default:
			log.Printf("mockserver: received unknown ws type=%q msg=%s", incoming.Type, string(msg))
		}
	}
}
