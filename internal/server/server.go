// Package server is the transport to the browser: a websocket carrying
// position samples in and state views out, and a small REST API for the same
// commands.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/nav"
	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/internal/routing"
	"github.com/curbz/yamka/pkg/util"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port       string `yaml:"port" validate:"required,numeric"`
	APIPort    string `yaml:"api_port" validate:"omitempty,numeric"`
	SendBuffer int    `yaml:"send_buffer" validate:"gte=0"`
}

type config struct {
	Server Config `yaml:"server"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Server, nil
}

// Navigator is the navigation engine the server drives.
type Navigator interface {
	Snapshot() nav.State
	Subscribe(f func(nav.State))
	UpdatePosition(pos geolocation.Position)
	ReportPositionError(err error)
	PlanRoute(ctx context.Context, origin *route.Coord, dest route.Coord) error
	Start() error
	Cancel() error
	DismissArrival() error
	Resume(resume bool) error
	SetMuted(muted bool) error
	SetLanguage(lang string) error
	SetUnits(u route.Units) error
}

var ErrNoGeocoder = errors.New("search is not available with this routing provider")

type Server struct {
	nav      Navigator
	geocoder routing.Geocoder
	// browser samples go through feed when set, otherwise straight to nav
	feed *geolocation.Feed
	hub  *hub
	now  func() time.Time
}

// New creates the server and starts broadcasting navigation state to every
// connected client. geocoder and feed may be nil.
func New(n Navigator, geocoder routing.Geocoder, feed *geolocation.Feed, sendBuffer int) *Server {
	s := &Server{
		nav:      n,
		geocoder: geocoder,
		feed:     feed,
		hub:      newHub(sendBuffer),
		now:      time.Now,
	}
	n.Subscribe(func(st nav.State) {
		s.hub.broadcast(NewView(st, s.now()))
	})
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Start serves the websocket endpoint on port. It returns the *http.Server so
// the caller can shut it down.
func (s *Server) Start(port string) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: s.Handler()}
	go func() {
		log.Printf("server: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server: ListenAndServe error: %v", err)
		}
	}()
	return srv
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.health()); err != nil {
		log.Warnf("server: failed to write health: %v", err)
	}
}

type health struct {
	Status  string `json:"status"`
	Phase   string `json:"phase"`
	Clients int    `json:"clients"`
	// LastFix is the unix millisecond timestamp of the latest browser sample.
	LastFix int64 `json:"last_fix,omitempty"`
}

func (s *Server) health() health {
	h := health{
		Status:  "ok",
		Phase:   s.nav.Snapshot().Phase().String(),
		Clients: s.hub.count(),
	}
	if s.feed != nil {
		if p, ok := s.feed.Last(); ok {
			h.LastFix = p.Timestamp
		}
	}
	return h
}

// Commands shared by the websocket and REST transports.

type routeCommand struct {
	Destination *route.Coord `json:"destination"`
	// nil plans from the current position
	Origin *route.Coord `json:"origin,omitempty"`
}

type settingsCommand struct {
	Muted    *bool   `json:"muted,omitempty"`
	Language *string `json:"language,omitempty"`
	Units    *string `json:"units,omitempty"`
}

type positionErrorCommand struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resumeCommand struct {
	Continue bool `json:"continue"`
}

// PlaceView is a search result.
type PlaceView struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (s *Server) position(p geolocation.Position) error {
	if !p.Valid() {
		return fmt.Errorf("invalid position %+v", p)
	}
	if p.Timestamp == 0 {
		p.Timestamp = s.now().UnixMilli()
	}
	if s.feed != nil {
		return s.feed.Push(p)
	}
	s.nav.UpdatePosition(p)
	return nil
}

func (s *Server) positionError(cmd positionErrorCommand) {
	err := geolocation.NewError(geolocation.ErrorCode(cmd.Code), cmd.Message)
	if s.feed != nil {
		s.feed.PushError(err)
		return
	}
	s.nav.ReportPositionError(err)
}

func (s *Server) planRoute(ctx context.Context, cmd routeCommand) error {
	if cmd.Destination == nil || !cmd.Destination.Valid() {
		return errors.New("a valid destination is required")
	}
	if cmd.Origin != nil && !cmd.Origin.Valid() {
		return errors.New("invalid origin")
	}
	return s.nav.PlanRoute(ctx, cmd.Origin, *cmd.Destination)
}

func (s *Server) search(ctx context.Context, query string) ([]PlaceView, error) {
	if s.geocoder == nil {
		return nil, ErrNoGeocoder
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []PlaceView{}, nil
	}

	snap := s.nav.Snapshot()
	var near *route.Coord
	if snap.Position != nil {
		c := snap.Position.Coord()
		near = &c
	}
	places, err := s.geocoder.Geocode(ctx, query, near, snap.Language)
	if err != nil {
		return nil, err
	}
	out := make([]PlaceView, 0, len(places))
	for _, p := range places {
		out = append(out, PlaceView{Name: p.DisplayName(), Lat: p.Coord.Lat, Lng: p.Coord.Lng})
	}
	return out, nil
}

func (s *Server) settings(cmd settingsCommand) error {
	if cmd.Muted != nil {
		if err := s.nav.SetMuted(*cmd.Muted); err != nil {
			return err
		}
	}
	if cmd.Language != nil {
		if err := s.nav.SetLanguage(*cmd.Language); err != nil {
			return err
		}
	}
	if cmd.Units != nil {
		if err := s.nav.SetUnits(route.Units(*cmd.Units)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) view() View {
	return NewView(s.nav.Snapshot(), s.now())
}
