package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/pkg/util"
)

var (
	// ErrNoRoute means the provider answered but found no path.
	ErrNoRoute = errors.New("no route found")
	// ErrUpstream wraps non-success responses from the provider.
	ErrUpstream = errors.New("routing provider error")
)

// Request asks for a route between two coordinates.
type Request struct {
	Origin      route.Coord
	Destination route.Coord
	Language    string
}

// Service computes routes.
type Service interface {
	Route(ctx context.Context, req Request) (*route.Route, error)
}

// Place is a geocoding hit.
type Place struct {
	Name        string      `json:"name"`
	Coord       route.Coord `json:"coord"`
	HouseNumber string      `json:"housenumber,omitempty"`
	Street      string      `json:"street,omitempty"`
	City        string      `json:"city,omitempty"`
	State       string      `json:"state,omitempty"`
	Country     string      `json:"country,omitempty"`
}

// DisplayName joins the non empty address parts, most specific first.
func (p Place) DisplayName() string {
	var parts []string
	for _, s := range []string{p.Name, p.HouseNumber, p.City, p.State, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocoder turns free text into places.
type Geocoder interface {
	Geocode(ctx context.Context, query string, near *route.Coord, lang string) ([]Place, error)
}

type Config struct {
	Provider    string        `yaml:"provider" validate:"oneof=graphhopper osrm mapbox"`
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Profile     string        `yaml:"profile"`
	Timeout     time.Duration `yaml:"timeout"`
	GeocodeBias string        `yaml:"geocode_bias"`
}

type config struct {
	Routing Config `yaml:"routing"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Routing, nil
}

// New builds the configured provider. The API key is read from the
// environment variable named by api_key_env.
func New(cfg Config) (Service, error) {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = util.EnvOrDefault(cfg.APIKeyEnv, "")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case "graphhopper":
		if key == "" {
			return nil, fmt.Errorf("routing: %s is not set", cfg.APIKeyEnv)
		}
		gh := NewGraphHopper(cfg.BaseURL, key, client)
		if cfg.Profile != "" {
			gh.Profile = cfg.Profile
		}
		if cfg.GeocodeBias != "" {
			bias, err := route.ParseCoord(cfg.GeocodeBias)
			if err != nil {
				return nil, fmt.Errorf("routing: geocode_bias: %w", err)
			}
			gh.Bias = &bias
		}
		return gh, nil
	case "osrm":
		o := NewOSRM(cfg.BaseURL, client)
		if cfg.Profile != "" {
			o.Profile = cfg.Profile
		}
		return o, nil
	case "mapbox":
		if key == "" {
			return nil, fmt.Errorf("routing: %s is not set", cfg.APIKeyEnv)
		}
		m := NewMapbox(cfg.BaseURL, key, client)
		if cfg.Profile != "" {
			m.Profile = cfg.Profile
		}
		return m, nil
	}
	return nil, fmt.Errorf("routing: unknown provider %q", cfg.Provider)
}

func upstreamError(resp *http.Response, message string) error {
	if message == "" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: %d %s", ErrUpstream, resp.StatusCode, message)
}
