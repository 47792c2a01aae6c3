package geolocation

import (
	"fmt"
	"os"
	"time"

	"github.com/curbz/yamka/pkg/util"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Config struct {
	// Source is browser, replay or websocket.
	Source   string        `yaml:"source" validate:"oneof=browser replay websocket"`
	URL      string        `yaml:"url" validate:"required_if=Source websocket"`
	Track    string        `yaml:"track"`
	Speed    float64       `yaml:"speed" validate:"gte=0"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Loop     bool          `yaml:"loop"`
}

type config struct {
	Geolocation Config `yaml:"geolocation"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Geolocation, nil
}

// LoadTrack reads the first LineString from a GeoJSON file holding a
// FeatureCollection, a Feature or a bare geometry.
func LoadTrack(path string) (orb.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}

	var geoms []orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	} else if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		geoms = append(geoms, f.Geometry)
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		switch g := g.(type) {
		case orb.LineString:
			if len(g) > 0 {
				return g, nil
			}
		case orb.MultiLineString:
			if len(g) > 0 && len(g[0]) > 0 {
				return g[0], nil
			}
		}
	}
	return nil, fmt.Errorf("no LineString in %s", path)
}

// New builds the configured positioning source. A browser source is a Feed
// filled by the server; track replaces the configured track file when set.
func New(cfg Config, track orb.LineString) (Source, error) {
	switch cfg.Source {
	case "browser", "":
		return NewFeed(), nil
	case "websocket":
		return NewWSClient(cfg.URL), nil
	case "replay":
		if len(track) == 0 {
			if cfg.Track == "" {
				return nil, fmt.Errorf("geolocation: replay needs a track")
			}
			var err error
			if track, err = LoadTrack(cfg.Track); err != nil {
				return nil, err
			}
		}
		r := NewReplay(track, cfg.Speed, cfg.Interval)
		r.Loop = cfg.Loop
		return r, nil
	}
	return nil, fmt.Errorf("geolocation: unknown source %q", cfg.Source)
}
