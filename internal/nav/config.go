package nav

import (
	"time"

	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/pkg/util"
)

// Config holds the tracker thresholds. Distances are in meters.
type Config struct {
	RerouteTolerance   float64       `yaml:"reroute_tolerance" validate:"gte=30,lte=50"`
	SpeechTrigger      float64       `yaml:"speech_trigger" validate:"gt=0"`
	AdvanceThreshold   float64       `yaml:"advance_threshold" validate:"gte=25,lte=35"`
	ArrivalRadius      float64       `yaml:"arrival_radius" validate:"gt=0"`
	RerouteCooldown    time.Duration `yaml:"reroute_cooldown" validate:"gte=0"`
	RerouteTimeout     time.Duration `yaml:"reroute_timeout" validate:"gt=0"`
	MaxRerouteAttempts int           `yaml:"max_reroute_attempts" validate:"gte=1"`
	Language           string        `yaml:"language"`
	Units              route.Units   `yaml:"units" validate:"omitempty,oneof=metric imperial"`
}

func DefaultConfig() Config {
	return Config{
		RerouteTolerance:   40,
		SpeechTrigger:      100,
		AdvanceThreshold:   30,
		ArrivalRadius:      50,
		RerouteCooldown:    3 * time.Second,
		RerouteTimeout:     10 * time.Second,
		MaxRerouteAttempts: 5,
		Language:           "en",
		Units:              route.Metric,
	}
}

func (c Config) Validate() error {
	return util.Validate(c)
}

type config struct {
	Navigation Config `yaml:"navigation"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Navigation, nil
}
