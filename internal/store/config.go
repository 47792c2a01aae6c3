package store

import (
	"context"
	"fmt"
	"time"

	"github.com/curbz/yamka/pkg/util"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Driver         string        `yaml:"driver" validate:"oneof=file memory postgres"`
	Directory      string        `yaml:"directory" validate:"required_if=Driver file"`
	DatabaseURLEnv string        `yaml:"database_url_env"`
	Table          string        `yaml:"table"`
	Device         string        `yaml:"device"`
	Timeout        time.Duration `yaml:"timeout"`
}

type config struct {
	Store Config `yaml:"store"`
}

func LoadConfig(cfgPath string) (*Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, err
	}
	return &cfg.Store, nil
}

// Open builds the configured backend. The returned close function releases
// any database pool. A postgres backend that cannot be reached falls back to
// the file store so navigation still resumes across restarts.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "postgres":
		envName := cfg.DatabaseURLEnv
		if envName == "" {
			envName = "DATABASE_URL"
		}
		url := util.EnvOrDefault(envName, "")
		if url == "" {
			return nil, noop, fmt.Errorf("store: %s is not set", envName)
		}
		table := cfg.Table
		if table == "" {
			table = "navigation_state"
		}
		device := cfg.Device
		if device == "" {
			device = "default"
		}

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(connectCtx, url)
		if err == nil {
			err = pool.Ping(connectCtx)
		}
		if err == nil {
			s, serr := NewPostgresStore(connectCtx, pool, table, device, cfg.Timeout)
			if serr == nil {
				log.Println("Connected to PostgreSQL")
				return s, pool.Close, nil
			}
			err = serr
		}
		if pool != nil {
			pool.Close()
		}
		log.Warnf("store: could not use postgres (%v), falling back to file store", err)
		dir := cfg.Directory
		if dir == "" {
			dir = "./state"
		}
		fs, ferr := NewFileStore(dir)
		return fs, noop, ferr
	default:
		fs, err := NewFileStore(cfg.Directory)
		return fs, noop, err
	}
}
