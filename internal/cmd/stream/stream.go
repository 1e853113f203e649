// Package stream parses stream service flags and launches the session
// stream daemon.
package stream

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/gauntlet/internal/platform/cmd"
)

// Config holds stream command configuration.
type Config struct {
	Port            int    `env:"GAUNTLET_STREAM_PORT" envDefault:"8422"`
	DBPath          string `env:"GAUNTLET_STREAM_DB" envDefault:"gauntlet.db"`
	DefinitionsPath string `env:"GAUNTLET_STREAM_ACHIEVEMENTS"`
	Retention       int    `env:"GAUNTLET_STREAM_RETENTION" envDefault:"512"`
	EngineURL       string `env:"GAUNTLET_STREAM_ENGINE_URL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The stream server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database file")
	fs.StringVar(&cfg.DefinitionsPath, "achievements", cfg.DefinitionsPath, "Path to the achievement definitions YAML file")
	fs.IntVar(&cfg.Retention, "retention", cfg.Retention, "Per-session count of recent events kept for resume replays")
	fs.StringVar(&cfg.EngineURL, "engine-url", cfg.EngineURL, "Base URL of the game engine action endpoint")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the session stream service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStream, func(ctx context.Context) error {
		server, err := NewServer(cfg)
		if err != nil {
			return err
		}
		defer server.Close()
		return server.ListenAndServe(ctx)
	})
}
