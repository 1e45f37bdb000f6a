// Command animcache inspects, plays and profiles animated GIFs through the
// animcache frame cache.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/meigma/animcache"
)

const (
	configFlag   = "config"
	strategyFlag = "strategy"
	budgetFlag   = "budget"
	prepareFlag  = "prepare"
	logLevelFlag = "log-level"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "animcache",
		Usage: "inspect, play and profile animated GIFs",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"ANIMCACHE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  strategyFlag,
				Usage: "caching strategy: none, bounded, bounded-no-reuse, keep-last",
			},
			&cli.StringFlag{
				Name:  budgetFlag,
				Usage: "frame store budget, e.g. 64MiB",
			},
			&cli.IntFlag{
				Name:  prepareFlag,
				Usage: "frames to prepare ahead (-1 keeps the configured value)",
				Value: -1,
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "log level: debug, info, warn, error",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			infoCommand(),
			playCommand(),
			profileCommand(),
		},
	}
}

func newLogger(cCtx *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cCtx.String(logLevelFlag))); err != nil {
		return nil, fmt.Errorf("--%s: %w", logLevelFlag, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig reads --config and applies the flags that override it.
func loadConfig(cCtx *cli.Context) (animcache.Config, error) {
	cfg := animcache.DefaultConfig()
	if path := cCtx.Path(configFlag); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if cfg, err = animcache.LoadConfig(f); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if s := cCtx.String(strategyFlag); s != "" {
		strategy, err := animcache.ParseStrategy(s)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = strategy
	}
	if s := cCtx.String(budgetFlag); s != "" {
		budget, err := animcache.ParseByteSize(s)
		if err != nil {
			return cfg, err
		}
		cfg.Cache.MaxSize = budget
		cfg.Cache.MaxEvictionQueueSize = budget
		cfg.Cache.MaxEntrySize = budget
	}
	if n := cCtx.Int(prepareFlag); n >= 0 {
		cfg.FramesToPrepare = n
	}
	return cfg, cfg.Validate()
}
