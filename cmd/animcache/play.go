package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/animcache"
)

func playCommand() *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "play GIF files off-screen and report cache behaviour",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "stop after this long; 0 plays finite animations to the end",
				Value: 5 * time.Second,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address (e.g. :9090)",
			},
			&cli.BoolFlag{
				Name:  "watch-memory",
				Usage: "trim caches when system memory runs low",
			},
		},
		Action: runPlay,
	}
}

type player struct {
	path     string
	drawable *animcache.Drawable
	canvas   *image.RGBA
}

//nolint:gocognit // wiring of the play command is linear but long
func runPlay(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return cli.Exit("play: no files given", 2)
	}
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	logger, err := newLogger(cCtx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt)
	defer stop()
	if d := cCtx.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	opts := []animcache.Option{animcache.WithLogger(logger)}
	if addr := cCtx.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, animcache.WithRegisterer(reg))
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	factory, err := animcache.NewFactory(cfg, opts...)
	if err != nil {
		return err
	}
	defer factory.Close()

	players := make([]player, 0, cCtx.NArg())
	for _, path := range cCtx.Args().Slice() {
		p, err := newPlayer(factory, path)
		if err != nil {
			return err
		}
		players = append(players, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	playing, pctx := errgroup.WithContext(gctx)
	for _, p := range players {
		playing.Go(func() error {
			err := p.drawable.Run(pctx, p.canvas, nil)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}

	wctx, stopWatcher := context.WithCancel(gctx)
	defer stopWatcher()
	if cCtx.Bool("watch-memory") {
		w, err := factory.NewWatcher()
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(wctx) })
	}
	g.Go(func() error {
		defer stopWatcher()
		return playing.Wait()
	})
	if err := g.Wait(); err != nil {
		return err
	}

	report(cCtx, factory, players)
	return nil
}

func newPlayer(factory *animcache.Factory, path string) (player, error) {
	f, err := os.Open(path)
	if err != nil {
		return player{}, err
	}
	defer f.Close()
	anim, err := factory.LoadGIF(f)
	if err != nil {
		return player{}, fmt.Errorf("%s: %w", path, err)
	}
	d, err := factory.NewDrawable(anim)
	if err != nil {
		return player{}, fmt.Errorf("%s: %w", path, err)
	}
	return player{
		path:     path,
		drawable: d,
		canvas:   image.NewRGBA(image.Rect(0, 0, anim.Width(), anim.Height())),
	}, nil
}

func report(cCtx *cli.Context, factory *animcache.Factory, players []player) {
	w := cCtx.App.Writer
	for _, p := range players {
		stats := p.drawable.Stats()
		fmt.Fprintf(w, "%s: drawn=%d dropped=%d cached=%s",
			p.path, stats.FramesDrawn, stats.DroppedFrames,
			humanize.IBytes(uint64(p.drawable.FrameCache().SizeInBytes())))
		if prep := p.drawable.Preparer(); prep != nil {
			ps := prep.Stats()
			fmt.Fprintf(w, " prepared=%d skipped=%d failed=%d", ps.Prepared, ps.Skipped, ps.Failed)
		}
		fmt.Fprintln(w)
	}
	pool := factory.Pool().Stats()
	fmt.Fprintf(w, "store=%s pool in-use=%s retained=%s allocations=%d reuses=%d\n",
		humanize.IBytes(uint64(factory.Backing().SizeInBytes())),
		humanize.IBytes(uint64(pool.InUseBytes)),
		humanize.IBytes(uint64(pool.RetainedBytes)),
		pool.Allocations, pool.Reuses)
}
