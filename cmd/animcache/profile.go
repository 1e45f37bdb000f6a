package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/urfave/cli/v2"

	"github.com/meigma/animcache"
)

type profileConfig struct {
	duration   time.Duration
	iterations int
	pprofAddr  string
	cpuProfile string
	memProfile string
	traceFile  string
	fgProfile  string
	frames     int
	size       int
	animations int
	seed       int64
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:      "profile",
		Usage:     "draw every frame of GIF files (or generated ones) as fast as possible under a profiler",
		ArgsUsage: "[FILE...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "duration to run (ignored if iterations > 0)"},
			&cli.IntFlag{Name: "iterations", Usage: "number of passes over every frame"},
			&cli.StringFlag{Name: "pprof-addr", Usage: "pprof listen address (e.g. :6060)"},
			&cli.StringFlag{Name: "cpuprofile", Usage: "write CPU profile to file"},
			&cli.StringFlag{Name: "memprofile", Usage: "write heap profile to file"},
			&cli.StringFlag{Name: "trace", Usage: "write trace to file"},
			&cli.StringFlag{Name: "fgprofile", Usage: "write fgprof (wall clock) profile to file"},
			&cli.IntFlag{Name: "frames", Value: 24, Usage: "frames per generated animation"},
			&cli.IntFlag{Name: "size", Value: 256, Usage: "width and height of generated animations"},
			&cli.IntFlag{Name: "animations", Value: 4, Usage: "generated animations when no files are given"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed for generated animations"},
		},
		Action: runProfile,
	}
}

//nolint:gocognit,gocyclo // profiler setup mirrors the flags one by one
func runProfile(cCtx *cli.Context) error {
	pc := profileConfig{
		duration:   cCtx.Duration("duration"),
		iterations: cCtx.Int("iterations"),
		pprofAddr:  cCtx.String("pprof-addr"),
		cpuProfile: cCtx.String("cpuprofile"),
		memProfile: cCtx.String("memprofile"),
		traceFile:  cCtx.String("trace"),
		fgProfile:  cCtx.String("fgprofile"),
		frames:     cCtx.Int("frames"),
		size:       cCtx.Int("size"),
		animations: cCtx.Int("animations"),
		seed:       cCtx.Int64("seed"),
	}
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	logger, err := newLogger(cCtx)
	if err != nil {
		return err
	}

	if pc.pprofAddr != "" {
		go func() {
			logger.Info("pprof listening", "addr", pc.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(pc.pprofAddr, nil); err != nil {
				logger.Error("pprof server", "error", err)
			}
		}()
	}

	factory, err := animcache.NewFactory(cfg, animcache.WithLogger(logger))
	if err != nil {
		return err
	}
	defer factory.Close()

	drawables, err := profileDrawables(cCtx, factory, pc)
	if err != nil {
		return err
	}

	if pc.fgProfile != "" {
		fgFile, err := os.Create(pc.fgProfile)
		if err != nil {
			return err
		}
		stopFG := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				logger.Error("fgprof stop", "error", err)
			}
			_ = fgFile.Close()
		}()
	}

	if pc.cpuProfile != "" {
		cpuFile, err := os.Create(pc.cpuProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			return err
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if pc.traceFile != "" {
		traceFile, err := os.Create(pc.traceFile)
		if err != nil {
			return err
		}
		if err := trace.Start(traceFile); err != nil {
			return err
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats := drawLoop(pc, drawables)

	if pc.memProfile != "" {
		if err := writeHeapProfile(pc.memProfile); err != nil {
			return err
		}
	}

	pool := factory.Pool().Stats()
	fmt.Fprintf(cCtx.App.Writer, "strategy=%s draws=%d dropped=%d elapsed=%s rate=%.0f frames/s allocations=%d reuses=%d\n",
		cfg.Strategy, stats.draws, stats.dropped, stats.elapsed,
		float64(stats.draws)/stats.elapsed.Seconds(),
		pool.Allocations, pool.Reuses)
	return nil
}

type profiled struct {
	drawable *animcache.Drawable
	canvas   *image.RGBA
}

func profileDrawables(cCtx *cli.Context, factory *animcache.Factory, pc profileConfig) ([]profiled, error) {
	var sources [][]byte
	if cCtx.NArg() > 0 {
		for _, path := range cCtx.Args().Slice() {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			sources = append(sources, data)
		}
	} else {
		rng := rand.New(rand.NewSource(pc.seed)) //nolint:gosec // intentional for reproducible benchmarks
		for range pc.animations {
			data, err := makeGIF(rng, pc.frames, pc.size)
			if err != nil {
				return nil, err
			}
			sources = append(sources, data)
		}
	}

	out := make([]profiled, 0, len(sources))
	for _, data := range sources {
		anim, err := factory.LoadGIF(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		d, err := factory.NewDrawable(anim)
		if err != nil {
			return nil, err
		}
		out = append(out, profiled{
			drawable: d,
			canvas:   image.NewRGBA(image.Rect(0, 0, anim.Width(), anim.Height())),
		})
	}
	return out, nil
}

type drawStats struct {
	draws   int
	dropped int
	elapsed time.Duration
}

func drawLoop(pc profileConfig, drawables []profiled) drawStats {
	start := time.Now()
	passes := 0
	shouldContinue := func() bool {
		if pc.iterations > 0 {
			return passes < pc.iterations
		}
		return time.Since(start) < pc.duration
	}

	var stats drawStats
	for shouldContinue() {
		for _, p := range drawables {
			b := p.drawable.Bitmap()
			for i := range b.FrameCount() {
				if b.DrawFrame(p.canvas, i) {
					stats.draws++
				} else {
					stats.dropped++
				}
			}
		}
		passes++
	}
	for _, p := range drawables {
		if prep := p.drawable.Preparer(); prep != nil {
			prep.Wait()
		}
	}
	stats.elapsed = time.Since(start)
	return stats
}

func writeHeapProfile(path string) error {
	runtime.GC()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.WriteHeapProfile(f)
}

// makeGIF generates a looping GIF of random noise over a fixed palette.
func makeGIF(rng *rand.Rand, frames, size int) ([]byte, error) {
	if frames <= 0 || size <= 0 {
		return nil, fmt.Errorf("generated animation needs frames and size, got %d and %d", frames, size)
	}
	pal := make(color.Palette, 0, 64)
	for i := range cap(pal) {
		pal = append(pal, color.RGBA{R: uint8(i * 4), G: uint8(255 - i*4), B: uint8(rng.Intn(256)), A: 0xff})
	}

	g := &gif.GIF{LoopCount: 0}
	for range frames {
		img := image.NewPaletted(image.Rect(0, 0, size, size), pal)
		for i := range img.Pix {
			img.Pix[i] = uint8(rng.Intn(len(pal)))
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 4)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
