package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/meigma/animcache/gifsource"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/schedule"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print frame timing and memory needs of GIF files",
		ArgsUsage: "FILE...",
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() == 0 {
				return cli.Exit("info: no files given", 2)
			}
			loader, err := gifsource.NewLoader()
			if err != nil {
				return err
			}
			for _, path := range cCtx.Args().Slice() {
				anim, err := loader.LoadFile(path)
				if err != nil {
					return err
				}
				printInfo(cCtx, path, anim)
			}
			return nil
		},
	}
}

func printInfo(cCtx *cli.Context, path string, anim *gifsource.Animation) {
	w := cCtx.App.Writer
	s := schedule.NewDropFrames(anim)
	frameBytes := uint64(anim.Width() * anim.Height() * pixel.BytesPerPixel)

	loops := "forever"
	if !s.IsInfiniteAnimation() {
		loops = fmt.Sprint(anim.LoopCount())
	}
	durations := make([]string, anim.FrameCount())
	for i := range durations {
		durations[i] = fmt.Sprint(anim.FrameDurationMs(i))
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  source:     %s\n", anim.Source())
	fmt.Fprintf(w, "  size:       %dx%d (%s encoded)\n", anim.IntrinsicWidth(), anim.IntrinsicHeight(), humanize.IBytes(uint64(anim.EncodedSizeInBytes())))
	fmt.Fprintf(w, "  frames:     %d\n", anim.FrameCount())
	fmt.Fprintf(w, "  durations:  %s ms\n", strings.Join(durations, " "))
	fmt.Fprintf(w, "  loop:       %s\n", time.Duration(s.LoopDurationMs())*time.Millisecond)
	fmt.Fprintf(w, "  plays:      %s\n", loops)
	fmt.Fprintf(w, "  frame size: %s, all frames %s\n", humanize.IBytes(frameBytes), humanize.IBytes(frameBytes*uint64(anim.FrameCount())))
}
