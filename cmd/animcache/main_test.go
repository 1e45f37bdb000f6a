package main

import (
	"bytes"
	"math/rand" //nolint:gosec // deterministic test data
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/meigma/animcache"
)

func writeGIF(t *testing.T, frames int) string {
	t.Helper()
	data, err := makeGIF(rand.New(rand.NewSource(1)), frames, 8) //nolint:gosec // deterministic test data
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "anim.gif")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"animcache"}, args...)))
	return out.String()
}

func TestInfo(t *testing.T) {
	t.Parallel()

	out := run(t, "info", writeGIF(t, 3))
	assert.Contains(t, out, "frames:     3")
	assert.Contains(t, out, "durations:  40 40 40 ms")
	assert.Contains(t, out, "plays:      forever")
	assert.Contains(t, out, "sha256:")
}

func TestPlay(t *testing.T) {
	t.Parallel()

	out := run(t, "--strategy", "keep-last", "play", "--duration", "200ms", writeGIF(t, 4))
	assert.Contains(t, out, "drawn=")
	assert.Contains(t, out, "store=")
}

func TestProfile(t *testing.T) {
	t.Parallel()

	out := run(t, "--budget", "1MiB", "profile", "--iterations", "2", "--animations", "1", "--frames", "3", "--size", "8")
	assert.Contains(t, out, "strategy=bounded draws=6 dropped=0")
}

func TestLoadConfigFlags(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: none\nframes_to_prepare: 1\n"), 0o600))

	var got animcache.Config
	app := newApp()
	app.Action = func(cCtx *cli.Context) error {
		var err error
		got, err = loadConfig(cCtx)
		return err
	}
	require.NoError(t, app.Run([]string{"animcache", "--config", path, "--budget", "2MiB", "--prepare", "5"}))
	assert.Equal(t, animcache.StrategyNone, got.Strategy)
	assert.Equal(t, 5, got.FramesToPrepare)
	assert.Equal(t, animcache.ByteSize(2<<20), got.Cache.MaxSize)

	app = newApp()
	app.Action = func(cCtx *cli.Context) error {
		_, err := loadConfig(cCtx)
		return err
	}
	require.ErrorIs(t, app.Run([]string{"animcache", "--strategy", "sometimes"}), animcache.ErrUnknownStrategy)
}
