package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[renderer]
backend = "vulkan"
frames_in_flight = 3
vsync = false
fence_timeout = "250ms"
clear_color = [1.0, 0.0, 0.0, 1.0]

[simulated]
mode = "manual"

[log]
level = "debug"
`))
	require.NoError(t, err)
	assert.Equal(t, "vulkan", cfg.Renderer.Backend)
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.False(t, cfg.Renderer.VSync)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FenceTimeout.Duration)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, cfg.Renderer.ClearColor)
	assert.Equal(t, "manual", cfg.Simulated.Mode)
	assert.Equal(t, core.DebugLevel, cfg.LogLevel())
	// untouched sections keep their defaults
	assert.Equal(t, uint32(1280), cfg.Window.Width)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"zero depth":   "[renderer]\nframes_in_flight = 0\n",
		"bad duration": "[renderer]\nfence_timeout = \"soon\"\n",
		"unknown key":  "[renderer]\nframes = 2\n",
		"bad level":    "[log]\nlevel = \"loud\"\n",
		"zero window":  "[window]\nwidth = 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data, err := Default().Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestShippedConfigsLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "vulkan", cfg.Renderer.Backend)
	assert.Equal(t, "shaders", cfg.Renderer.ShaderDir)

	cfg, err = Load(filepath.Join("..", "..", "config.headless.toml"))
	require.NoError(t, err)
	assert.Equal(t, "simulated", cfg.Renderer.Backend)
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, "Inflight", cfg.Window.Name)
}
