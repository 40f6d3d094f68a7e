// Package config loads the engine configuration from TOML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/inflight/engine/core"
)

// Duration is a time.Duration written as "250ms", "5s" in the file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type WindowConfig struct {
	Name   string `toml:"name"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	// simulated or vulkan
	Backend        string     `toml:"backend"`
	FramesInFlight uint32     `toml:"frames_in_flight"`
	VSync          bool       `toml:"vsync"`
	HDR            bool       `toml:"hdr"`
	FenceTimeout   Duration   `toml:"fence_timeout"`
	ClearColor     [4]float32 `toml:"clear_color"`
	ShaderDir      string     `toml:"shader_dir"`
	// 0 uses the platform recommendation
	ImageCount uint32 `toml:"image_count"`
	// Validation enables the Vulkan validation layers.
	Validation bool `toml:"validation"`
}

type SimulatedConfig struct {
	// immediate, manual or async
	Mode       string   `toml:"mode"`
	Latency    Duration `toml:"latency"`
	ImageCount uint32   `toml:"image_count"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Window    WindowConfig    `toml:"window"`
	Renderer  RendererConfig  `toml:"renderer"`
	Simulated SimulatedConfig `toml:"simulated"`
	Log       LogConfig       `toml:"log"`
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Name:   "Inflight",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Backend:        "simulated",
			FramesInFlight: 2,
			VSync:          true,
			FenceTimeout:   Duration{5 * time.Second},
			ClearColor:     [4]float32{0.2, 0.2, 0.25, 1},
			ShaderDir:      "",
		},
		Simulated: SimulatedConfig{
			Mode:    "async",
			Latency: Duration{4 * time.Millisecond},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("%w: renderer.frames_in_flight must be at least 1", core.ErrConfiguration)
	}
	if c.Renderer.FenceTimeout.Duration <= 0 {
		return fmt.Errorf("%w: renderer.fence_timeout must be positive", core.ErrConfiguration)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: window size %dx%d", core.ErrConfiguration, c.Window.Width, c.Window.Height)
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogLevel() core.LogLevel {
	lvl, _ := core.ParseLogLevel(c.Log.Level)
	return lvl
}

// Marshal writes the configuration back as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
