package engine

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/simulated"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func newTestGame(maxFrames uint64) *Game {
	cfg := config.Default()
	cfg.Simulated.Mode = "immediate"
	return &Game{
		ApplicationConfig: &ApplicationConfig{
			Name:      "engine-test",
			Config:    cfg,
			MaxFrames: maxFrames,
		},
	}
}

func startEngine(t *testing.T, g *Game) *Engine {
	t.Helper()
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() {
		assert.NoError(t, e.Shutdown())
	})
	return e
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&Game{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	g := newTestGame(0)
	g.ApplicationConfig.Config.Renderer.FramesInFlight = 0
	_, err = New(g)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	g := newTestGame(10)
	var initialized, updates, shutdowns int
	g.FnInitialize = func() error {
		initialized++
		assert.NotNil(t, g.SystemManager)
		assert.NotNil(t, g.Device)
		assert.NotNil(t, g.FrameLoop)
		return nil
	}
	g.FnUpdate = func(float64) error {
		updates++
		return nil
	}
	g.FnShutdown = func() error {
		shutdowns++
		return nil
	}

	e := startEngine(t, g)
	assert.Equal(t, EngineStageInitialized, e.Stage())
	require.NoError(t, e.Run())

	assert.Equal(t, 1, initialized)
	assert.Equal(t, 10, updates)
	assert.Equal(t, uint64(10), e.loop.FrameIndex())
	assert.Equal(t, uint64(10), e.Metrics().FramesPresented)
	assert.Zero(t, e.Metrics().FramesSkipped)

	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestQuitEventStopsRun(t *testing.T) {
	g := newTestGame(0)
	updates := 0
	g.FnUpdate = func(float64) error {
		updates++
		if updates == 3 {
			core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		}
		return nil
	}
	e := startEngine(t, g)
	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.loop.FrameIndex())
}

func TestEscapeFiresQuit(t *testing.T) {
	g := newTestGame(0)
	g.FnUpdate = func(float64) error {
		e := g.State.(*Engine)
		e.input.ProcessKey(core.KEY_ESCAPE, true)
		return nil
	}
	e := startEngine(t, g)
	g.State = e
	require.NoError(t, e.Run())
	// the key press is drained at the start of frame two and fires quit
	assert.Equal(t, uint64(1), e.loop.FrameIndex())
}

func TestMinimizedWindowSuspends(t *testing.T) {
	e := startEngine(t, newTestGame(0))

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	assert.True(t, e.isSuspended)
	assert.False(t, e.surface.HasArea())

	err := e.loop.Draw()
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.True(t, core.IsRecoverable(err))

	resized := 0
	e.gameInstance.FnOnResize = func(w, h uint32) error {
		resized++
		assert.Equal(t, uint32(640), w)
		assert.Equal(t, uint32(480), h)
		return nil
	}
	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{WindowWidth: 640, WindowHeight: 480}})
	assert.False(t, e.isSuspended)
	assert.Equal(t, 1, resized)

	require.NoError(t, e.loop.Draw())
	assert.Equal(t, uint32(640), e.surface.Swapchain().Width())
}

func TestVSyncToggleRebuildsSwapchain(t *testing.T) {
	e := startEngine(t, newTestGame(0))
	require.True(t, e.surface.VSync())
	gen := e.surface.Generation()

	e.onVSyncToggle(core.EventContext{Type: core.EVENT_CODE_VSYNC_TOGGLE, Data: &core.RendererEvent{VSync: false}})
	require.NoError(t, e.loop.Draw())
	assert.False(t, e.surface.VSync())
	assert.False(t, e.surface.Swapchain().VSync())
	assert.Equal(t, gen+1, e.surface.Generation())

	// same mode again is a no-op
	e.onVSyncToggle(core.EventContext{Type: core.EVENT_CODE_VSYNC_TOGGLE, Data: &core.RendererEvent{VSync: false}})
	require.NoError(t, e.loop.Draw())
	assert.Equal(t, gen+1, e.surface.Generation())
}

func TestConfigReloadAppliesLiveSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[simulated]\nmode = \"immediate\"\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	g := &Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path, Config: cfg}}
	e := startEngine(t, g)
	require.NotNil(t, e.watcher)
	dev := e.device.(*simulated.Device)
	pipelines := dev.Stats().PipelineCreates

	updated := "[renderer]\nvsync = false\nhdr = true\n\n[simulated]\nmode = \"immediate\"\n\n[log]\nlevel = \"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	e.onConfigChanged(core.EventContext{Type: core.EVENT_CODE_CONFIG_CHANGED, Data: &core.FileEvent{Path: path}})
	defer core.SetLogLevel(core.InfoLevel)

	assert.False(t, e.config.Renderer.VSync)
	assert.Same(t, e.config, g.ApplicationConfig.Config)
	require.NoError(t, e.loop.Draw())
	assert.False(t, e.surface.VSync())
	assert.Equal(t, gpu.FormatA2B10G10R10Unorm, e.surface.Swapchain().Format())
	// the pipeline follows the new back buffer format
	assert.Equal(t, pipelines+1, dev.Stats().PipelineCreates)

	// a broken file keeps the running configuration
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 0\n"), 0o644))
	e.onConfigChanged(core.EventContext{Type: core.EVENT_CODE_CONFIG_CHANGED})
	assert.Equal(t, uint32(2), e.config.Renderer.FramesInFlight)
}
