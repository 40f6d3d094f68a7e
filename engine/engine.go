package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/inflight/engine/assets"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/platform"
	"github.com/spaghettifunk/inflight/engine/renderer"
	"github.com/spaghettifunk/inflight/engine/renderer/frames"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/renderer/simulated"
	"github.com/spaghettifunk/inflight/engine/renderer/surface"
	"github.com/spaghettifunk/inflight/engine/renderer/vulkan"
	"github.com/spaghettifunk/inflight/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// suspendedPoll is how long Run sleeps per iteration while the window is minimised.
const suspendedPoll = 10 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	isRunning    atomic.Bool
	isSuspended  bool
	vsync        bool
	// FnInitialize returned without error
	gameReady bool

	window  platform.Window
	input   *core.InputState
	watcher *assets.Watcher

	device        gpu.Device
	queue         gpu.Queue
	surface       *surface.Manager
	ring          *frames.Ring
	loop          *renderer.FrameLoop
	systemManager *systems.SystemManager

	width    uint32
	height   uint32
	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("%w: the game has no application config", core.ErrConfiguration)
	}
	if g.ApplicationConfig.Config == nil {
		g.ApplicationConfig.Config = config.Default()
	}
	cfg := g.ApplicationConfig.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g.ApplicationConfig.Name == "" {
		g.ApplicationConfig.Name = cfg.Window.Name
	}

	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		config:       cfg,
		vsync:        cfg.Renderer.VSync,
		input:        core.NewInputState(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}
	e.isRunning.Store(true)
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
	core.EventRegister(core.EVENT_CODE_VSYNC_TOGGLE, e.onVSyncToggle)
	core.EventRegister(core.EVENT_CODE_CONFIG_CHANGED, e.onConfigChanged)
	core.EventRegister(core.EVENT_CODE_SHADERS_CHANGED, e.onShadersChanged)

	if err := e.createDevice(); err != nil {
		return err
	}
	if err := e.createRenderer(); err != nil {
		return err
	}
	if err := e.startWatcher(); err != nil {
		return err
	}

	e.gameInstance.SystemManager = e.systemManager
	e.gameInstance.Device = e.device
	e.gameInstance.FrameLoop = e.loop
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("failed to initialize the game: %s", err)
			return err
		}
	}
	e.gameReady = true

	e.currentStage = EngineStageInitialized
	return nil
}

// createDevice opens the window and the device of the configured backend.
func (e *Engine) createDevice() error {
	cfg := e.config
	backend, err := renderer.ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case renderer.Vulkan:
		p := platform.New(e.input)
		e.window = p
		if err := p.Startup(e.gameInstance.ApplicationConfig.Name, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
			return err
		}
		dev, err := vulkan.New(vulkan.Options{
			ApplicationName: e.gameInstance.ApplicationConfig.Name,
			Validation:      cfg.Renderer.Validation,
		}, p)
		if err != nil {
			return err
		}
		e.device = dev
	default:
		h := platform.NewHeadless()
		e.window = h
		if err := h.Startup(e.gameInstance.ApplicationConfig.Name, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
			return err
		}
		mode, err := simulated.ParseMode(cfg.Simulated.Mode)
		if err != nil {
			return err
		}
		e.device = simulated.New(simulated.Options{
			Name:       e.gameInstance.ApplicationConfig.Name,
			Mode:       mode,
			Latency:    cfg.Simulated.Latency.Duration,
			ImageCount: cfg.Simulated.ImageCount,
		})
	}
	core.LogInfo("using %s backend on %s", backend, e.device.Name())
	return nil
}

// createRenderer builds the presentation surface, the frame ring, the streamer
// and the frame loop on top of the device.
func (e *Engine) createRenderer() error {
	cfg := e.config
	q, err := e.device.CreateQueue(gpu.QueueTypeGraphics)
	if err != nil {
		return err
	}
	e.queue = q

	e.surface = surface.New(e.device, e.queue)
	e.surface.SetImageCount(cfg.Renderer.ImageCount)
	if cfg.Renderer.HDR {
		e.surface.SetColorSpace(gpu.ColorSpaceHDR10)
	}
	w, h := e.window.FramebufferSize()
	if err := e.surface.Create(e.window, w, h, cfg.Renderer.VSync); err != nil {
		return err
	}

	ring, err := frames.NewRing(e.device, e.queue, cfg.Renderer.FramesInFlight, 1)
	if err != nil {
		return err
	}
	e.ring = ring

	sm, err := systems.NewSystemManager(e.device, e.queue, cfg.Renderer.FenceTimeout.Duration)
	if err != nil {
		return err
	}
	e.systemManager = sm

	loop, err := renderer.NewFrameLoop(renderer.FrameLoopConfig{
		Device:       e.device,
		Queue:        e.queue,
		Surface:      e.surface,
		Ring:         e.ring,
		Streamer:     sm.StreamingSystem,
		Shaders:      renderer.ShaderDir(cfg.Renderer.ShaderDir),
		ClearColor:   gpu.Color(cfg.Renderer.ClearColor),
		FenceTimeout: cfg.Renderer.FenceTimeout.Duration,
		VSync:        cfg.Renderer.VSync,
	})
	if err != nil {
		return err
	}
	e.loop = loop
	return nil
}

func (e *Engine) startWatcher() error {
	path := e.gameInstance.ApplicationConfig.ConfigPath
	shaderDir := e.config.Renderer.ShaderDir
	if path == "" && shaderDir == "" {
		return nil
	}
	w, err := assets.NewWatcher()
	if err != nil {
		return err
	}
	e.watcher = w
	if path != "" {
		if err := w.WatchFile(path, core.EVENT_CODE_CONFIG_CHANGED); err != nil {
			return err
		}
	}
	if shaderDir != "" {
		if err := w.WatchDir(shaderDir, core.EVENT_CODE_SHADERS_CHANGED, ".spv"); err != nil {
			return err
		}
	}
	w.Start()
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	defer e.clock.Stop()

	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames
	for e.isRunning.Load() {
		if !e.window.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		// handlers run here, on the thread that owns the surface
		core.EventDrain()
		if !e.isRunning.Load() {
			break
		}
		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed: %s", err)
				return err
			}
		}

		if err := e.loop.Draw(); err != nil {
			if !core.IsRecoverable(err) {
				core.LogError("frame %d: %s", e.loop.FrameIndex(), err)
				return err
			}
			e.metrics.FramesSkipped++
			core.LogDebug("frame %d skipped: %s", e.loop.FrameIndex(), err)
		} else {
			e.metrics.FramesPresented++
		}
		e.metrics.FenceStalls = e.ring.Stalls()
		e.metrics.Update(delta)

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		e.input.Update()

		e.lastTime = currentTime
		if maxFrames > 0 && e.loop.FrameIndex() >= maxFrames {
			break
		}
	}
	return nil
}

// Stop makes Run return after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown idles the GPU and releases everything in reverse creation order.
// It is safe to call after a failed Initialize.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error

	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.loop != nil {
		errs = append(errs, e.loop.Shutdown())
	} else if e.queue != nil {
		errs = append(errs, e.queue.WaitIdle())
	}
	if e.gameInstance.FnShutdown != nil && e.gameReady {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	e.gameReady = false
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	if e.ring != nil {
		e.ring.Destroy()
	}
	if e.surface != nil {
		e.surface.Destroy()
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.window != nil {
		errs = append(errs, e.window.Shutdown())
	}
	errs = append(errs, core.EventSystemShutdown())

	e.loop, e.systemManager, e.ring, e.surface, e.queue, e.device, e.window, e.watcher = nil, nil, nil, nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		{
			core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
			e.isRunning.Store(false)
		}
	}
}

func (e *Engine) onKey(context core.EventContext) {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	if context.Type != core.EVENT_CODE_KEY_PRESSED {
		return
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{
			Type: core.EVENT_CODE_APPLICATION_QUIT,
		})
	case core.KEY_V:
		core.EventFire(core.EventContext{
			Type: core.EVENT_CODE_VSYNC_TOGGLE,
			Data: &core.RendererEvent{VSync: !e.vsync},
		})
	case core.KEY_R:
		core.LogInfo("reloading shaders")
		e.loop.RequestReload(renderer.ReloadShader)
	case core.KEY_F1:
		fps, ms := e.metrics.Frame()
		core.LogInfo("fps=%.0f frame=%.2fms presented=%d skipped=%d stalls=%d",
			fps, ms, e.metrics.FramesPresented, e.metrics.FramesSkipped, e.metrics.FenceStalls)
	}
}

func (e *Engine) onResized(context core.EventContext) {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}

	width := se.WindowWidth
	height := se.WindowHeight
	if width == e.width && height == e.height {
		return
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)
	e.surface.Resize(width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
}

func (e *Engine) onVSyncToggle(context core.EventContext) {
	re, ok := context.Data.(*core.RendererEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	if re.VSync == e.vsync {
		return
	}
	e.vsync = re.VSync
	core.LogInfo("vsync %t", e.vsync)
	e.loop.RequestVSync(e.vsync)
}

// onConfigChanged applies the settings that can change without a restart.
func (e *Engine) onConfigChanged(context core.EventContext) {
	path := e.gameInstance.ApplicationConfig.ConfigPath
	cfg, err := config.Load(path)
	if err != nil {
		core.LogWarn("ignoring config change: %s", err)
		return
	}
	old := e.config
	if cfg.Renderer.Backend != old.Renderer.Backend || cfg.Renderer.FramesInFlight != old.Renderer.FramesInFlight {
		core.LogWarn("renderer.backend and renderer.frames_in_flight apply on restart")
	}

	core.SetLogLevel(cfg.LogLevel())
	e.loop.SetClearColor(gpu.Color(cfg.Renderer.ClearColor))
	if cfg.Renderer.ImageCount != old.Renderer.ImageCount {
		e.surface.SetImageCount(cfg.Renderer.ImageCount)
	}
	if cfg.Renderer.HDR != old.Renderer.HDR {
		cs := gpu.ColorSpaceSRGBNonlinear
		if cfg.Renderer.HDR {
			cs = gpu.ColorSpaceHDR10
		}
		e.surface.SetColorSpace(cs)
	}
	if cfg.Renderer.VSync != old.Renderer.VSync {
		e.vsync = cfg.Renderer.VSync
		e.loop.RequestVSync(e.vsync)
	}
	e.config = cfg
	e.gameInstance.ApplicationConfig.Config = cfg
	core.LogInfo("configuration reloaded from %s", path)
}

func (e *Engine) onShadersChanged(context core.EventContext) {
	if fe, ok := context.Data.(*core.FileEvent); ok {
		core.LogInfo("shader %s changed", fe.Path)
	}
	e.loop.RequestReload(renderer.ReloadShader)
}
