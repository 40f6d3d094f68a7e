package testbed

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/inflight/engine"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/math"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/systems"
)

const (
	paletteEntries = 256
	// RGBA8 per entry
	paletteSize = paletteEntries * 4
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	// seconds between vsync flips, 0 never flips
	VSyncInterval float64
	// seconds between FPS log lines
	ReportInterval float64

	vsync     bool
	sinceFlip float64
	sinceLog  float64
	frames    uint64
	elapsed   float64
	palette   gpu.Buffer
	width     uint32
	height    uint32
}

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	vsync := true
	if app.Config != nil {
		vsync = app.Config.Renderer.VSync
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State: &gameState{
				VSyncInterval:  5,
				ReportInterval: 1,
				vsync:          vsync,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	state := g.state()

	buf, err := g.Device.CreateBuffer(paletteSize)
	if err != nil {
		return err
	}
	state.palette = buf
	g.uploadPalette(0)
	return nil
}

// uploadPalette streams a rotated hue ramp into the palette buffer. The copy is
// recorded by the streaming system and the next frame waits for it.
func (g *TestGame) uploadPalette(shift uint32) {
	g.SystemManager.StreamingSystem.Upload(paletteUpload(g.state().palette, shift))
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.frames++
	state.elapsed += deltaTime
	state.sinceFlip += deltaTime
	state.sinceLog += deltaTime

	for _, err := range g.SystemManager.StreamingSystem.Failures() {
		core.LogWarn("palette upload failed: %s", err)
	}

	if state.VSyncInterval > 0 && state.sinceFlip >= state.VSyncInterval {
		state.sinceFlip = 0
		state.vsync = !state.vsync
		core.EventFire(core.EventContext{
			Type: core.EVENT_CODE_VSYNC_TOGGLE,
			Data: &core.RendererEvent{VSync: state.vsync},
		})
	}

	if state.ReportInterval > 0 && state.sinceLog >= state.ReportInterval {
		fps := float64(state.frames) / state.sinceLog
		batches, uploads := g.SystemManager.StreamingSystem.Stats()
		core.LogInfo("fps=%.1f vsync=%t frame=%d uploads=%d/%d",
			fps, state.vsync, g.FrameLoop.FrameIndex(), uploads, batches)
		state.frames = 0
		state.sinceLog = 0
		g.uploadPalette(uint32(state.elapsed * 16))
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width = width
	state.height = height
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

// Shutdown runs with the queue idle, so the palette can go right away.
func (g *TestGame) Shutdown() error {
	state := g.state()
	g.SystemManager.StreamingSystem.WaitLoaded()
	if state.palette != nil {
		state.palette.Destroy()
		state.palette = nil
	}
	core.LogInfo("testbed shut down after %.1fs", state.elapsed)
	return nil
}

func paletteUpload(dst gpu.Buffer, shift uint32) systems.UploadRequest {
	return systems.UploadRequest{
		Name: "palette",
		Dst:  dst,
		Load: func() ([]byte, error) {
			return buildPalette(shift), nil
		},
	}
}

// buildPalette returns paletteEntries RGBA8 colors walking the hue circle,
// starting shift entries in.
func buildPalette(shift uint32) []byte {
	out := make([]byte, paletteSize)
	for i := uint32(0); i < paletteEntries; i++ {
		h := float64((i+shift)%paletteEntries) / paletteEntries
		r, g, b := hueToRGB(h)
		binary.LittleEndian.PutUint32(out[i*4:], uint32(r)|uint32(g)<<8|uint32(b)<<16|0xff<<24)
	}
	return out
}

func hueToRGB(h float64) (uint8, uint8, uint8) {
	channel := func(offset float64) uint8 {
		v := gomath.Abs(gomath.Mod(h*6+offset, 6)-3) - 1
		return uint8(math.Clamp(v, 0, 1) * 255)
	}
	return channel(0), channel(4), channel(2)
}
