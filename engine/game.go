package engine

import (
	"github.com/spaghettifunk/inflight/engine/renderer"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
	"github.com/spaghettifunk/inflight/engine/systems"
)

// Game holds the hooks the engine calls. Device, FrameLoop and SystemManager
// are filled in by the engine before FnInitialize runs.
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	Device            gpu.Device
	FrameLoop         *renderer.FrameLoop
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error

// Shutdown runs once the queue is idle, before the engine releases the device.
type Shutdown func() error
