package engine

import (
	"github.com/spaghettifunk/inflight/engine/config"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string
	// File the configuration was loaded from. Empty disables hot reload.
	ConfigPath string
	Config     *config.Config
	// Run returns after this many submitted frames. 0 runs until quit.
	MaxFrames uint64
}
