package renderer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/inflight/engine/core"
)

const (
	fullscreenVertex   = "fullscreen.vert.spv"
	fullscreenFragment = "fullscreen.frag.spv"
)

// ShaderSource returns the SPIR-V of the vertex and fragment stages.
type ShaderSource func() (vert []byte, frag []byte, err error)

// ShaderDir loads the compiled fullscreen shaders from dir. An empty dir yields
// no bytecode, which the simulated backend accepts.
func ShaderDir(dir string) ShaderSource {
	return func() ([]byte, []byte, error) {
		if dir == "" {
			return nil, nil, nil
		}
		vert, err := readSPIRV(filepath.Join(dir, fullscreenVertex))
		if err != nil {
			return nil, nil, err
		}
		frag, err := readSPIRV(filepath.Join(dir, fullscreenFragment))
		if err != nil {
			return nil, nil, err
		}
		return vert, frag, nil
	}
}

func readSPIRV(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: shader %s: %w", core.ErrConfiguration, path, err)
	}
	// SPIR-V is a stream of 32 bit words
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: shader %s is not SPIR-V (%d bytes)", core.ErrConfiguration, path, len(b))
	}
	return b, nil
}
