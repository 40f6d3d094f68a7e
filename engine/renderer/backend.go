package renderer

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/inflight/engine/core"
)

type RendererType uint8

const (
	Simulated RendererType = iota
	Vulkan
)

func (t RendererType) String() string {
	if t == Vulkan {
		return "vulkan"
	}
	return "simulated"
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(s) {
	case "simulated", "headless", "":
		return Simulated, nil
	case "vulkan":
		return Vulkan, nil
	}
	return Simulated, fmt.Errorf("%w: unknown renderer backend %q", core.ErrConfiguration, s)
}
