package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// ClampExtent clamps a width/height pair component-wise, the way surface
// capabilities bound a swapchain extent.
func ClampExtent[T constraints.Integer](w, h, minW, minH, maxW, maxH T) (T, T) {
	return Clamp(w, minW, maxW), Clamp(h, minH, maxH)
}
