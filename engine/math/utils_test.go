package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampExtent(t *testing.T) {
	w, h := ClampExtent[uint32](4000, 0, 1, 1, 3840, 2160)
	assert.Equal(t, uint32(3840), w)
	assert.Equal(t, uint32(1), h)
	assert.Equal(t, 2, Clamp(2, 2, 8))
}
