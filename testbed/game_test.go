package testbed

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func TestBuildPalette(t *testing.T) {
	p := buildPalette(0)
	require.Len(t, p, paletteSize)

	// entry 0 is pure red, fully opaque
	assert.Equal(t, uint32(0xff0000ff), binary.LittleEndian.Uint32(p[0:]))
	// a third of the way round is green
	assert.Equal(t, uint32(0xff00ff00), binary.LittleEndian.Uint32(p[4*(paletteEntries/3+1):])&0xff00ff00)

	shifted := buildPalette(10)
	assert.Equal(t, p[40:44], shifted[0:4])
	assert.Equal(t, p[0:4], buildPalette(paletteEntries)[0:4])
}

func TestTestbedRunsHeadless(t *testing.T) {
	cfg := config.Default()
	cfg.Simulated.Mode = "immediate"
	tg := NewTestGame(&engine.ApplicationConfig{Config: cfg, MaxFrames: 20})
	state := tg.state()
	// flip and report on every frame
	state.VSyncInterval = 1e-9
	state.ReportInterval = 1e-9

	e, err := engine.New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	// the first frame must carry the initial palette
	tg.SystemManager.StreamingSystem.WaitLoaded()
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())

	assert.Nil(t, state.palette)
	assert.Equal(t, uint64(20), e.Metrics().FramesPresented)
	_, uploads := tg.SystemManager.StreamingSystem.Stats()
	assert.NotZero(t, uploads)
}
