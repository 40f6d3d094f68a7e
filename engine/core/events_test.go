package core_test

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
)

func TestEventFireAndDrain(t *testing.T) {
	core.SetLogOutput(io.Discard)
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()
	require.False(t, core.EventSystemInitialize())

	var got []core.EventCode
	core.EventRegister(core.EVENT_CODE_RESIZED, func(ctx core.EventContext) {
		se, ok := ctx.Data.(*core.SystemEvent)
		require.True(t, ok)
		assert.Equal(t, uint32(640), se.WindowWidth)
		got = append(got, ctx.Type)
	})

	assert.True(t, core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: 640, WindowHeight: 480},
	}))
	core.EventDrain()
	assert.Equal(t, []core.EventCode{core.EVENT_CODE_RESIZED}, got)

	assert.True(t, core.EventUnregisterAll(core.EVENT_CODE_RESIZED))
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	core.EventDrain()
	assert.Len(t, got, 1)
}

func TestProcessEventsDispatchesUntilShutdown(t *testing.T) {
	core.SetLogOutput(io.Discard)
	require.True(t, core.EventSystemInitialize())

	seen := make(chan core.EventCode, 1)
	core.EventRegister(core.EVENT_CODE_VSYNC_TOGGLE, func(ctx core.EventContext) {
		seen <- ctx.Type
	})
	done := make(chan struct{})
	go func() {
		core.ProcessEvents()
		close(done)
	}()

	core.EventFire(core.EventContext{Type: core.EVENT_CODE_VSYNC_TOGGLE, Data: &core.RendererEvent{}})
	select {
	case code := <-seen:
		assert.Equal(t, core.EVENT_CODE_VSYNC_TOGGLE, code)
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}

	require.NoError(t, core.EventSystemShutdown())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ProcessEvents did not return after shutdown")
	}
}

func TestInputFiresOnTransitionOnly(t *testing.T) {
	core.SetLogOutput(io.Discard)
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	pressed := 0
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, func(ctx core.EventContext) { pressed++ })

	in := core.NewInputState()
	in.ProcessKey(core.KEY_V, true)
	in.ProcessKey(core.KEY_V, true)
	core.EventDrain()

	assert.Equal(t, 1, pressed)
	assert.True(t, in.IsKeyDown(core.KEY_V))
	assert.False(t, in.WasKeyDown(core.KEY_V))
	in.Update()
	assert.True(t, in.WasKeyDown(core.KEY_V))
}

func TestErrorClassification(t *testing.T) {
	timeout := fmt.Errorf("%w: %w", core.ErrDeviceLost, core.ErrFenceTimeout)
	assert.True(t, core.IsFatal(timeout))
	assert.False(t, core.IsRecoverable(timeout))
	assert.True(t, errors.Is(timeout, core.ErrFenceTimeout))

	outOfDate := fmt.Errorf("acquire: %w", core.ErrSurfaceOutOfDate)
	assert.True(t, core.IsRecoverable(outOfDate))
	assert.False(t, core.IsFatal(outOfDate))

	assert.True(t, core.IsRecoverable(core.ErrConfiguration))
	assert.False(t, core.IsRecoverable(errors.New("something else")))
	assert.False(t, core.IsFatal(nil))
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := core.ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, core.WarnLevel, lvl)

	_, err = core.ParseLogLevel("loud")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestMetricsAverages(t *testing.T) {
	m := core.NewMetrics()
	for i := 0; i < int(core.AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.001)
}
