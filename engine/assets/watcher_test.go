package assets_test

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/assets"
	"github.com/spaghettifunk/inflight/engine/core"
)

func TestWatcherFiresEvents(t *testing.T) {
	core.SetLogOutput(io.Discard)
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.toml")
	shaders := filepath.Join(dir, "shaders")
	require.NoError(t, os.WriteFile(cfg, []byte("[log]\n"), 0o644))
	require.NoError(t, os.Mkdir(shaders, 0o755))

	var configChanged, shadersChanged atomic.Int32
	core.EventRegister(core.EVENT_CODE_CONFIG_CHANGED, func(core.EventContext) { configChanged.Add(1) })
	core.EventRegister(core.EVENT_CODE_SHADERS_CHANGED, func(ctx core.EventContext) {
		fe, ok := ctx.Data.(*core.FileEvent)
		if ok && filepath.Ext(fe.Path) == ".spv" {
			shadersChanged.Add(1)
		}
	})

	w, err := assets.NewWatcher()
	require.NoError(t, err)
	require.NoError(t, w.WatchFile(cfg, core.EVENT_CODE_CONFIG_CHANGED))
	require.NoError(t, w.WatchDir(shaders, core.EVENT_CODE_SHADERS_CHANGED, ".spv"))
	w.Start()
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(shaders, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(shaders, "fullscreen.frag.spv"), []byte{3, 2, 35, 7}, 0o644))
	require.NoError(t, os.WriteFile(cfg, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	assert.Eventually(t, func() bool {
		core.EventDrain()
		return configChanged.Load() > 0 && shadersChanged.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WatchFile(cfg, core.EVENT_CODE_CONFIG_CHANGED), assets.ErrWatcherClosed)
}
