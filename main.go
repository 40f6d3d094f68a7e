/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/inflight/engine"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/testbed"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file, watched for changes")
		maxFrames  = flag.Uint64("frames", 0, "stop after this many frames (0 runs until quit)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			core.LogFatal("loading configuration: %s", err)
		}
		cfg = loaded
	}
	core.SetLogLevel(cfg.LogLevel())

	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		Name:       cfg.Window.Name,
		ConfigPath: *configPath,
		Config:     cfg,
		MaxFrames:  *maxFrames,
	})

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("initialization failed: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		core.LogInfo("received %s, quitting", sig)
		// Run owns the GPU objects; it stops at the next frame boundary
		if !core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT}) {
			e.Stop()
		}
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %s", runErr)
	}
}
