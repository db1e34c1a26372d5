package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/spaghettifunk/raypath/engine"
	"github.com/spaghettifunk/raypath/engine/core"
)

const configPath = "config.toml"

func main() {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	runID := uuid.New().String()
	if err := core.LogInitialize(cfg.Application.LogLevel, runID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %s\n", err)
		os.Exit(1)
	}

	e := engine.New(cfg, configPath)
	if err := e.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize raypath: %s\n", err)
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		// The loop owns the window, so the signal only asks it to stop.
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	_ = e.Shutdown()
	if runErr != nil {
		core.LogError("raypath stopped: %s", runErr)
		os.Exit(1)
	}
}
