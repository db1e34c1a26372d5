package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/platform"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
	"github.com/spaghettifunk/raypath/engine/renderer/overlay"
	"github.com/spaghettifunk/raypath/engine/renderer/vulkan"
	"github.com/spaghettifunk/raypath/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Everything has been released
	EngineStageStopped
)

// skipBackoff is how long the loop sleeps after a frame that drew nothing, such as
// while the window is minimized.
const skipBackoff = 10 * time.Millisecond

type Engine struct {
	currentStage Stage
	cfg          *core.Config
	configPath   string

	platform     *platform.Platform
	backend      *vulkan.Backend
	scene        *scene.Scene
	orchestrator *frame.Orchestrator
	overlay      *overlay.StatsPanel
	watcher      *core.Watcher

	chain    *core.InitChain
	clock    *core.Clock
	lastTime time.Duration

	isRunning       atomic.Bool
	reloadRequested bool
	shutdownOnce    sync.Once
}

// New prepares an engine for cfg. configPath is watched for scene changes once the
// engine runs.
func New(cfg *core.Config, configPath string) *Engine {
	return &Engine{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		configPath:   configPath,
		platform:     platform.New(),
		chain:        core.NewInitChain(),
		clock:        core.NewClock(),
	}
}

// Initialize brings up every subsystem in order. On failure the returned error is a
// *core.StageError and whatever was already created has been released.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	e.registerEvents()

	app := e.cfg.Application
	err := e.chain.
		Then("window", func() error {
			return e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight)
		}, func() {
			_ = e.platform.Shutdown()
		}).
		Then("vulkan", func() error {
			e.backend = vulkan.New(backendConfig(e.cfg), e.platform)
			return e.backend.Initialize()
		}, func() {
			e.backend.Destroy()
		}).
		Then("scene", func() error {
			e.scene = scene.New(e.cfg.Scene, scene.DefaultSpheres(), outputAspect(e.cfg))
			return nil
		}, nil).
		Then("frame-orchestrator", func() error {
			var err error
			e.orchestrator, err = frame.New(e.backend, e.backend, e.platform, e.scene, nil, orchestratorConfig(e.cfg))
			return err
		}, func() {
			e.orchestrator.Shutdown()
		}).
		Then("overlay", func() error {
			var err error
			e.overlay, err = overlay.NewStatsPanel(e.backend, e.orchestrator.Metrics(), e.cfg.Render.FramesInFlight)
			if err != nil {
				return err
			}
			e.orchestrator.SetOverlay(e.overlay)
			return nil
		}, func() {
			e.orchestrator.SetOverlay(nil)
			if err := e.backend.WaitIdle(); err != nil {
				core.LogWarn("wait idle before overlay teardown: %s", err)
			}
			e.overlay.Destroy()
		}).
		Then("watcher", e.startWatcher, func() {
			_ = e.watcher.Close()
		}).
		Run()
	if err != nil {
		e.stopEvents()
		e.currentStage = EngineStageStopped
		return err
	}

	core.LogInfo("raypath initialized on %s", e.backend.DeviceName())
	e.currentStage = EngineStageInitialized
	e.isRunning.Store(true)
	return nil
}

func (e *Engine) startWatcher() error {
	w, err := core.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.WatchFile(e.configPath, watchConfig); err != nil {
		_ = w.Close()
		return err
	}
	if e.cfg.Render.WatchShaders {
		if err := w.WatchDir(e.cfg.Render.ShaderDir, ".spv", watchShaders); err != nil {
			_ = w.Close()
			return err
		}
	}
	w.Start()
	e.watcher = w
	return nil
}

// Run drives frames until the window closes, Stop is called, or a frame fails fatally.
// The fatal error is returned.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			break
		}

		e.applyReloads()
		if e.reloadRequested {
			e.reloadRequested = false
			if err := e.orchestrator.ReloadPipelines(); err != nil && e.orchestrator.Halted() != nil {
				return err
			}
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		e.scene.Update(delta)

		outcome, err := e.orchestrator.Tick()
		if err != nil {
			return err
		}
		if outcome == frame.OutcomeSkipped {
			time.Sleep(skipBackoff)
		}

		// Input state copying happens after every input of the frame was recorded.
		core.InputUpdate()
	}
	return nil
}

// applyReloads picks up file changes reported since the previous frame.
func (e *Engine) applyReloads() {
	if e.watcher == nil {
		return
	}
	if e.watcher.Take(watchConfig) {
		cfg, err := core.LoadConfig(e.configPath)
		if err != nil {
			core.LogWarn("config reload failed, keeping the previous settings: %s", err)
		} else {
			e.cfg.Scene = cfg.Scene
			e.scene.Apply(cfg.Scene)
			core.LogInfo("scene settings reloaded from `%s`", e.configPath)
		}
	}
	if e.watcher.Take(watchShaders) {
		e.reloadRequested = true
	}
}

// Stop asks Run to return after the current frame. It may be called from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown releases everything Initialize created, in reverse order. Later calls do nothing.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning.Store(false)
		e.chain.Unwind()
		e.stopEvents()
		e.currentStage = EngineStageStopped
		core.LogInfo("raypath shut down")
	})
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) registerEvents() {
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RELOAD_PIPELINES, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
}

func (e *Engine) stopEvents() {
	_ = core.EventSystemShutdown()
	_ = core.InputShutdown()
}

func (e *Engine) onEvent(ctx core.EventContext) bool {
	switch ctx.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	case core.EVENT_CODE_RELOAD_PIPELINES:
		e.reloadRequested = true
		return true
	}
	return false
}

func (e *Engine) onKey(ctx core.EventContext) bool {
	ke, ok := ctx.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ctx.Type)
		return false
	}
	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		return true
	case core.KEY_R, core.KEY_F5:
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_RELOAD_PIPELINES})
		return true
	}
	return false
}

func (e *Engine) onResized(ctx core.EventContext) bool {
	se, ok := ctx.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ctx.Type)
		return false
	}
	if se.WindowWidth == 0 || se.WindowHeight == 0 {
		core.LogInfo("Window minimized, frames are skipped until it is restored.")
	} else {
		core.LogDebug("Window resize: %d, %d", se.WindowWidth, se.WindowHeight)
	}
	// The swapchain manager polls the window itself.
	return false
}
