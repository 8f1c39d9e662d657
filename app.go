// Package cvautomation wires the automation server's collaborators
// together and runs them, grounded on the teacher's nvr.go/addon.go
// app-assembly shape: read environment config, construct managers, mount
// HTTP routes, then block serving until a shutdown signal.
package cvautomation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cvautomation/pkg/config"
	"cvautomation/pkg/log"
	"cvautomation/pkg/pipeline"
	"cvautomation/pkg/plugin"
	"cvautomation/pkg/server"
	"cvautomation/pkg/server/httpapi"
	"cvautomation/pkg/system"
	"cvautomation/pkg/variant"
	"cvautomation/plugins"
	"cvautomation/plugins/jpegcodec"
)

// App owns every long-lived collaborator assembled from one environment
// file: the plug-in registry, the automation server, the config stores and
// their hot-reload watchers, and the HTTP surface.
type App struct {
	env      *config.Env
	log      *log.Logger
	wg       *sync.WaitGroup
	zap      *zap.Logger
	registry *plugin.Registry
	server   *server.Server
	system   *system.System

	sources  *config.Store[config.SourceConfig]
	threads  *config.Store[config.ThreadConfig]
	watchSrc *config.Watcher
	watchThr *config.Watcher

	handleMu sync.Mutex
	sourceID map[string]int
	threadID map[string]int

	httpServer *http.Server
}

// Run reads envPath, assembles an App and blocks until SIGINT/SIGTERM or a
// fatal startup error, then shuts down cleanly.
func Run(envPath string) error {
	app, err := NewApp(envPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fatal := make(chan error, 1)
	go func() { fatal <- app.start(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
	case sig := <-stop:
		app.log.Info().Src("app").Msgf("received %v, stopping", sig)
	}

	cancel()
	app.server.SignalToStop()
	app.server.WaitForStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := app.httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	app.watchSrc.Close()
	app.watchThr.Close()
	_ = app.zap.Sync()
	app.wg.Wait()
	return err
}

// NewApp reads envPath and assembles every collaborator without starting
// any goroutines yet.
func NewApp(envPath string) (*App, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	env, err := config.NewEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("parse env file: %w", err)
	}
	if err := env.PrepareDirectories(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	logger, err := log.NewLogger(env.LogDBPath, &wg)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	registry := plugin.NewRegistry()
	if err := plugins.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("register plug-ins: %w", err)
	}
	if err := registry.CollectModules(env.PluginDir); err != nil {
		return nil, fmt.Errorf("collect plugin manifests: %w", err)
	}

	srv := server.New(registry, logger, jpegcodec.NewDecoder())
	sys := system.New(env.ConfigDir, logger)

	sources, err := config.NewStore[config.SourceConfig](env.SourceConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load source configs: %w", err)
	}
	threads, err := config.NewStore[config.ThreadConfig](env.ThreadConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load thread configs: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build access logger: %w", err)
	}

	app := &App{
		env:      env,
		log:      logger,
		wg:       &wg,
		zap:      zapLogger,
		registry: registry,
		server:   srv,
		system:   sys,
		sources:  sources,
		threads:  threads,
		sourceID: make(map[string]int),
		threadID: make(map[string]int),
	}

	api := &httpapi.API{Server: srv, Registry: registry, System: sys}
	mux := http.NewServeMux()
	mux.Handle("/api/system/status", api.Status())
	mux.Handle("/api/plugins", api.Plugins())
	mux.Handle("/api/source/live", api.Live())
	app.httpServer = &http.Server{
		Addr:    ":" + env.Port,
		Handler: httpapi.AccessLog(zapLogger)(mux),
	}

	watchSrc, err := config.NewWatcher(env.SourceConfigDir, app.onSourceConfigChanged)
	if err != nil {
		return nil, fmt.Errorf("watch source configs: %w", err)
	}
	watchThr, err := config.NewWatcher(env.ThreadConfigDir, app.onThreadConfigChanged)
	if err != nil {
		watchSrc.Close()
		return nil, fmt.Errorf("watch thread configs: %w", err)
	}
	app.watchSrc = watchSrc
	app.watchThr = watchThr

	return app, nil
}

// start boots the logger, system poller, every persisted video source and
// scripting thread, and finally serves HTTP until ctx is cancelled.
func (a *App) start(ctx context.Context) error {
	if err := a.log.Start(ctx); err != nil {
		return fmt.Errorf("start event log: %w", err)
	}
	go a.log.LogToStdout(ctx)
	go a.system.StatusLoop(ctx)

	if err := a.server.Start(); err != nil {
		return fmt.Errorf("start automation server: %w", err)
	}

	for id, cfg := range a.sources.List() {
		if err := a.addSource(id, cfg); err != nil {
			a.log.Error().Src("app").Source(id).Msgf("add source: %v", err)
		}
	}
	for id, cfg := range a.threads.List() {
		if err := a.addThread(id, cfg); err != nil {
			a.log.Error().Src("app").Source(id).Msgf("add thread: %v", err)
		}
	}

	if errs := a.server.StartAllVideoSources(); len(errs) > 0 {
		for id, err := range errs {
			a.log.Error().Src("app").Msgf("start video source %v: %v", id, err)
		}
	}
	if errs := a.server.StartAllThreads(); len(errs) > 0 {
		for id, err := range errs {
			a.log.Error().Src("app").Msgf("start thread %v: %v", id, err)
		}
	}

	return a.httpServer.ListenAndServe()
}

func (a *App) addSource(name string, cfg config.SourceConfig) error {
	pluginGUID, err := uuid.Parse(cfg.Plugin)
	if err != nil {
		return fmt.Errorf("source %q: invalid plugin guid: %w", name, err)
	}
	descriptor, err := a.registry.PluginByGUID(pluginGUID)
	if err != nil {
		return err
	}

	inst, dtor, err := a.registry.CreateInstance(descriptor)
	if err != nil {
		return err
	}
	if pw, ok := inst.(plugin.PropertyWriter); ok {
		for key, raw := range cfg.SourceConfig {
			idx := descriptor.PropertyIndex(key)
			if idx < 0 {
				continue
			}
			if err := plugin.SetProperty(descriptor, pw, idx, variant.NewString(raw)); err != nil {
				dtor.Release()
				return fmt.Errorf("source %q: property %q: %w", name, key, err)
			}
		}
	}

	id, err := a.server.AddVideoSource(name, descriptor, inst, dtor, cfg.DropWhenBusy)
	if err != nil {
		dtor.Release()
		return err
	}
	if err := a.server.SetProcessingGraph(id, buildGraph(cfg.Steps)); err != nil {
		return err
	}

	a.handleMu.Lock()
	a.sourceID[name] = id
	a.handleMu.Unlock()
	return nil
}

func (a *App) addThread(name string, cfg config.ThreadConfig) error {
	pluginGUID, err := uuid.Parse(cfg.Plugin)
	if err != nil {
		return fmt.Errorf("thread %q: invalid plugin guid: %w", name, err)
	}
	descriptor, err := a.registry.PluginByGUID(pluginGUID)
	if err != nil {
		return err
	}

	inst, dtor, err := a.registry.CreateInstance(descriptor)
	if err != nil {
		return err
	}
	se, ok := inst.(plugin.ScriptingEngine)
	if !ok {
		dtor.Release()
		return fmt.Errorf("thread %q: plugin is not a scripting engine", name)
	}
	if err := se.SetScriptFile(cfg.ScriptFile); err != nil {
		dtor.Release()
		return err
	}

	id, err := a.server.AddThread(name, descriptor, inst, dtor, cfg.PeriodMsec)
	if err != nil {
		dtor.Release()
		return err
	}

	a.handleMu.Lock()
	a.threadID[name] = id
	a.handleMu.Unlock()
	return nil
}

// buildGraph converts a persisted step list's string-keyed config into the
// pipeline's typed Graph, the way pipeline.Instantiate's applyConfig later
// coerces each value to its property's declared type via ChangeType.
func buildGraph(steps []config.StepConfig) pipeline.Graph {
	out := pipeline.Graph{Steps: make([]pipeline.Step, len(steps))}
	for i, s := range steps {
		cfg := make(map[string]variant.Value, len(s.Config))
		for k, v := range s.Config {
			cfg[k] = variant.NewString(v)
		}
		pluginGUID, _ := uuid.Parse(s.Plugin)
		out.Steps[i] = pipeline.Step{Name: s.Name, Plugin: pluginGUID, Config: cfg}
	}
	return out
}

// onSourceConfigChanged logs an external edit or removal of a video
// source's persisted config. It neither reloads nor restarts the running
// source; stored configs are read only when start adds the sources.
func (a *App) onSourceConfigChanged(id string, removed bool) {
	if removed {
		a.log.Info().Src("app").Source(id).Msgf("source config removed")
		return
	}
	a.log.Info().Src("app").Source(id).Msgf("source config changed, restart source to apply")
}

func (a *App) onThreadConfigChanged(id string, removed bool) {
	if removed {
		a.log.Info().Src("app").Source(id).Msgf("thread config removed")
		return
	}
	a.log.Info().Src("app").Source(id).Msgf("thread config changed, restart thread to apply")
}
