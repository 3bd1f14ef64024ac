// Package app is the composition root: it builds storage, the engine, the
// snapshot service and the RPC dispatcher from a Config, and runs them
// behind a single command loop fed by the host event pump, the HTTP API,
// the auto-save ticker and the config watcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zjrosen/tabtree/internal/api"
	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/config"
	"github.com/zjrosen/tabtree/internal/engine"
	"github.com/zjrosen/tabtree/internal/flags"
	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/host/memhost"
	"github.com/zjrosen/tabtree/internal/infrastructure/sqlite"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/processor"
	"github.com/zjrosen/tabtree/internal/pubsub"
	"github.com/zjrosen/tabtree/internal/rpc"
	"github.com/zjrosen/tabtree/internal/snapshot"
	"github.com/zjrosen/tabtree/internal/storage"
	"github.com/zjrosen/tabtree/internal/tracing"
	"github.com/zjrosen/tabtree/internal/watcher"
)

// Options configures an App.
type Options struct {
	Config config.Config
	// ConfigPath is watched for hot reload of engine settings. Empty
	// disables the watcher.
	ConfigPath string
	// Host is the Tab Provider. Nil uses a fresh in-memory host.
	Host host.Provider
	// Backend overrides the storage selected by Config.Storage.
	Backend storage.Backend
	// Simulate exposes the /host/* endpoints. It is also turned on by the
	// host-simulation flag. Host must then implement api.Simulator.
	Simulate bool
}

// App owns every long-lived component.
type App struct {
	cfg   config.Config
	flags *flags.Registry

	backend   storage.Backend
	persister *persistence.Manager
	host      host.Provider
	sim       api.Simulator

	engine     *engine.Engine
	snapshots  *snapshot.Service
	dispatcher *rpc.Dispatcher
	processor  *processor.CommandProcessor
	bus        *pubsub.Broker[any]
	tracer     *tracing.Provider

	server     *api.Server
	configPath string
	watcher    *watcher.Watcher

	loopCancel context.CancelFunc
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
	loopWG     sync.WaitGroup
	stopOnce   sync.Once
}

// OpenBackend opens the storage named by cfg.
func OpenBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryBackend(), nil
	case config.DriverSQLite, "":
		db, err := sqlite.NewDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// New builds the component graph without starting anything.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	fl := flags.New(cfg.Flags)

	backend := opts.Backend
	if backend == nil {
		var err error
		if backend, err = OpenBackend(cfg.Storage); err != nil {
			return nil, err
		}
	}

	provider := opts.Host
	if provider == nil {
		provider = memhost.New()
	}
	var sim api.Simulator
	if opts.Simulate || fl.Enabled(flags.FlagHostSimulation) {
		s, ok := provider.(api.Simulator)
		if !ok {
			_ = backend.Close()
			return nil, fmt.Errorf("host simulation needs a host that can be driven externally, got %T", provider)
		}
		sim = s
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.TracesFilePath(),
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("creating tracer: %w", err)
	}

	persister := persistence.NewManager(backend.KV(), cfg.Engine.PersistDebounce)
	eng := engine.New(provider, persister, cfg.EngineSettings())
	snaps := snapshot.NewService(backend.Snapshots(), eng, snapshot.WithMaxAutoSaves(cfg.Snapshot.MaxAutoSaves))

	a := &App{
		cfg:        cfg,
		flags:      fl,
		backend:    backend,
		persister:  persister,
		host:       provider,
		sim:        sim,
		engine:     eng,
		snapshots:  snaps,
		dispatcher: rpc.NewDispatcher(eng, snaps),
		bus:        pubsub.NewBroker[any](),
		tracer:     tp,
		configPath: opts.ConfigPath,
	}

	middlewares := []processor.Middleware{
		processor.NewRecoveryMiddleware(),
		processor.NewLoggingMiddleware(),
	}
	if tp.Enabled() {
		middlewares = append(middlewares, tracing.NewMiddleware(tp.Tracer()))
	}
	middlewares = append(middlewares,
		processor.NewCommandLogMiddleware(a.bus),
		processor.NewSlowHandlerMiddleware(processor.DefaultSlowThreshold),
	)
	a.processor = processor.NewCommandProcessor(
		processor.WithEventBus(a.bus),
		processor.WithMiddleware(middlewares...),
	)
	a.registerHandlers()
	return a, nil
}

func (a *App) registerHandlers() {
	a.processor.RegisterHandler(command.CmdHostEvent, processor.HandlerFunc(a.handleHostEvent))
	a.processor.RegisterHandler(command.CmdRPC, processor.HandlerFunc(a.handleRPC))
	a.processor.RegisterHandler(command.CmdAutoSave, processor.HandlerFunc(a.handleAutoSave))
	a.processor.RegisterHandler(command.CmdReloadSettings, processor.HandlerFunc(a.handleReloadSettings))
}

func (a *App) handleHostEvent(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	hc, ok := cmd.(*command.HostEventCommand)
	if !ok {
		return nil, fmt.Errorf("%w: %T", command.ErrInvalidCommand, cmd)
	}
	if err := a.engine.HandleEvent(ctx, hc.Event); err != nil {
		return &command.CommandResult{Success: false, Error: err}, nil
	}
	return &command.CommandResult{Success: true}, nil
}

func (a *App) handleRPC(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	rc, ok := cmd.(*command.RPCCommand)
	if !ok {
		return nil, fmt.Errorf("%w: %T", command.ErrInvalidCommand, cmd)
	}
	resp := a.dispatcher.Dispatch(ctx, rc.Payload)
	res := &command.CommandResult{Success: resp.Success, Data: resp}
	if !resp.Success {
		res.Error = errors.New(resp.Error)
	}
	return res, nil
}

func (a *App) handleAutoSave(ctx context.Context, _ command.Command) (*command.CommandResult, error) {
	sum, err := a.snapshots.AutoSave(ctx)
	if err != nil {
		return &command.CommandResult{Success: false, Error: err}, nil
	}
	return &command.CommandResult{Success: true, Data: sum}, nil
}

func (a *App) handleReloadSettings(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	rc, ok := cmd.(*command.ReloadSettingsCommand)
	if !ok {
		return nil, fmt.Errorf("%w: %T", command.ErrInvalidCommand, cmd)
	}
	s, ok := rc.Settings.(engine.Settings)
	if !ok {
		return nil, fmt.Errorf("%w: settings of type %T", command.ErrInvalidCommand, rc.Settings)
	}
	a.engine.Apply(s)
	log.Info(log.CatConfig, "Engine settings reloaded",
		"position", s.NewTabPosition, "durable_acks", s.DurableAcks, "unread", s.UnreadTracking)
	return &command.CommandResult{Success: true}, nil
}

// Start runs the loop, the cold start, the host pump and the optional
// background workers, then binds the HTTP server when serveHTTP is set.
func (a *App) Start(serveHTTP bool) error {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.loopCancel, a.bgCancel = loopCancel, bgCancel

	a.loopWG.Add(1)
	go func() {
		defer a.loopWG.Done()
		a.processor.Run(loopCtx)
	}()
	if err := a.processor.WaitForReady(bgCtx); err != nil {
		return err
	}

	a.goBackground(func() { a.logCommandErrors(bgCtx) })
	a.goBackground(func() { a.pumpHostEvents(bgCtx) })
	a.goBackground(func() {
		if err := a.engine.Initialize(bgCtx); err != nil {
			log.ErrorErr(log.CatSync, "Cold start failed; SYNC_TABS retries", err)
			return
		}
		log.Info(log.CatSync, "Cold start complete")
	})

	if a.flags.Enabled(flags.FlagSnapshotAutoSave) {
		interval := a.cfg.Snapshot.AutoSaveInterval
		a.goBackground(func() { a.autoSaveLoop(bgCtx, interval) })
	}

	if a.configPath != "" {
		w, err := watcher.New(watcher.Config{Path: a.configPath})
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		changes, err := w.Start()
		if err != nil {
			_ = w.Stop()
			return fmt.Errorf("starting config watcher: %w", err)
		}
		a.watcher = w
		a.goBackground(func() { a.reloadLoop(bgCtx, changes) })
	}

	if serveHTTP {
		srv, err := api.NewServer(api.ServerConfig{
			Addr: a.cfg.Server.Addr,
			Handler: api.HandlerConfig{
				RPC:       a,
				State:     a.engine,
				Simulator: a.sim,
			},
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		a.server = srv
		a.goBackground(func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.ErrorErr(log.CatAPI, "API server stopped", err)
			}
		})
	}
	return nil
}

func (a *App) goBackground(fn func()) {
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		fn()
	}()
}

// pumpHostEvents feeds host events into the loop in arrival order.
func (a *App) pumpHostEvents(ctx context.Context) {
	for ev := range a.host.Subscribe(ctx) {
		if _, err := a.processor.SubmitAndWait(ctx, command.NewHostEventCommand(ev)); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.ErrorErr(log.CatHost, "Dropping host event", err, "kind", ev.Kind, "tab", ev.TabID)
		}
	}
}

func (a *App) logCommandErrors(ctx context.Context) {
	for ev := range a.bus.Subscribe(ctx) {
		if ce, ok := ev.Payload.(processor.CommandErrorEvent); ok {
			log.Warn(log.CatCmd, "Command rejected", "command_type", ce.CommandType.String(), "error", ce.Error)
		}
	}
}

func (a *App) autoSaveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info(log.CatSnapshot, "Auto-save enabled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.processor.Submit(command.NewAutoSaveCommand()); err != nil {
				log.ErrorErr(log.CatSnapshot, "Auto-save not queued", err)
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			a.ReloadConfig()
		}
	}
}

// ReloadConfig re-reads the config file and queues the new engine
// settings. An invalid file keeps the current settings.
func (a *App) ReloadConfig() {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		log.ErrorErr(log.CatConfig, "Config reload rejected", err, "path", a.configPath)
		return
	}
	if err := a.processor.Submit(command.NewReloadSettingsCommand(cfg.EngineSettings())); err != nil {
		log.ErrorErr(log.CatConfig, "Config reload not queued", err)
	}
}

// Dispatch serves one raw request through the command loop.
func (a *App) Dispatch(ctx context.Context, payload []byte) rpc.Response {
	res, err := a.processor.SubmitAndWait(ctx, command.NewRPCCommand(payload))
	if err != nil {
		return rpc.Response{Error: err.Error()}
	}
	if resp, ok := res.Data.(rpc.Response); ok {
		return resp
	}
	if res.Error != nil {
		return rpc.Response{Error: res.Error.Error()}
	}
	return rpc.Response{Error: "internal error: no response"}
}

// Engine returns the engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Host returns the Tab Provider.
func (a *App) Host() host.Provider { return a.host }

// Port returns the HTTP port, or zero when not serving.
func (a *App) Port() int {
	if a.server == nil {
		return 0
	}
	return a.server.Port()
}

// Shutdown stops intake, drains queued commands, flushes tree_state and
// closes storage. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.server != nil {
			if err := a.server.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stopping API server: %w", err))
			}
		}
		if a.watcher != nil {
			_ = a.watcher.Stop()
		}
		if a.bgCancel != nil {
			a.bgCancel()
		}
		a.bgWG.Wait()

		a.processor.Drain()
		if a.loopCancel != nil {
			a.loopCancel()
		}
		a.loopWG.Wait()

		a.engine.Close()
		if err := a.persister.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing tree_state: %w", err))
		}
		a.bus.Close()
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
		}
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	})
	return errors.Join(errs...)
}
