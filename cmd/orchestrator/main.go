package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"

	app "github.com/kfir-abbou/Dapr"
	"github.com/kfir-abbou/Dapr/internal/activity"
	"github.com/kfir-abbou/Dapr/internal/backup"
	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/metrics"
	"github.com/kfir-abbou/Dapr/internal/remote"
	"github.com/kfir-abbou/Dapr/internal/server"
	"github.com/kfir-abbou/Dapr/internal/service"
	"github.com/kfir-abbou/Dapr/internal/state"
	"github.com/kfir-abbou/Dapr/internal/store"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/internal/workflows"
	"github.com/kfir-abbou/Dapr/pkg/log"
	"github.com/kfir-abbou/Dapr/pkg/util/call"
)

type orchestrator struct {
	cfg           *config.Config
	ctx           context.Context
	cancel        context.CancelFunc
	timebox       *timebox.Timebox
	engineStore   *timebox.Store
	workflowStore *timebox.Store
	store         *store.Store
	backup        *backup.Backup
	bus           *bus.Bus
	metrics       *metrics.Metrics
	engine        *workflow.Engine
	machine       *state.Machine
	service       *service.Service
	remote        *remote.Processor
	apiServer     *server.Server
	httpServer    *http.Server
	quit          chan os.Signal
}

var (
	ErrCreateTimebox       = errors.New("failed to create timebox")
	ErrCreateEngineStore   = errors.New("failed to create engine store")
	ErrCreateWorkflowStore = errors.New("failed to create workflow store")
	ErrOpenBackup          = errors.New("failed to open backup bucket")
	ErrStateStore          = errors.New("state store unreachable")
	ErrInitializeState     = errors.New("failed to initialize system state")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &orchestrator{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		s.shutdown()
		os.Exit(1)
	}
}

func (s *orchestrator) run() error {
	err := call.Perform(
		s.initializeStores,
		s.initializeEngine,
		s.initializeServices,
	)
	if err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *orchestrator) setupLogging() {
	level, ok := log.ParseLevel(s.cfg.LogLevel)
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Setup orchestrator starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("state_redis_addr", s.cfg.StateStore.Addr),
		slog.Int("state_redis_db", s.cfg.StateStore.DB),
		slog.String("engine_redis_addr", s.cfg.EngineStore.Addr),
		slog.Int("engine_redis_db", s.cfg.EngineStore.DB),
		slog.String("workflow_redis_addr", s.cfg.WorkflowStore.Addr),
		slog.Int("workflow_redis_db", s.cfg.WorkflowStore.DB),
		slog.String("backup_bucket", s.cfg.Backup.BucketURL),
		slog.Bool("remote_enabled", s.cfg.Remote.Enabled),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *orchestrator) initializeStores() error {
	var err error

	s.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  s.cfg.WorkflowCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	s.engineStore, err = s.timebox.NewStore(s.cfg.EngineStore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateEngineStore, err)
	}

	s.workflowStore, err = s.timebox.NewStore(s.cfg.WorkflowStore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateWorkflowStore, err)
	}

	s.store = store.New(s.cfg.StateStore, s.cfg.StatusRetries)
	if err := s.store.Ping(s.ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStateStore, err)
	}

	s.backup, err = backup.Open(s.ctx, s.cfg.Backup)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenBackup, err)
	}
	return nil
}

func (s *orchestrator) initializeEngine() error {
	m, err := metrics.New()
	if err != nil {
		return err
	}
	s.metrics = m
	s.bus = bus.New()

	acts := activity.New(s.cfg, s.bus)
	eng, err := workflow.New(s.cfg, workflow.Dependencies{
		EngineStore:   s.engineStore,
		WorkflowStore: s.workflowStore,
		Hub:           s.timebox.GetHub(),
		Runners:       workflows.Runners(s.cfg, acts),
		Observer:      s.metrics,
	})
	if err != nil {
		return err
	}
	s.engine = eng
	return s.engine.Start()
}

func (s *orchestrator) initializeServices() error {
	s.machine = state.New(s.cfg, state.Dependencies{
		Store:     s.store,
		Backup:    s.backup,
		Publisher: s.bus,
		Scheduler: s.engine,
		Observer:  s.metrics,
	})
	st, err := s.machine.Initialize(s.ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitializeState, err)
	}
	slog.Info("System state loaded",
		log.Status(st.Status))

	s.service = service.New(s.cfg, service.Dependencies{
		Bus:      s.bus,
		Engine:   s.engine,
		Results:  s.store,
		Observer: s.metrics,
	})
	if err := s.service.Start(s.ctx); err != nil {
		return err
	}

	if s.cfg.Remote.Enabled {
		s.remote = remote.New(s.cfg, s.bus)
		if err := s.remote.Start(s.ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *orchestrator) startServer() {
	s.apiServer = server.NewServer(s.cfg, server.Dependencies{
		Machine: s.machine,
		Engine:  s.engine,
		Store:   s.store,
		Bus:     s.bus,
		Metrics: s.metrics.Handler(),
	})
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *orchestrator) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("Shutdown failed", log.Error(err))
		}
		s.apiServer.CloseWebSockets()
	}

	s.cancel()
	if s.service != nil {
		s.service.Stop()
	}
	if s.remote != nil {
		s.remote.Stop()
	}

	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			slog.Error("Engine shutdown failed", log.Error(err))
		}
	}

	if s.bus != nil {
		s.bus.Close()
		s.bus.Wait()
	}
	if s.backup != nil {
		_ = s.backup.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.timebox != nil {
		_ = s.timebox.Close()
	}

	slog.Info("Server exited")
}
