package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/activity"
	"github.com/kfir-abbou/Dapr/internal/backup"
	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/metrics"
	"github.com/kfir-abbou/Dapr/internal/remote"
	"github.com/kfir-abbou/Dapr/internal/service"
	"github.com/kfir-abbou/Dapr/internal/state"
	"github.com/kfir-abbou/Dapr/internal/store"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/internal/workflow/scheduler"
	"github.com/kfir-abbou/Dapr/internal/workflows"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	// TestEnv holds every component of a running orchestrator, backed by
	// in-memory Redis and an in-memory backup bucket
	TestEnv struct {
		Config     *config.Config
		Redis      *miniredis.Miniredis
		Bus        *bus.Bus
		Store      *store.Store
		Backup     *backup.Backup
		Metrics    *metrics.Metrics
		Activities *activity.Executor
		Engine     *workflow.Engine
		Machine    *state.Machine
		Service    *service.Service
		Remote     *remote.Processor
		EventHub   workflow.EventHub
		Cleanup    func()

		timebox       *timebox.Timebox
		engineStore   *timebox.Store
		workflowStore *timebox.Store
		runners       map[api.WorkflowKind]workflow.Runner
		timer         scheduler.TimerConstructor
	}

	// Option adjusts a TestEnv before its components are built
	Option func(*envOptions)

	envOptions struct {
		config  func(*config.Config)
		runners func(*TestEnv) map[api.WorkflowKind]workflow.Runner
		timer   scheduler.TimerConstructor
	}
)

const defaultStoreTimeout = 5 * time.Second

// NewTestConfig creates a configuration whose simulated work completes in
// milliseconds
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Activities = config.ActivityConfig{
		InitializeDuration:  3 * time.Millisecond,
		ConfigureDuration:   2 * time.Millisecond,
		ValidateDuration:    2 * time.Millisecond,
		FinalizeDuration:    time.Millisecond,
		ValidationDelay:     4 * time.Millisecond,
		EnrichmentDelay:     8 * time.Millisecond,
		NotificationDelay:   3 * time.Millisecond,
		MinProgressInterval: time.Millisecond,
	}
	cfg.Remote.StepUnit = time.Millisecond
	cfg.Backup.BucketURL = "mem://"
	return cfg
}

// WithConfig adjusts the test configuration
func WithConfig(fn func(*config.Config)) Option {
	return func(o *envOptions) {
		o.config = fn
	}
}

// WithRunners replaces the workflow bodies the engine runs
func WithRunners(
	fn func(*TestEnv) map[api.WorkflowKind]workflow.Runner,
) Option {
	return func(o *envOptions) {
		o.runners = fn
	}
}

// WithTimer replaces the timer used for wait deadlines
func WithTimer(t scheduler.TimerConstructor) Option {
	return func(o *envOptions) {
		o.timer = t
	}
}

// NewTestEnv builds an orchestrator environment. Nothing is started until
// Start is called
func NewTestEnv(t *testing.T, opts ...Option) *TestEnv {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := NewTestConfig()
	if o.config != nil {
		o.config(cfg)
	}

	server := miniredis.RunT(t)
	cfg.StateStore.Addr = server.Addr()
	cfg.StateStore.Prefix = "test-state"
	cfg.EngineStore.Addr = server.Addr()
	cfg.EngineStore.Prefix = "test-engine"
	cfg.WorkflowStore.Addr = server.Addr()
	cfg.WorkflowStore.Prefix = "test-workflow"

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)

	engineStore, err := tb.NewStore(cfg.EngineStore)
	require.NoError(t, err)
	workflowStore, err := tb.NewStore(cfg.WorkflowStore)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(
		context.Background(), defaultStoreTimeout,
	)
	defer cancel()
	bak, err := backup.Open(ctx, cfg.Backup)
	require.NoError(t, err)

	m, err := metrics.New()
	require.NoError(t, err)

	b := bus.New()
	env := &TestEnv{
		Config:        cfg,
		Redis:         server,
		Bus:           b,
		Store:         store.New(cfg.StateStore, cfg.StatusRetries),
		Backup:        bak,
		Metrics:       m,
		Activities:    activity.New(cfg, b),
		EventHub:      tb.GetHub(),
		timebox:       tb,
		engineStore:   engineStore,
		workflowStore: workflowStore,
		timer:         o.timer,
	}

	env.runners = workflows.Runners(cfg, env.Activities)
	if o.runners != nil {
		env.runners = o.runners(env)
	}

	env.Engine = env.NewEngineInstance(t)
	env.Machine = state.New(cfg, state.Dependencies{
		Store:     env.Store,
		Backup:    env.Backup,
		Publisher: env.Bus,
		Scheduler: env.Engine,
		Observer:  env.Metrics,
	})
	env.Service = service.New(cfg, service.Dependencies{
		Bus:      env.Bus,
		Engine:   env.Engine,
		Results:  env.Store,
		Observer: env.Metrics,
	})
	env.Remote = remote.New(cfg, env.Bus)

	env.Cleanup = func() {
		env.Service.Stop()
		env.Remote.Stop()
		_ = env.Engine.Stop()
		env.Bus.Close()
		env.Bus.Wait()
		_ = env.Store.Close()
		_ = env.Backup.Close()
		_ = tb.Close()
	}
	return env
}

// NewEngineInstance creates an engine sharing this environment's stores and
// runners. Used to simulate a process restart
func (e *TestEnv) NewEngineInstance(t *testing.T) *workflow.Engine {
	t.Helper()
	eng, err := workflow.New(e.Config, workflow.Dependencies{
		EngineStore:      e.engineStore,
		WorkflowStore:    e.workflowStore,
		Hub:              e.EventHub,
		Runners:          e.runners,
		Observer:         e.Metrics,
		TimerConstructor: e.timer,
	})
	require.NoError(t, err)
	return eng
}

// Start starts the engine, the bus handlers, and the remote processor
func (e *TestEnv) Start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Engine.Start())
	require.NoError(t, e.Service.Start(ctx))
	require.NoError(t, e.Remote.Start(ctx))
}

// WithTestEnv creates a test environment, executes the provided function
// with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEnv), opts ...Option) {
	t.Helper()
	env := NewTestEnv(t, opts...)
	defer env.Cleanup()
	fn(env)
}

// WithStartedEnv is WithTestEnv with every component started
func WithStartedEnv(t *testing.T, fn func(*TestEnv), opts ...Option) {
	t.Helper()
	WithTestEnv(t, func(env *TestEnv) {
		env.Start(t)
		fn(env)
	}, opts...)
}
