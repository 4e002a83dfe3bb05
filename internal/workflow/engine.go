package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/workflow/scheduler"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/events"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Engine runs durable workflow instances. Every instance is an event
	// sourced aggregate; activity results and wait outcomes are recorded in
	// its history so a restarted engine replays them instead of repeating
	// side effects
	Engine struct {
		ctx          context.Context
		cancel       context.CancelFunc
		config       *config.Config
		workflowExec *Executor
		engineExec   *EngineExecutor
		consumer     EventConsumer
		handler      timebox.Handler
		runners      map[api.WorkflowKind]Runner
		observer     Observer
		sched        *scheduler.Scheduler
		waits        *waitTable
		clock        scheduler.Clock
		instances    sync.Map // map[api.InstanceID]*instance
		resumed      []*api.WorkflowState
		resumedMu    sync.Mutex
		wg           sync.WaitGroup
		stopOnce     sync.Once
	}

	// Dependencies are the collaborators an Engine is built from
	Dependencies struct {
		EngineStore      *timebox.Store
		WorkflowStore    *timebox.Store
		Hub              EventHub
		Runners          map[api.WorkflowKind]Runner
		Observer         Observer
		Clock            scheduler.Clock
		TimerConstructor scheduler.TimerConstructor
	}

	// Runner is the body of a workflow kind. It must be a pure function of
	// the values its Context hands back
	Runner func(*Context) (any, error)

	// Observer is notified of instance lifecycle outcomes
	Observer interface {
		WorkflowFinished(api.WorkflowKind, api.WorkflowStatus)
		EventDropped(eventName string)
	}

	// EventHub is the source of recorded history events
	EventHub interface {
		NewConsumer() EventConsumer
	}

	// EventConsumer consumes events from the event hub
	EventConsumer = topic.Consumer[*timebox.Event]

	// Executor manages instance history persistence
	Executor = timebox.Executor[*api.WorkflowState]

	// Aggregator raises events against one instance
	Aggregator = timebox.Aggregator[*api.WorkflowState]

	// EngineExecutor manages the set of active instances
	EngineExecutor = timebox.Executor[*api.ActiveWorkflows]

	// EngineAggregator raises events against the active instance set
	EngineAggregator = timebox.Aggregator[*api.ActiveWorkflows]

	noopObserver struct{}
)

var (
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
	ErrWorkflowExists  = errors.New("workflow instance exists")
	ErrUnknownKind     = errors.New("unknown workflow kind")
	ErrMissingStore    = errors.New("engine store and workflow store required")
)

// New creates an engine over the provided stores
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if deps.EngineStore == nil || deps.WorkflowStore == nil {
		return nil, ErrMissingStore
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:    ctx,
		cancel: cancel,
		config: cfg,
		workflowExec: timebox.NewExecutor(
			deps.WorkflowStore, events.NewWorkflowState,
			events.WorkflowAppliers,
		),
		engineExec: timebox.NewExecutor(
			deps.EngineStore, events.NewActiveWorkflows,
			events.EngineAppliers,
		),
		runners:  deps.Runners,
		observer: observer,
		sched:    scheduler.New(clock, deps.TimerConstructor),
		waits:    newWaitTable(),
		clock:    clock,
	}
	if deps.Hub != nil {
		e.consumer = deps.Hub.NewConsumer()
	}
	e.handler = e.createEventHandler()
	return e, nil
}

// Start runs the deadline scheduler and resumes every instance that was
// still active when the engine last stopped
func (e *Engine) Start() error {
	slog.Info("Workflow engine starting")

	e.wg.Go(func() { e.sched.Run(e.ctx) })
	if e.consumer != nil {
		e.wg.Go(e.eventLoop)
	}
	return e.recoverInstances()
}

// Stop cancels running instances without recording an outcome so that they
// resume from their history on the next Start
func (e *Engine) Stop() error {
	e.cancel()
	e.stopOnce.Do(func() {
		if e.consumer != nil {
			e.consumer.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Workflow engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Resumed returns the instances the last Start picked up from history
func (e *Engine) Resumed() []*api.WorkflowState {
	e.resumedMu.Lock()
	defer e.resumedMu.Unlock()
	return slices.Clone(e.resumed)
}

// Now returns the current time from the engine's clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Schedule records a new instance of the given kind and starts running it
func (e *Engine) Schedule(
	ctx context.Context, id api.InstanceID, kind api.WorkflowKind, input any,
) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, ok := e.runners[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}

	st, err := e.workflowExec.Exec(ctx, events.WorkflowKey(id),
		func(st *api.WorkflowState, ag *Aggregator) error {
			if st.ID != "" {
				return fmt.Errorf("%w: %s", ErrWorkflowExists, id)
			}
			return events.Raise(ag, api.EventTypeWorkflowStarted,
				api.WorkflowStartedEvent{
					InstanceID: id,
					Kind:       kind,
					Input:      data,
				},
			)
		},
	)
	if err != nil {
		return err
	}

	if err := e.activate(ctx, id, kind); err != nil {
		return err
	}

	slog.Info("Workflow scheduled",
		log.InstanceID(id),
		slog.String("kind", string(kind)))

	e.launch(st)
	return nil
}

func (e *Engine) recoverInstances() error {
	active, err := e.engineExec.Exec(e.ctx, events.EngineKey,
		func(*api.ActiveWorkflows, *EngineAggregator) error {
			return nil
		},
	)
	if err != nil {
		return err
	}

	var resumed []*api.WorkflowState
	defer func() {
		e.resumedMu.Lock()
		e.resumed = resumed
		e.resumedMu.Unlock()
	}()

	for id := range active.Instances {
		st, err := e.loadState(e.ctx, id)
		if err != nil {
			slog.Error("Failed to load workflow for recovery",
				log.InstanceID(id),
				log.Error(err))
			continue
		}
		if st.ID == "" || st.Status.IsTerminal() {
			if err := e.deactivate(e.ctx, id); err != nil {
				slog.Error("Failed to deactivate workflow",
					log.InstanceID(id),
					log.Error(err))
			}
			continue
		}
		slog.Info("Resuming workflow",
			log.InstanceID(id),
			slog.String("kind", string(st.Kind)))
		resumed = append(resumed, st)
		e.launch(st)
	}
	return nil
}

func (e *Engine) activate(
	ctx context.Context, id api.InstanceID, kind api.WorkflowKind,
) error {
	_, err := e.engineExec.Exec(ctx, events.EngineKey,
		func(_ *api.ActiveWorkflows, ag *EngineAggregator) error {
			return events.Raise(ag, api.EventTypeWorkflowActivated,
				api.WorkflowActivatedEvent{InstanceID: id, Kind: kind},
			)
		},
	)
	return err
}

func (e *Engine) deactivate(ctx context.Context, id api.InstanceID) error {
	_, err := e.engineExec.Exec(ctx, events.EngineKey,
		func(st *api.ActiveWorkflows, ag *EngineAggregator) error {
			if _, ok := st.Instances[id]; !ok {
				return nil
			}
			return events.Raise(ag, api.EventTypeWorkflowDeactivated,
				api.WorkflowDeactivatedEvent{InstanceID: id},
			)
		},
	)
	return err
}

func (e *Engine) loadState(
	ctx context.Context, id api.InstanceID,
) (*api.WorkflowState, error) {
	return e.workflowExec.Exec(ctx, events.WorkflowKey(id),
		func(*api.WorkflowState, *Aggregator) error {
			return nil
		},
	)
}

func (e *Engine) createEventHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeWorkflowCompleted: timebox.MakeHandler(
			e.handleWorkflowCompleted,
		),
		api.EventTypeWorkflowFailed: timebox.MakeHandler(
			e.handleWorkflowFailed,
		),
	})
}

func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.consumer.Receive():
			if !ok {
				return
			}
			if !events.IsWorkflowEvent(ev) {
				continue
			}
			if err := e.handler(ev); err != nil {
				slog.Error("Failed to handle workflow event",
					slog.String("event_type", string(ev.Type)),
					log.Error(err))
			}
		}
	}
}

func (e *Engine) handleWorkflowCompleted(
	_ *timebox.Event, data api.WorkflowCompletedEvent,
) error {
	e.observer.WorkflowFinished(data.Kind, api.WorkflowCompleted)
	return nil
}

func (e *Engine) handleWorkflowFailed(
	_ *timebox.Event, data api.WorkflowFailedEvent,
) error {
	e.observer.WorkflowFinished(data.Kind, api.WorkflowFailed)
	return nil
}

func (noopObserver) WorkflowFinished(api.WorkflowKind, api.WorkflowStatus) {}

func (noopObserver) EventDropped(string) {}
