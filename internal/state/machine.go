package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/store"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
	"github.com/kfir-abbou/Dapr/pkg/util/call"
)

type (
	// Machine validates and records transitions of the shared status. The
	// state store is the source of truth; backup snapshots and published
	// events are advisory and never roll a transition back
	Machine struct {
		store    StatusStore
		backup   Backup
		pub      Publisher
		sched    Scheduler
		observer Observer
		config   *config.Config
		now      func() time.Time
		newID    func() api.InstanceID
	}

	// Dependencies are the collaborators a Machine is built from
	Dependencies struct {
		Store     StatusStore
		Backup    Backup
		Publisher Publisher
		Scheduler Scheduler
		Observer  Observer
		Clock     func() time.Time
	}

	// StatusStore persists the status record with compare-and-set writes
	StatusStore interface {
		GetStatus(context.Context) (*api.SystemState, error)
		InitStatus(context.Context, *api.SystemState) (bool, error)
		UpdateStatus(
			context.Context, store.StatusUpdate,
		) (*api.SystemState, error)
	}

	// Backup receives a snapshot of every accepted status
	Backup interface {
		Save(context.Context, *api.SystemState) error
	}

	// Publisher announces status changes
	Publisher interface {
		Publish(ctx context.Context, topic string, payload any) error
	}

	// Scheduler starts workflow instances
	Scheduler interface {
		Schedule(
			ctx context.Context, id api.InstanceID, kind api.WorkflowKind,
			input any,
		) error
	}

	// Observer is notified of every accepted transition
	Observer interface {
		Transitioned(eventType string, from, to api.Status)
	}

	noopObserver struct{}
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrScheduleSetup     = errors.New("failed to schedule setup workflow")
)

const setupPrefix = "setup-"

// New creates a status machine
func New(cfg *config.Config, deps Dependencies) *Machine {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Machine{
		store:    deps.Store,
		backup:   deps.Backup,
		pub:      deps.Publisher,
		sched:    deps.Scheduler,
		observer: observer,
		config:   cfg,
		now:      now,
		newID:    newSetupID,
	}
}

// Initialize persists the default idle record when none exists and writes
// the current record to the backup
func (m *Machine) Initialize(ctx context.Context) (*api.SystemState, error) {
	st := m.defaultState()
	created, err := m.store.InitStatus(ctx, st)
	if err != nil {
		return nil, err
	}
	if !created {
		if st, err = m.GetCurrent(ctx); err != nil {
			return nil, err
		}
	}
	if err := m.backup.Save(ctx, st); err != nil {
		slog.Warn("Failed to write initial status backup", log.Error(err))
	} else {
		slog.Info("Initial status backed up",
			log.Status(st.Status),
			slog.Bool("created", created))
	}
	return st, nil
}

// GetCurrent returns the persisted status, or idle at the current time when
// nothing has been persisted yet
func (m *Machine) GetCurrent(ctx context.Context) (*api.SystemState, error) {
	st, err := m.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return m.defaultState(), nil
	}
	return st, nil
}

// AllowedTransitions returns the current status and the statuses reachable
// from it
func (m *Machine) AllowedTransitions(
	ctx context.Context,
) (*api.TransitionsResponse, error) {
	st, err := m.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return &api.TransitionsResponse{
		CurrentState:       st.Status,
		AllowedTransitions: st.Status.AllowedFrom(),
	}, nil
}

// Transition moves the shared status to requested if the transition table
// permits it. Requesting the current status is a successful no-op. Entering
// setup schedules a new setup workflow. Validation failures return both a
// result describing the rejection and an error wrapping ErrInvalidStatus or
// ErrIllegalTransition
func (m *Machine) Transition(
	ctx context.Context, requested string,
) (*api.StateChangeResult, error) {
	to, res, err := m.parse(requested)
	if err != nil {
		return res, err
	}

	var from api.Status
	var unchanged bool
	next, err := m.store.UpdateStatus(ctx,
		func(cur *api.SystemState) (*api.SystemState, error) {
			from = m.statusOf(cur)
			unchanged = from == to
			if unchanged {
				return nil, nil
			}
			if !from.CanTransitionTo(to) {
				return nil, fmt.Errorf("%w: %s to %s",
					ErrIllegalTransition, from, to)
			}
			return m.nextState(from, to), nil
		},
	)

	switch {
	case errors.Is(err, ErrIllegalTransition):
		allowed := from.AllowedFrom()
		return &api.StateChangeResult{
			Success: false,
			Message: fmt.Sprintf(
				"Invalid transition from '%s' to '%s'. Allowed transitions: %s",
				from, to, api.StatusNames(allowed),
			),
			CurrentState:   from,
			RequestedState: to,
		}, err
	case err != nil:
		return nil, err
	case unchanged:
		return &api.StateChangeResult{
			Success:        true,
			Message:        fmt.Sprintf("Already in state '%s'", from),
			CurrentState:   from,
			RequestedState: to,
		}, nil
	}

	m.announce(ctx, api.SystemEventStateChanged, next)

	msg := fmt.Sprintf("State changed from '%s' to '%s'", from, to)
	if to == api.StatusSetup {
		id, err := m.scheduleSetup(ctx)
		if err != nil {
			slog.Error("Setup workflow not started",
				log.Status(to),
				log.Error(err))
			msg += ". Setup workflow not started: " + err.Error()
		} else {
			msg += ". Workflow started: " + string(id)
		}
	}

	return &api.StateChangeResult{
		Success:        true,
		Message:        msg,
		CurrentState:   to,
		RequestedState: to,
		PreviousState:  from,
	}, nil
}

// ForceTransition sets the shared status without consulting the transition
// table. The new record is always written, backed up, and announced
func (m *Machine) ForceTransition(
	ctx context.Context, requested string,
) (*api.StateChangeResult, error) {
	to, res, err := m.parse(requested)
	if err != nil {
		return res, err
	}

	var from api.Status
	next, err := m.store.UpdateStatus(ctx,
		func(cur *api.SystemState) (*api.SystemState, error) {
			from = m.statusOf(cur)
			return m.nextState(from, to), nil
		},
	)
	if err != nil {
		return nil, err
	}

	m.announce(ctx, api.SystemEventStateForced, next)

	return &api.StateChangeResult{
		Success:        true,
		Message:        fmt.Sprintf("State forced from '%s' to '%s'", from, to),
		CurrentState:   to,
		RequestedState: to,
		PreviousState:  from,
	}, nil
}

func (m *Machine) parse(
	requested string,
) (api.Status, *api.StateChangeResult, error) {
	to, ok := api.ParseStatus(requested)
	if ok {
		return to, nil, nil
	}
	return to, &api.StateChangeResult{
		Success: false,
		Message: fmt.Sprintf("Invalid state '%s'. Valid states are: %s",
			requested, api.StatusNames(api.Statuses)),
		RequestedState: to,
	}, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
}

// announce runs the advisory side effects of an accepted transition in
// order: backup snapshot, then event. Failures are logged only
func (m *Machine) announce(
	ctx context.Context, eventType string, st *api.SystemState,
) {
	topic := m.config.Topics.SystemEvents
	ev := &api.SystemEvent{
		EventType:     eventType,
		PreviousState: st.PreviousStatus,
		NewState:      st.Status,
		Timestamp:     m.now(),
	}
	effects := []string{"backup", "publish"}

	call.Notify(
		func(i int, err error) {
			slog.Warn("Status side effect failed",
				slog.String("effect", effects[i]),
				log.Status(st.Status),
				log.Error(err))
		},
		call.WithArgs(m.backup.Save, ctx, st),
		func() error {
			return m.pub.Publish(ctx, topic, ev)
		},
	)

	m.observer.Transitioned(eventType, st.PreviousStatus, st.Status)
	slog.Info("Status changed",
		slog.String("event_type", eventType),
		slog.String("previous", string(st.PreviousStatus)),
		log.Status(st.Status))
}

func (m *Machine) scheduleSetup(ctx context.Context) (api.InstanceID, error) {
	id := m.newID()
	err := m.sched.Schedule(ctx, id, api.KindSetup, &api.SetupWorkflowInput{
		WorkflowInstanceID: id,
		StartedAt:          m.now(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrScheduleSetup, err)
	}
	slog.Info("Setup workflow scheduled", log.InstanceID(id))
	return id, nil
}

func (m *Machine) nextState(from, to api.Status) *api.SystemState {
	return &api.SystemState{
		Status:         to,
		LastUpdated:    m.now(),
		PreviousStatus: from,
	}
}

func (m *Machine) statusOf(cur *api.SystemState) api.Status {
	if cur == nil {
		return api.StatusIdle
	}
	return cur.Status
}

func (m *Machine) defaultState() *api.SystemState {
	return &api.SystemState{
		Status:      api.StatusIdle,
		LastUpdated: m.now(),
	}
}

func newSetupID() api.InstanceID {
	return api.InstanceID(
		setupPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
	)
}

func (noopObserver) Transitioned(string, api.Status, api.Status) {}
