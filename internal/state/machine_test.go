package state_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/state"
	"github.com/kfir-abbou/Dapr/internal/store"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	testEnv struct {
		machine *state.Machine
		store   *store.Store
		effects *effects
		now     time.Time
	}

	effects struct {
		mu         sync.Mutex
		order      []string
		backups    []*api.SystemState
		events     []*api.SystemEvent
		scheduled  []api.InstanceID
		backupErr  error
		publishErr error
		schedErr   error
	}
)

func TestGetCurrentDefaultsToIdle(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		st, err := env.machine.GetCurrent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, api.StatusIdle, st.Status)
		assert.Equal(t, env.now, st.LastUpdated)
		assert.Empty(t, st.PreviousStatus)

		tr, err := env.machine.AllowedTransitions(context.Background())
		require.NoError(t, err)
		assert.Equal(t, api.StatusIdle, tr.CurrentState)
		assert.Equal(t,
			[]api.Status{api.StatusSetup, api.StatusError},
			tr.AllowedTransitions,
		)
	})
}

func TestTransitionGrid(t *testing.T) {
	for _, from := range api.Statuses {
		for _, to := range api.Statuses {
			name := string(from) + "->" + string(to)
			t.Run(name, func(t *testing.T) {
				withMachine(t, func(env *testEnv) {
					ctx := context.Background()
					_, err := env.machine.ForceTransition(ctx, string(from))
					require.NoError(t, err)
					before, err := env.store.GetStatus(ctx)
					require.NoError(t, err)

					res, err := env.machine.Transition(ctx, string(to))
					after, getErr := env.store.GetStatus(ctx)
					require.NoError(t, getErr)

					switch {
					case from == to:
						require.NoError(t, err)
						assert.True(t, res.Success)
						assert.Equal(t, before, after)
					case from.CanTransitionTo(to):
						require.NoError(t, err)
						assert.True(t, res.Success)
						assert.Equal(t, to, after.Status)
						assert.Equal(t, from, after.PreviousStatus)
					default:
						assert.ErrorIs(t, err, state.ErrIllegalTransition)
						require.NotNil(t, res)
						assert.False(t, res.Success)
						assert.Equal(t, from, res.CurrentState)
						assert.Equal(t, before, after)
					}
				})
			})
		}
	}
}

func TestTransitionInvalidStatus(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		res, err := env.machine.Transition(context.Background(), "paused")
		assert.ErrorIs(t, err, state.ErrInvalidStatus)
		require.NotNil(t, res)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "Invalid state 'paused'")

		res, err = env.machine.ForceTransition(context.Background(), "")
		assert.ErrorIs(t, err, state.ErrInvalidStatus)
		assert.False(t, res.Success)

		st, err := env.store.GetStatus(context.Background())
		require.NoError(t, err)
		assert.Nil(t, st)
		assert.Empty(t, env.effects.snapshot())
	})
}

func TestTransitionCaseInsensitive(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		res, err := env.machine.Transition(context.Background(), "ERROR")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, api.StatusError, res.CurrentState)
		assert.Equal(t, "State changed from 'idle' to 'error'", res.Message)
	})
}

func TestTransitionSameStateIsNoop(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		ctx := context.Background()
		_, err := env.machine.Transition(ctx, "setup")
		require.NoError(t, err)
		first, err := env.store.GetStatus(ctx)
		require.NoError(t, err)
		effectsBefore := len(env.effects.snapshot())

		for range 3 {
			env.now = env.now.Add(time.Minute)
			res, err := env.machine.Transition(ctx, "setup")
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, "Already in state 'setup'", res.Message)
		}

		again, err := env.store.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Len(t, env.effects.snapshot(), effectsBefore)
		assert.Len(t, env.effects.scheduledIDs(), 1)
	})
}

func TestTransitionToSetupSchedulesWorkflow(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		res, err := env.machine.Transition(context.Background(), "setup")
		require.NoError(t, err)

		ids := env.effects.scheduledIDs()
		require.Len(t, ids, 1)
		id := string(ids[0])
		assert.True(t, strings.HasPrefix(id, "setup-"))
		assert.Len(t, strings.TrimPrefix(id, "setup-"), 32)
		assert.NoError(t, ids[0].Validate())
		assert.Contains(t, res.Message, "Workflow started: "+id)

		assert.Equal(t,
			[]string{"backup", "publish", "schedule"},
			env.effects.snapshot(),
		)
		evs := env.effects.publishedEvents()
		require.Len(t, evs, 1)
		assert.Equal(t, api.SystemEventStateChanged, evs[0].EventType)
		assert.Equal(t, api.StatusIdle, evs[0].PreviousState)
		assert.Equal(t, api.StatusSetup, evs[0].NewState)
	})
}

func TestForceTransition(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		ctx := context.Background()
		prev := api.StatusIdle
		for _, to := range []api.Status{
			api.StatusProcedure, api.StatusSetup, api.StatusSetup,
			api.StatusError, api.StatusRunning,
		} {
			res, err := env.machine.ForceTransition(ctx, string(to))
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, prev, res.PreviousState)

			st, err := env.store.GetStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, to, st.Status)
			assert.Equal(t, prev, st.PreviousStatus)
			prev = to
		}

		evs := env.effects.publishedEvents()
		require.Len(t, evs, 5)
		for _, ev := range evs {
			assert.Equal(t, api.SystemEventStateForced, ev.EventType)
		}
		assert.Empty(t, env.effects.scheduledIDs())
	})
}

func TestSideEffectFailuresKeepStatus(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		env.effects.backupErr = errors.New("disk full")
		env.effects.publishErr = errors.New("bus down")
		ctx := context.Background()

		res, err := env.machine.Transition(ctx, "error")
		require.NoError(t, err)
		assert.True(t, res.Success)

		st, err := env.store.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, api.StatusError, st.Status)

		res, err = env.machine.ForceTransition(ctx, "running")
		require.NoError(t, err)
		assert.True(t, res.Success)
	})
}

func TestConcurrentTransitionsApplyOnce(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		ctx := context.Background()
		var wg sync.WaitGroup
		var mu sync.Mutex
		changed := 0

		for range 8 {
			wg.Go(func() {
				res, err := env.machine.Transition(ctx, "setup")
				if !assert.NoError(t, err) {
					return
				}
				if res.PreviousState != "" {
					mu.Lock()
					changed++
					mu.Unlock()
				}
			})
		}
		wg.Wait()

		assert.Equal(t, 1, changed)
		assert.Len(t, env.effects.scheduledIDs(), 1)
	})
}

func TestInitialize(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		ctx := context.Background()
		st, err := env.machine.Initialize(ctx)
		require.NoError(t, err)
		assert.Equal(t, api.StatusIdle, st.Status)

		stored, err := env.store.GetStatus(ctx)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, api.StatusIdle, stored.Status)

		_, err = env.machine.ForceTransition(ctx, "running")
		require.NoError(t, err)

		st, err = env.machine.Initialize(ctx)
		require.NoError(t, err)
		assert.Equal(t, api.StatusRunning, st.Status)
		assert.Equal(t, api.StatusRunning, env.effects.lastBackup().Status)
	})
}

func (e *effects) Save(_ context.Context, st *api.SystemState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backupErr != nil {
		return e.backupErr
	}
	e.order = append(e.order, "backup")
	e.backups = append(e.backups, st)
	return nil
}

func TestTransitionToSetupReportsScheduleFailure(t *testing.T) {
	withMachine(t, func(env *testEnv) {
		env.effects.schedErr = errors.New("engine stopped")
		ctx := context.Background()

		res, err := env.machine.Transition(ctx, "setup")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, api.StatusSetup, res.CurrentState)
		assert.Contains(t, res.Message, "State changed from 'idle' to 'setup'")
		assert.Contains(t, res.Message, "Setup workflow not started")
		assert.Contains(t, res.Message, "engine stopped")
		assert.Empty(t, env.effects.scheduledIDs())

		st, err := env.machine.GetCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSetup, st.Status)
	})
}

func (e *effects) Publish(_ context.Context, _ string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.publishErr != nil {
		return e.publishErr
	}
	e.order = append(e.order, "publish")
	e.events = append(e.events, payload.(*api.SystemEvent))
	return nil
}

func (e *effects) Schedule(
	_ context.Context, id api.InstanceID, kind api.WorkflowKind, _ any,
) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kind != api.KindSetup {
		return errors.New("unexpected kind")
	}
	if e.schedErr != nil {
		return e.schedErr
	}
	e.order = append(e.order, "schedule")
	e.scheduled = append(e.scheduled, id)
	return nil
}

func (e *effects) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func (e *effects) scheduledIDs() []api.InstanceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]api.InstanceID(nil), e.scheduled...)
}

func (e *effects) publishedEvents() []*api.SystemEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*api.SystemEvent(nil), e.events...)
}

func (e *effects) lastBackup() *api.SystemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.backups) == 0 {
		return nil
	}
	return e.backups[len(e.backups)-1]
}

func withMachine(t *testing.T, fn func(*testEnv)) {
	t.Helper()
	server := miniredis.RunT(t)

	cfg := config.NewDefaultConfig()
	cfg.StateStore.Addr = server.Addr()
	st := store.New(cfg.StateStore, 10)
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{
		store:   st,
		effects: &effects{},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env.machine = state.New(cfg, state.Dependencies{
		Store:     st,
		Backup:    env.effects,
		Publisher: env.effects,
		Scheduler: env.effects,
		Clock:     func() time.Time { return env.now },
	})
	fn(env)
}
