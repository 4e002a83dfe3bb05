package helpers

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/events"
)

type (
	// EventWaiter waits for events matching a filter. Create before
	// triggering the action
	EventWaiter[T any] struct {
		consumer topic.Consumer[*timebox.Event]
		filter   EventFilter
		getState func(context.Context) (T, error)
		desc     string // for error messages
	}

	// EventFilter selects the history events a waiter reacts to
	EventFilter func(*timebox.Event) bool
)

// Wait blocks until a matching event and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.consumer.Receive():
			if event != nil && w.filter(event) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// SubscribeToWorkflowStatus creates a waiter for instance completion or
// failure
func (e *TestEnv) SubscribeToWorkflowStatus(
	id api.InstanceID,
) *EventWaiter[*api.WorkflowState] {
	return &EventWaiter[*api.WorkflowState]{
		consumer: e.EventHub.NewConsumer(),
		filter: filterWorkflowEvents(id,
			api.EventTypeWorkflowCompleted, api.EventTypeWorkflowFailed,
		),
		getState: func(ctx context.Context) (*api.WorkflowState, error) {
			return e.Engine.GetStatus(ctx, id)
		},
		desc: string(id),
	}
}

// SubscribeToWaitStarted creates a waiter for an instance suspending on the
// named event
func (e *TestEnv) SubscribeToWaitStarted(
	id api.InstanceID, name string,
) *EventWaiter[*api.WorkflowState] {
	typeFilter := filterWorkflowEvents(id, api.EventTypeWaitStarted)
	return &EventWaiter[*api.WorkflowState]{
		consumer: e.EventHub.NewConsumer(),
		filter: func(ev *timebox.Event) bool {
			return typeFilter(ev) &&
				gjson.GetBytes(ev.Data, "eventName").String() == name
		},
		getState: func(ctx context.Context) (*api.WorkflowState, error) {
			return e.Engine.GetStatus(ctx, id)
		},
		desc: string(id) + " waiting for " + name,
	}
}

// WaitForWorkflowStatus subscribes and waits for the instance to finish
func (e *TestEnv) WaitForWorkflowStatus(
	t *testing.T, ctx context.Context, id api.InstanceID,
	timeout time.Duration,
) *api.WorkflowState {
	t.Helper()
	return e.SubscribeToWorkflowStatus(id).Wait(t, ctx, timeout)
}

func filterWorkflowEvents(
	id api.InstanceID, eventTypes ...api.EventType,
) EventFilter {
	return func(ev *timebox.Event) bool {
		if !events.IsWorkflowEvent(ev) {
			return false
		}
		if !slices.Contains(eventTypes, api.EventType(ev.Type)) {
			return false
		}
		return gjson.GetBytes(ev.Data, "instanceId").String() == string(id)
	}
}
