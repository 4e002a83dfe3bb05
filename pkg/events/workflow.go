package events

import (
	"github.com/kode4food/timebox"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

const WorkflowPrefix = "workflow"

// WorkflowAppliers project the recorded history of an instance into its
// current state
var WorkflowAppliers = makeWorkflowAppliers()

// NewWorkflowState creates an empty state with initialized step and wait
// logs
func NewWorkflowState() *api.WorkflowState {
	return &api.WorkflowState{
		Steps: map[string]*api.StepRecord{},
		Waits: map[string]*api.WaitRecord{},
	}
}

// WorkflowKey returns the aggregate ID for a workflow instance
func WorkflowKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(WorkflowPrefix, timebox.ID(id))
}

// IsWorkflowEvent returns true if the event belongs to a workflow instance
func IsWorkflowEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == WorkflowPrefix
}

func makeWorkflowAppliers() timebox.Appliers[*api.WorkflowState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.WorkflowState]{
		api.EventTypeWorkflowStarted:   timebox.MakeApplier(workflowStarted),
		api.EventTypeActivityCompleted: timebox.MakeApplier(activityCompleted),
		api.EventTypeWaitStarted:       timebox.MakeApplier(waitStarted),
		api.EventTypeEventReceived:     timebox.MakeApplier(eventReceived),
		api.EventTypeWaitTimedOut:      timebox.MakeApplier(waitTimedOut),
		api.EventTypeWorkflowCompleted: timebox.MakeApplier(workflowCompleted),
		api.EventTypeWorkflowFailed:    timebox.MakeApplier(workflowFailed),
	})
}

func workflowStarted(
	_ *api.WorkflowState, ev *timebox.Event, data api.WorkflowStartedEvent,
) *api.WorkflowState {
	return &api.WorkflowState{
		ID:            data.InstanceID,
		Kind:          data.Kind,
		Status:        api.WorkflowRunning,
		Input:         data.Input,
		CreatedAt:     ev.Timestamp,
		LastUpdatedAt: ev.Timestamp,
		Steps:         map[string]*api.StepRecord{},
		Waits:         map[string]*api.WaitRecord{},
	}
}

func activityCompleted(
	st *api.WorkflowState, ev *timebox.Event,
	data api.ActivityCompletedEvent,
) *api.WorkflowState {
	return st.
		SetStep(data.Key, &api.StepRecord{
			Result:      data.Result,
			CompletedAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func waitStarted(
	st *api.WorkflowState, ev *timebox.Event, data api.WaitStartedEvent,
) *api.WorkflowState {
	return st.
		SetWait(data.EventName, &api.WaitRecord{
			Status:   api.WaitPending,
			Deadline: data.Deadline,
		}).
		SetLastUpdated(ev.Timestamp)
}

func eventReceived(
	st *api.WorkflowState, ev *timebox.Event, data api.EventReceivedEvent,
) *api.WorkflowState {
	rec := &api.WaitRecord{Status: api.WaitReceived, Payload: data.Payload}
	if w, ok := st.Waits[data.EventName]; ok {
		rec.Deadline = w.Deadline
	}
	return st.
		SetWait(data.EventName, rec).
		SetLastUpdated(ev.Timestamp)
}

func waitTimedOut(
	st *api.WorkflowState, ev *timebox.Event, data api.WaitTimedOutEvent,
) *api.WorkflowState {
	rec := &api.WaitRecord{Status: api.WaitTimedOut}
	if w, ok := st.Waits[data.EventName]; ok {
		rec.Deadline = w.Deadline
	}
	return st.
		SetWait(data.EventName, rec).
		SetLastUpdated(ev.Timestamp)
}

func workflowCompleted(
	st *api.WorkflowState, ev *timebox.Event,
	data api.WorkflowCompletedEvent,
) *api.WorkflowState {
	return st.SetCompleted(api.WorkflowCompleted, data.Output, "", ev.Timestamp)
}

func workflowFailed(
	st *api.WorkflowState, ev *timebox.Event, data api.WorkflowFailedEvent,
) *api.WorkflowState {
	return st.SetCompleted(api.WorkflowFailed, nil, data.Error, ev.Timestamp)
}
