package events

import (
	"github.com/kode4food/timebox"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

const EnginePrefix = "engine"

var (
	// EngineKey is the aggregate tracking which instances are active
	EngineKey = timebox.NewAggregateID(EnginePrefix)

	EngineAppliers = makeEngineAppliers()
)

// NewActiveWorkflows creates an empty set of active instances
func NewActiveWorkflows() *api.ActiveWorkflows {
	return &api.ActiveWorkflows{
		Instances: map[api.InstanceID]api.WorkflowKind{},
	}
}

// IsEngineEvent returns true if the event is for the engine aggregate
func IsEngineEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 1 && ev.AggregateID[0] == EnginePrefix
}

func makeEngineAppliers() timebox.Appliers[*api.ActiveWorkflows] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.ActiveWorkflows]{
		api.EventTypeWorkflowActivated:   timebox.MakeApplier(workflowActivated),
		api.EventTypeWorkflowDeactivated: timebox.MakeApplier(workflowDeactivated),
	})
}

func workflowActivated(
	st *api.ActiveWorkflows, ev *timebox.Event, data api.WorkflowActivatedEvent,
) *api.ActiveWorkflows {
	return st.SetInstance(data.InstanceID, data.Kind, ev.Timestamp)
}

func workflowDeactivated(
	st *api.ActiveWorkflows, ev *timebox.Event,
	data api.WorkflowDeactivatedEvent,
) *api.ActiveWorkflows {
	return st.DeleteInstance(data.InstanceID, ev.Timestamp)
}
