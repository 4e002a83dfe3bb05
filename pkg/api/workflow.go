package api

import (
	"encoding/json"
	"maps"
	"time"
)

type (
	// WorkflowKind names a workflow definition known to the engine
	WorkflowKind string

	// WorkflowStatus is the runtime status of a workflow instance
	WorkflowStatus string

	// WaitStatus is the state of a single external event wait
	WaitStatus string

	// WorkflowState is the projected state of a workflow instance, rebuilt
	// from its recorded history
	WorkflowState struct {
		ID            InstanceID             `json:"instanceId"`
		Kind          WorkflowKind           `json:"kind"`
		Status        WorkflowStatus         `json:"status"`
		Input         json.RawMessage        `json:"input,omitempty"`
		Output        json.RawMessage        `json:"output,omitempty"`
		Error         string                 `json:"error,omitempty"`
		CreatedAt     time.Time              `json:"createdAt"`
		LastUpdatedAt time.Time              `json:"lastUpdatedAt"`
		CompletedAt   time.Time              `json:"completedAt,omitzero"`
		Steps         map[string]*StepRecord `json:"steps,omitempty"`
		Waits         map[string]*WaitRecord `json:"waits,omitempty"`
	}

	// StepRecord is the recorded result of one completed activity call
	StepRecord struct {
		Result      json.RawMessage `json:"result,omitempty"`
		CompletedAt time.Time       `json:"completedAt"`
	}

	// WaitRecord is the recorded progress of one external event wait
	WaitRecord struct {
		Status   WaitStatus      `json:"status"`
		Deadline time.Time       `json:"deadline"`
		Payload  json.RawMessage `json:"payload,omitempty"`
	}

	// ActiveWorkflows tracks instances that must be resumed after a restart
	ActiveWorkflows struct {
		Instances   map[InstanceID]WorkflowKind `json:"instances"`
		LastUpdated time.Time                   `json:"lastUpdated"`
	}

	// ActivityInput is passed to each step of the setup sequence
	ActivityInput struct {
		WorkflowInstanceID InstanceID `json:"workflowInstanceId"`
		Description        string     `json:"description"`
		StepNumber         int        `json:"stepNumber"`
		TotalSteps         int        `json:"totalSteps"`
	}

	// ActivityResult is returned by each step of the setup sequence
	ActivityResult struct {
		ActivityName string    `json:"activityName"`
		Success      bool      `json:"success"`
		Message      string    `json:"message"`
		CompletedAt  time.Time `json:"completedAt"`
	}

	// ProgressEvent is a progress notification emitted by activities
	ProgressEvent struct {
		WorkflowInstanceID InstanceID `json:"workflowInstanceId"`
		WorkflowName       string     `json:"workflowName"`
		ActivityName       string     `json:"activityName"`
		PercentComplete    int        `json:"percentComplete"`
		Message            string     `json:"message"`
		Timestamp          time.Time  `json:"timestamp"`
	}

	// SetupWorkflowInput starts a setup sequence
	SetupWorkflowInput struct {
		WorkflowInstanceID InstanceID `json:"workflowInstanceId"`
		StartedAt          time.Time  `json:"startedAt"`
	}
)

const (
	KindSetup WorkflowKind = "SetupWorkflow"
	KindBatch WorkflowKind = "BatchOrchestratorWorkflow"
)

const (
	WorkflowRunning   WorkflowStatus = "Running"
	WorkflowCompleted WorkflowStatus = "Completed"
	WorkflowFailed    WorkflowStatus = "Failed"
)

const (
	WaitPending  WaitStatus = "pending"
	WaitReceived WaitStatus = "received"
	WaitTimedOut WaitStatus = "timed_out"
)

// IsTerminal reports whether the status can no longer change
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// SetLastUpdated returns a copy of the state with the given update time
func (st *WorkflowState) SetLastUpdated(t time.Time) *WorkflowState {
	res := *st
	res.LastUpdatedAt = t
	return &res
}

// SetCompleted returns a terminal copy of the state carrying output or error
func (st *WorkflowState) SetCompleted(
	status WorkflowStatus, output json.RawMessage, errMsg string, t time.Time,
) *WorkflowState {
	res := *st
	res.Status = status
	res.Output = output
	res.Error = errMsg
	res.CompletedAt = t
	res.LastUpdatedAt = t
	return &res
}

// SetStep returns a copy of the state with the step record stored
func (st *WorkflowState) SetStep(key string, rec *StepRecord) *WorkflowState {
	res := *st
	res.Steps = maps.Clone(st.Steps)
	if res.Steps == nil {
		res.Steps = map[string]*StepRecord{}
	}
	res.Steps[key] = rec
	return &res
}

// SetWait returns a copy of the state with the wait record stored
func (st *WorkflowState) SetWait(name string, rec *WaitRecord) *WorkflowState {
	res := *st
	res.Waits = maps.Clone(st.Waits)
	if res.Waits == nil {
		res.Waits = map[string]*WaitRecord{}
	}
	res.Waits[name] = rec
	return &res
}

// SetInstance returns a copy with the instance marked active
func (a *ActiveWorkflows) SetInstance(
	id InstanceID, kind WorkflowKind, t time.Time,
) *ActiveWorkflows {
	res := *a
	res.Instances = maps.Clone(a.Instances)
	if res.Instances == nil {
		res.Instances = map[InstanceID]WorkflowKind{}
	}
	res.Instances[id] = kind
	res.LastUpdated = t
	return &res
}

// DeleteInstance returns a copy with the instance no longer active
func (a *ActiveWorkflows) DeleteInstance(
	id InstanceID, t time.Time,
) *ActiveWorkflows {
	res := *a
	res.Instances = maps.Clone(a.Instances)
	delete(res.Instances, id)
	res.LastUpdated = t
	return &res
}
