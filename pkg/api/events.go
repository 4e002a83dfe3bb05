package api

import (
	"encoding/json"
	"time"
)

type (
	// EventType identifies an event recorded in workflow history
	EventType string

	// WorkflowStartedEvent is recorded when an instance is scheduled
	WorkflowStartedEvent struct {
		InstanceID InstanceID      `json:"instanceId"`
		Kind       WorkflowKind    `json:"kind"`
		Input      json.RawMessage `json:"input,omitempty"`
	}

	// ActivityCompletedEvent records the result of one activity call so the
	// call is never repeated on replay
	ActivityCompletedEvent struct {
		InstanceID InstanceID      `json:"instanceId"`
		Key        string          `json:"key"`
		Result     json.RawMessage `json:"result,omitempty"`
	}

	// WaitStartedEvent is recorded when an instance suspends on an event
	WaitStartedEvent struct {
		InstanceID InstanceID `json:"instanceId"`
		EventName  string     `json:"eventName"`
		Deadline   time.Time  `json:"deadline"`
	}

	// EventReceivedEvent records the payload that resolved a wait
	EventReceivedEvent struct {
		InstanceID InstanceID      `json:"instanceId"`
		EventName  string          `json:"eventName"`
		Payload    json.RawMessage `json:"payload,omitempty"`
	}

	// WaitTimedOutEvent records a wait resolved by its deadline
	WaitTimedOutEvent struct {
		InstanceID InstanceID `json:"instanceId"`
		EventName  string     `json:"eventName"`
	}

	// WorkflowCompletedEvent is recorded when an instance produces output
	WorkflowCompletedEvent struct {
		InstanceID InstanceID      `json:"instanceId"`
		Kind       WorkflowKind    `json:"kind"`
		Output     json.RawMessage `json:"output,omitempty"`
	}

	// WorkflowFailedEvent is recorded when an instance faults
	WorkflowFailedEvent struct {
		InstanceID InstanceID   `json:"instanceId"`
		Kind       WorkflowKind `json:"kind"`
		Error      string       `json:"error"`
	}

	// WorkflowActivatedEvent marks an instance for resumption on restart
	WorkflowActivatedEvent struct {
		InstanceID InstanceID   `json:"instanceId"`
		Kind       WorkflowKind `json:"kind"`
	}

	// WorkflowDeactivatedEvent clears an instance from resumption
	WorkflowDeactivatedEvent struct {
		InstanceID InstanceID `json:"instanceId"`
	}
)

const (
	EventTypeWorkflowStarted     EventType = "workflow_started"
	EventTypeActivityCompleted   EventType = "activity_completed"
	EventTypeWaitStarted         EventType = "wait_started"
	EventTypeEventReceived       EventType = "event_received"
	EventTypeWaitTimedOut        EventType = "wait_timed_out"
	EventTypeWorkflowCompleted   EventType = "workflow_completed"
	EventTypeWorkflowFailed      EventType = "workflow_failed"
	EventTypeWorkflowActivated   EventType = "workflow_activated"
	EventTypeWorkflowDeactivated EventType = "workflow_deactivated"
)
