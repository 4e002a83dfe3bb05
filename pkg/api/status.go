package api

import (
	"slices"
	"strings"
	"time"
)

type (
	// Status is the shared system status value
	Status string

	// SystemState is the persisted record of the shared system status
	SystemState struct {
		Status         Status    `json:"status"`
		LastUpdated    time.Time `json:"lastUpdated"`
		PreviousStatus Status    `json:"previousStatus,omitempty"`
	}

	// SetStateRequest is the body of a status change request
	SetStateRequest struct {
		Status string `json:"status"`
	}

	// StateChangeResult reports the outcome of a status change request
	StateChangeResult struct {
		Success        bool   `json:"success"`
		Message        string `json:"message"`
		CurrentState   Status `json:"currentState,omitempty"`
		RequestedState Status `json:"requestedState,omitempty"`
		PreviousState  Status `json:"previousState,omitempty"`
	}

	// SystemEvent is published whenever the shared status changes
	SystemEvent struct {
		EventType     string    `json:"eventType"`
		PreviousState Status    `json:"previousState,omitempty"`
		NewState      Status    `json:"newState"`
		Timestamp     time.Time `json:"timestamp"`
	}

	// TransitionsResponse lists the statuses reachable from the current one
	TransitionsResponse struct {
		CurrentState       Status   `json:"currentState"`
		AllowedTransitions []Status `json:"allowedTransitions"`
	}
)

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSetup     Status = "setup"
	StatusProcedure Status = "procedure"
	StatusError     Status = "error"
)

const (
	SystemEventStateChanged = "StateChanged"
	SystemEventStateForced  = "StateForced"
)

// Statuses lists every known status in declaration order
var Statuses = []Status{
	StatusIdle, StatusRunning, StatusSetup, StatusProcedure, StatusError,
}

// Transitions is the fixed adjacency table of the status machine. No other
// directed edges exist
var Transitions = map[Status][]Status{
	StatusIdle:      {StatusSetup, StatusError},
	StatusSetup:     {StatusRunning, StatusIdle, StatusError},
	StatusRunning:   {StatusProcedure, StatusIdle, StatusError},
	StatusProcedure: {StatusRunning, StatusIdle, StatusError},
	StatusError:     {StatusIdle},
}

// ParseStatus resolves a case-insensitive status name
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(s))
	if slices.Contains(Statuses, st) {
		return st, true
	}
	return st, false
}

// AllowedFrom returns the statuses reachable from s in one transition
func (s Status) AllowedFrom() []Status {
	return slices.Clone(Transitions[s])
}

// CanTransitionTo reports whether the table contains the edge s -> to
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(Transitions[s], to)
}

// StatusNames joins a status list for human-readable messages
func StatusNames(sts []Status) string {
	names := make([]string, len(sts))
	for i, st := range sts {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}
