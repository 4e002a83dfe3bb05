package api

import (
	"encoding/json"
	"time"
)

type (
	// WebSocketEvent is a bus message forwarded to WebSocket clients
	WebSocketEvent struct {
		Topic      string          `json:"topic"`
		InstanceID InstanceID      `json:"workflowInstanceId,omitempty"`
		Data       json.RawMessage `json:"data"`
		Timestamp  time.Time       `json:"timestamp"`
	}

	// SubscribeRequest is sent by clients to narrow the stream they receive
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription selects messages by topic and workflow instance
	ClientSubscription struct {
		Topics     []string   `json:"topics,omitempty"`
		InstanceID InstanceID `json:"workflowInstanceId,omitempty"`
	}

	// SubscribedResult acknowledges a subscription
	SubscribedResult struct {
		Type       string     `json:"type"`
		Topics     []string   `json:"topics,omitempty"`
		InstanceID InstanceID `json:"workflowInstanceId,omitempty"`
	}
)
