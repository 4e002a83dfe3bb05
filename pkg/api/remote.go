package api

import "time"

type (
	// CorrelationEnvelope tags every cross-service message so a receiving
	// orchestrator can route it to the correct suspended wait
	CorrelationEnvelope struct {
		CorrelationID      CorrelationID `json:"correlationId"`
		WorkflowInstanceID InstanceID    `json:"workflowInstanceId"`
	}

	// RemoteRequest asks the remote data processor to start work
	RemoteRequest struct {
		CorrelationEnvelope
		RequestedBy string    `json:"requestedBy"`
		RequestedAt time.Time `json:"requestedAt"`
	}

	// RemoteProgress is a progress update from the remote data processor
	RemoteProgress struct {
		CorrelationEnvelope
		StepName        string    `json:"stepName"`
		StepNumber      int       `json:"stepNumber"`
		TotalSteps      int       `json:"totalSteps"`
		PercentComplete int       `json:"percentComplete"`
		Message         string    `json:"message"`
		Timestamp       time.Time `json:"timestamp"`
	}

	// RemoteComplete reports the end of remote data processing
	RemoteComplete struct {
		CorrelationEnvelope
		Success              bool      `json:"success"`
		Message              string    `json:"message"`
		TotalDurationSeconds float64   `json:"totalDurationSeconds"`
		CompletedAt          time.Time `json:"completedAt"`
	}
)
