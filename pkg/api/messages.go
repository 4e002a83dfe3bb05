package api

import "time"

type (
	// ErrorResponse is returned by the HTTP API for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// HealthResponse reports the liveness of the service
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// BatchStartedResponse is returned when a batch request is accepted
	BatchStartedResponse struct {
		Message       string        `json:"message"`
		CorrelationID CorrelationID `json:"correlationId"`
		InstanceID    InstanceID    `json:"workflowInstanceId"`
		ApprovalHint  string        `json:"approvalHint"`
	}

	// BatchStatusResponse reports the stored result of a batch, or that it
	// is still pending
	BatchStatusResponse struct {
		CorrelationID CorrelationID         `json:"correlationId"`
		Status        string                `json:"status"`
		Message       string                `json:"message"`
		Success       *bool                 `json:"success,omitempty"`
		TotalDuration time.Duration         `json:"totalDuration,omitempty"`
		CompletedAt   time.Time             `json:"completedAt,omitzero"`
		Results       []*WorkflowResultInfo `json:"results,omitempty"`
	}

	// ApprovalResponse is returned when an approval event is delivered
	ApprovalResponse struct {
		Message            string     `json:"message"`
		WorkflowInstanceID InstanceID `json:"workflowInstanceId"`
		IsApproved         bool       `json:"isApproved"`
		ApprovedBy         string     `json:"approvedBy"`
		Timestamp          time.Time  `json:"timestamp"`
	}

	// PendingApprovalsResponse explains how approvals are submitted
	PendingApprovalsResponse struct {
		Message string         `json:"message"`
		Usage   map[string]any `json:"usage"`
	}
)

const (
	BatchStatusPending   = "pending"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// NewBatchStatus reports a stored batch result, or pending when res is nil
func NewBatchStatus(
	cid CorrelationID, res *BatchResult,
) *BatchStatusResponse {
	if res == nil {
		return &BatchStatusResponse{
			CorrelationID: cid,
			Status:        BatchStatusPending,
			Message:       "Batch processing is still in progress or not found",
		}
	}
	status := BatchStatusFailed
	if res.Success {
		status = BatchStatusCompleted
	}
	success := res.Success
	return &BatchStatusResponse{
		CorrelationID: cid,
		Status:        status,
		Message:       res.Message,
		Success:       &success,
		TotalDuration: res.TotalDuration,
		CompletedAt:   res.CompletedAt,
		Results:       res.WorkflowResults,
	}
}
