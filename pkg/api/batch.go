package api

import (
	"strings"
	"time"
)

type (
	// CorrelationID identifies one batch run end-to-end across services
	CorrelationID string

	// BatchProcessRequest asks an orchestrator to run a batch
	BatchProcessRequest struct {
		CorrelationID CorrelationID  `json:"correlationId"`
		RequestedBy   string         `json:"requestedBy"`
		RequestedAt   time.Time      `json:"requestedAt"`
		Parameters    map[string]any `json:"parameters,omitempty"`
	}

	// BatchOrchestratorInput starts a batch orchestrator instance
	BatchOrchestratorInput struct {
		CorrelationID CorrelationID `json:"correlationId"`
		RequestedBy   string        `json:"requestedBy"`
		StartedAt     time.Time     `json:"startedAt"`
	}

	// BatchOrchestratorOutput is the terminal output of a batch orchestrator
	BatchOrchestratorOutput struct {
		Success bool                  `json:"success"`
		Message string                `json:"message"`
		Results []*WorkflowResultInfo `json:"results"`
	}

	// WorkflowResultInfo is the settled result of one batch branch
	WorkflowResultInfo struct {
		WorkflowName string     `json:"workflowName"`
		InstanceID   InstanceID `json:"instanceId"`
		Success      bool       `json:"success"`
		Message      string     `json:"message"`
		CompletedAt  time.Time  `json:"completedAt"`
	}

	// BatchResult is the aggregated response published when a batch ends
	BatchResult struct {
		CorrelationID   CorrelationID         `json:"correlationId"`
		Success         bool                  `json:"success"`
		Message         string                `json:"message"`
		WorkflowResults []*WorkflowResultInfo `json:"workflowResults"`
		CompletedAt     time.Time             `json:"completedAt"`
		TotalDuration   time.Duration         `json:"totalDuration"`
	}

	// DelayInput configures a simulated delay activity
	DelayInput struct {
		WorkflowName string        `json:"workflowName"`
		Delay        time.Duration `json:"delay"`
		InstanceID   InstanceID    `json:"instanceId"`
	}

	// ApprovalEvent is the payload of the approval external event
	ApprovalEvent struct {
		ApprovedBy string    `json:"approvedBy"`
		IsApproved bool      `json:"isApproved"`
		Comments   string    `json:"comments,omitempty"`
		ApprovedAt time.Time `json:"approvedAt"`
	}

	// TriggerApprovalRequest is the body of an approval request
	TriggerApprovalRequest struct {
		WorkflowInstanceID InstanceID `json:"workflowInstanceId"`
		ApprovedBy         string     `json:"approvedBy"`
		IsApproved         *bool      `json:"isApproved,omitempty"`
		Comments           string     `json:"comments,omitempty"`
	}

	// TriggerBatchRequest is the optional body of a batch start request
	TriggerBatchRequest struct {
		Parameters map[string]any `json:"parameters,omitempty"`
	}
)

// Sub-task prefixes of the batch orchestrator's logical children
const (
	SubTaskApproval     = "approval"
	SubTaskRemote       = "servicec"
	SubTaskValidation   = "validation"
	SubTaskEnrichment   = "enrichment"
	SubTaskNotification = "notification"
)

// routedSubTasks are the children that receive external events through
// their owning orchestrator
var routedSubTasks = []string{SubTaskApproval, SubTaskRemote}

// Approved reports the approval flag, which defaults to true when omitted
func (r *TriggerApprovalRequest) Approved() bool {
	return r.IsApproved == nil || *r.IsApproved
}

// BatchInstanceID derives the orchestrator instance id for a correlation id
func BatchInstanceID(cid CorrelationID) InstanceID {
	return InstanceID("batch-" + string(cid))
}

// BatchResponseKey derives the state store key of a terminal batch result
func BatchResponseKey(cid CorrelationID) string {
	return "batch-response-" + string(cid)
}

// SubTaskID derives the id of a logical child of an orchestrator instance
func SubTaskID(prefix string, parent InstanceID) InstanceID {
	return InstanceID(prefix + "-" + string(parent))
}

// SubTaskOwner returns the orchestrator instance that owns an event-routed
// sub-task id
func SubTaskOwner(id InstanceID) (InstanceID, bool) {
	for _, prefix := range routedSubTasks {
		owner, ok := strings.CutPrefix(string(id), prefix+"-")
		if ok && owner != "" {
			return InstanceID(owner), true
		}
	}
	return "", false
}
