package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

var ErrMissingInstanceID = errors.New("workflowInstanceId is required")

func (s *Server) approve(c *gin.Context) {
	var req api.TriggerApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.WorkflowInstanceID == "" {
		writeError(c, http.StatusBadRequest, ErrMissingInstanceID)
		return
	}

	ev := &api.ApprovalEvent{
		ApprovedBy: req.ApprovedBy,
		IsApproved: req.Approved(),
		Comments:   req.Comments,
		ApprovedAt: time.Now(),
	}

	id := req.WorkflowInstanceID
	err := s.engine.RaiseEvent(
		c.Request.Context(), id, s.config.Events.Approval, ev,
	)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeError(c, http.StatusNotFound,
			fmt.Errorf("Workflow instance '%s' not found", id),
		)
	case errors.Is(err, workflow.ErrNotRunning):
		writeError(c, http.StatusBadRequest,
			fmt.Errorf("Workflow instance '%s' is not running", id),
		)
	case err != nil:
		writeError(c, http.StatusInternalServerError,
			fmt.Errorf("Failed to send approval: %w", err),
		)
	default:
		c.JSON(http.StatusOK, api.ApprovalResponse{
			Message:            fmt.Sprintf("Approval event sent to workflow '%s'", id),
			WorkflowInstanceID: id,
			IsApproved:         ev.IsApproved,
			ApprovedBy:         ev.ApprovedBy,
			Timestamp:          ev.ApprovedAt,
		})
	}
}

func (s *Server) pendingApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, api.PendingApprovalsResponse{
		Message: "To approve a waiting workflow, call POST /workflow/approve",
		Usage: map[string]any{
			"workflowInstanceId": "approval-batch-<correlationId>",
			"approvedBy":         "name of the approver",
			"isApproved":         true,
			"comments":           "optional comments",
		},
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	id := api.InstanceID(c.Param("instanceId"))
	st, err := s.engine.GetStatus(c.Request.Context(), id)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeError(c, http.StatusNotFound,
			fmt.Errorf("Workflow instance '%s' not found", id),
		)
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, st)
	}
}
