package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

const batchRequestedBy = "API"

var ErrPublishRequest = errors.New("error publishing request")

func (s *Server) startBatch(c *gin.Context) {
	var req api.TriggerBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}

	cid := s.newCID()
	msg := &api.BatchProcessRequest{
		CorrelationID: cid,
		RequestedBy:   batchRequestedBy,
		RequestedAt:   time.Now(),
		Parameters:    req.Parameters,
	}

	err := s.bus.Publish(c.Request.Context(), s.config.Topics.BatchRequest, msg)
	if err != nil {
		writeError(c, http.StatusInternalServerError,
			fmt.Errorf("%w: %w", ErrPublishRequest, err),
		)
		return
	}

	id := api.BatchInstanceID(cid)
	slog.Info("Batch requested",
		log.CorrelationID(cid),
		log.InstanceID(id))

	c.JSON(http.StatusAccepted, api.BatchStartedResponse{
		Message:       "Batch processing request published to message queue",
		CorrelationID: cid,
		InstanceID:    id,
		ApprovalHint: fmt.Sprintf(
			"Approve with POST /workflow/approve using workflowInstanceId %q",
			api.SubTaskID(api.SubTaskApproval, id),
		),
	})
}

func (s *Server) getBatchStatus(c *gin.Context) {
	cid := api.CorrelationID(c.Param("correlationId"))
	res, err := s.store.GetBatchResult(c.Request.Context(), cid)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, api.NewBatchStatus(cid, res))
}
