package helpers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

// NewBatchInput creates orchestrator input for a correlation id
func NewBatchInput(cid api.CorrelationID) *api.BatchOrchestratorInput {
	return &api.BatchOrchestratorInput{
		CorrelationID: cid,
		RequestedBy:   "test",
		StartedAt:     time.Now(),
	}
}

// NewApproval creates an approval event payload
func NewApproval(by string, approved bool, comments string) *api.ApprovalEvent {
	return &api.ApprovalEvent{
		ApprovedBy: by,
		IsApproved: approved,
		Comments:   comments,
		ApprovedAt: time.Now(),
	}
}

// StaticRunner returns a workflow body that produces out without recording
// any history
func StaticRunner(out any) workflow.Runner {
	return func(*workflow.Context) (any, error) {
		return out, nil
	}
}

// DecodeOutput decodes the output of a finished instance
func DecodeOutput[T any](t *testing.T, st *api.WorkflowState) T {
	t.Helper()
	var res T
	require.NotNil(t, st)
	require.NoError(t, json.Unmarshal(st.Output, &res))
	return res
}

// ScheduleBatch starts a batch orchestrator and waits until its approval
// branch is suspended, so approval events raised afterward are delivered
func (e *TestEnv) ScheduleBatch(
	t *testing.T, ctx context.Context, cid api.CorrelationID,
	timeout time.Duration,
) api.InstanceID {
	t.Helper()
	id := api.BatchInstanceID(cid)
	waiter := e.SubscribeToWaitStarted(id, e.Config.Events.Approval)
	require.NoError(t,
		e.Engine.Schedule(ctx, id, api.KindBatch, NewBatchInput(cid)),
	)
	waiter.Wait(t, ctx, timeout)
	return id
}

// RunWorkflow schedules an instance and waits for it to finish
func (e *TestEnv) RunWorkflow(
	t *testing.T, ctx context.Context, id api.InstanceID,
	kind api.WorkflowKind, input any, timeout time.Duration,
) *api.WorkflowState {
	t.Helper()
	waiter := e.SubscribeToWorkflowStatus(id)
	require.NoError(t, e.Engine.Schedule(ctx, id, kind, input))
	return waiter.Wait(t, ctx, timeout)
}
