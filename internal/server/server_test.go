package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/assert/helpers"
	"github.com/kfir-abbou/Dapr/internal/server"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type testServerEnv struct {
	Server *server.Server
	*helpers.TestEnv
}

const testTimeout = 5 * time.Second

func TestGetState(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/state", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var st api.SystemState
		decodeBody(t, w, &st)
		assert.Equal(t, api.StatusIdle, st.Status)
	})
}

func TestGetTransitions(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/state/transitions", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.TransitionsResponse
		decodeBody(t, w, &res)
		assert.Equal(t, api.StatusIdle, res.CurrentState)
		assert.Equal(t,
			[]api.Status{api.StatusSetup, api.StatusError},
			res.AllowedTransitions,
		)
	})
}

func TestChangeState(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/state", &api.SetStateRequest{
			Status: "Setup",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.StateChangeResult
		decodeBody(t, w, &res)
		assert.True(t, res.Success)
		assert.Equal(t, api.StatusSetup, res.CurrentState)
		assert.Equal(t, api.StatusIdle, res.PreviousState)
	})
}

func TestChangeStateIllegal(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/state", &api.SetStateRequest{
			Status: "running",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var res api.StateChangeResult
		decodeBody(t, w, &res)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "Invalid transition")

		st, err := env.Machine.GetCurrent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, api.StatusIdle, st.Status)
	})
}

func TestChangeStateUnknown(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/state", &api.SetStateRequest{
			Status: "bogus",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var res api.StateChangeResult
		decodeBody(t, w, &res)
		assert.False(t, res.Success)
	})
}

func TestChangeStateInvalidJSON(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		req := httptest.NewRequest(
			"POST", "/state", bytes.NewReader([]byte("not-json")),
		)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		router := env.Server.SetupRoutes()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var res api.ErrorResponse
		decodeBody(t, w, &res)
		assert.Contains(t, res.Error, "invalid JSON")
	})
}

func TestForceState(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/state/force", &api.SetStateRequest{
			Status: "procedure",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.StateChangeResult
		decodeBody(t, w, &res)
		assert.True(t, res.Success)
		assert.Equal(t, api.StatusProcedure, res.CurrentState)

		w = env.do(t, "POST", "/state/force", &api.SetStateRequest{
			Status: "nowhere",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStartBatch(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		sub, err := env.Bus.Subscribe(env.Config.Topics.BatchRequest)
		require.NoError(t, err)
		defer sub.Close()

		w := env.do(t, "POST", "/batch/start", &api.TriggerBatchRequest{
			Parameters: map[string]any{"size": 10},
		})

		assert.Equal(t, http.StatusAccepted, w.Code)
		var res api.BatchStartedResponse
		decodeBody(t, w, &res)
		require.NotEmpty(t, res.CorrelationID)
		assert.NotContains(t, string(res.CorrelationID), "-")
		assert.Equal(t, api.BatchInstanceID(res.CorrelationID), res.InstanceID)
		assert.Contains(t, res.ApprovalHint, "approval-batch-")

		select {
		case msg := <-sub.Receive():
			var req api.BatchProcessRequest
			require.NoError(t, msg.Decode(&req))
			assert.Equal(t, res.CorrelationID, req.CorrelationID)
			assert.Equal(t, "API", req.RequestedBy)
			assert.EqualValues(t, 10, req.Parameters["size"])
		case <-time.After(testTimeout):
			t.Fatal("batch request not published")
		}
	})
}

func TestStartBatchEmptyBody(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		req := httptest.NewRequest("POST", "/batch/start", nil)
		w := httptest.NewRecorder()

		router := env.Server.SetupRoutes()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestStartBatchPublishFailure(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		env.Bus.Close()

		w := env.do(t, "POST", "/batch/start", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var res api.ErrorResponse
		decodeBody(t, w, &res)
		assert.Contains(t, res.Error, "error publishing request")
	})
}

func TestBatchStatus(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/batch/status/abc123", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.BatchStatusResponse
		decodeBody(t, w, &res)
		assert.Equal(t, api.BatchStatusPending, res.Status)
		assert.Nil(t, res.Success)

		require.NoError(t, env.Store.SaveBatchResult(context.Background(),
			&api.BatchResult{
				CorrelationID: "abc123",
				Success:       true,
				Message:       "All workflows completed successfully",
				WorkflowResults: []*api.WorkflowResultInfo{
					{WorkflowName: "Validation", Success: true},
				},
				CompletedAt: time.Now(),
			},
		))

		w = env.do(t, "GET", "/batch/status/abc123", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		decodeBody(t, w, &res)
		assert.Equal(t, api.BatchStatusCompleted, res.Status)
		require.NotNil(t, res.Success)
		assert.True(t, *res.Success)
		assert.Len(t, res.Results, 1)
	})
}

func TestApproveNotFound(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/workflow/approve",
			&api.TriggerApprovalRequest{
				WorkflowInstanceID: "approval-batch-missing",
				ApprovedBy:         "admin",
			},
		)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var res api.ErrorResponse
		decodeBody(t, w, &res)
		assert.Equal(t,
			"Workflow instance 'approval-batch-missing' not found", res.Error,
		)
	})
}

func TestApproveMissingInstance(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "POST", "/workflow/approve",
			&api.TriggerApprovalRequest{ApprovedBy: "admin"},
		)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestApproveNotRunning(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ctx := context.Background()
		st := env.RunWorkflow(t, ctx, "setup-done", api.KindSetup, nil,
			testTimeout,
		)
		require.Equal(t, api.WorkflowCompleted, st.Status)

		w := env.do(t, "POST", "/workflow/approve",
			&api.TriggerApprovalRequest{
				WorkflowInstanceID: "setup-done",
				ApprovedBy:         "admin",
			},
		)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var res api.ErrorResponse
		decodeBody(t, w, &res)
		assert.Contains(t, res.Error, "is not running")
	})
}

func TestApproveWaitingBatch(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ctx := context.Background()
		id := env.ScheduleBatch(t, ctx, "approve1", testTimeout)
		done := env.SubscribeToWorkflowStatus(id)

		approved := false
		w := env.do(t, "POST", "/workflow/approve",
			&api.TriggerApprovalRequest{
				WorkflowInstanceID: api.SubTaskID(api.SubTaskApproval, id),
				ApprovedBy:         "admin",
				IsApproved:         &approved,
				Comments:           "not today",
			},
		)

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.ApprovalResponse
		decodeBody(t, w, &res)
		assert.False(t, res.IsApproved)
		assert.Equal(t, "admin", res.ApprovedBy)
		assert.Contains(t, res.Message, "Approval event sent")

		st := done.Wait(t, ctx, testTimeout)
		out := helpers.DecodeOutput[api.BatchOrchestratorOutput](t, st)
		assert.False(t, out.Success)
	})
}

func TestPendingApprovals(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/workflow/pending-approvals", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var res api.PendingApprovalsResponse
		decodeBody(t, w, &res)
		assert.Contains(t, res.Message, "POST /workflow/approve")
		assert.Contains(t, res.Usage, "workflowInstanceId")
	})
}

func TestGetWorkflow(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ctx := context.Background()
		env.RunWorkflow(t, ctx, "setup-get", api.KindSetup, nil, testTimeout)

		w := env.do(t, "GET", "/workflow/setup-get", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var st api.WorkflowState
		decodeBody(t, w, &st)
		assert.Equal(t, api.InstanceID("setup-get"), st.ID)
		assert.Equal(t, api.WorkflowCompleted, st.Status)
	})
}

func TestGetWorkflowNotFound(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/workflow/nope", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var res api.ErrorResponse
		decodeBody(t, w, &res)
		assert.Equal(t, "Workflow instance 'nope' not found", res.Error)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		env.Metrics.EventDropped("ApprovalReceived")

		w := env.do(t, "GET", "/metrics", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "orchestrator_events_dropped_total")
	})
}

func TestCORSOptions(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "OPTIONS", "/state", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestWebSocketEndpoint(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		w := env.do(t, "GET", "/workflow/ws", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func (e *testServerEnv) do(
	t *testing.T, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()

	router := e.Server.SetupRoutes()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func withTestServerEnv(t *testing.T, fn func(*testServerEnv)) {
	t.Helper()
	helpers.WithStartedEnv(t, func(env *helpers.TestEnv) {
		fn(&testServerEnv{
			Server:  newServer(env),
			TestEnv: env,
		})
	})
}

func newServer(env *helpers.TestEnv) *server.Server {
	return server.NewServer(env.Config, server.Dependencies{
		Machine: env.Machine,
		Engine:  env.Engine,
		Store:   env.Store,
		Bus:     env.Bus,
		Metrics: env.Metrics.Handler(),
	})
}
