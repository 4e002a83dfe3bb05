package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

// Wrapper wraps testify assertions with orchestrator-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus orchestrator-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// WorkflowStatus asserts the status of a workflow instance
func (w *Wrapper) WorkflowStatus(
	st *api.WorkflowState, expected api.WorkflowStatus,
) {
	w.Helper()
	if w.NotNil(st) {
		w.Equal(expected, st.Status)
	}
}

// StateChanged asserts that a status change request succeeded and left the
// shared status at expected
func (w *Wrapper) StateChanged(res *api.StateChangeResult, expected api.Status) {
	w.Helper()
	if !w.NotNil(res) {
		return
	}
	w.True(res.Success, res.Message)
	w.Equal(expected, res.CurrentState)
}

// StateRejected asserts that a status change request was refused and that
// its message mentions contains
func (w *Wrapper) StateRejected(res *api.StateChangeResult, contains string) {
	w.Helper()
	if !w.NotNil(res) {
		return
	}
	w.False(res.Success)
	if contains != "" {
		w.Contains(res.Message, contains)
	}
}

// BatchResults asserts the branch outcomes of a batch by workflow name
func (w *Wrapper) BatchResults(
	results []*api.WorkflowResultInfo, expected map[string]bool,
) {
	w.Helper()
	w.Len(results, len(expected))
	for _, r := range results {
		success, ok := expected[r.WorkflowName]
		if w.True(ok, "unexpected branch: %s", r.WorkflowName) {
			w.Equal(success, r.Success, "branch %s: %s",
				r.WorkflowName, r.Message)
		}
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.ApprovalTimeout > 0)
	w.True(cfg.RemoteTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it
// succeeds or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
