package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/events"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type instance struct {
	done chan struct{}
}

// ErrWorkflowPanic wraps a panic raised by a workflow body
var ErrWorkflowPanic = errors.New("workflow panicked")

func (e *Engine) launch(st *api.WorkflowState) {
	inst := &instance{done: make(chan struct{})}
	if _, loaded := e.instances.LoadOrStore(st.ID, inst); loaded {
		return
	}
	e.wg.Go(func() {
		defer close(inst.done)
		defer e.instances.Delete(st.ID)
		e.runInstance(st)
	})
}

func (e *Engine) runInstance(st *api.WorkflowState) {
	c := newContext(e, st)
	out, err := runSafely(e.runners[st.Kind], c)
	if e.ctx.Err() != nil {
		slog.Info("Workflow suspended",
			log.InstanceID(st.ID))
		return
	}

	if err != nil {
		e.fail(st, err)
	} else {
		e.complete(st, out)
	}

	e.sched.CancelInstance(st.ID)
	if err := e.deactivate(e.ctx, st.ID); err != nil {
		slog.Error("Failed to deactivate workflow",
			log.InstanceID(st.ID),
			log.Error(err))
	}
}

func (e *Engine) complete(st *api.WorkflowState, out any) {
	data, err := json.Marshal(out)
	if err != nil {
		e.fail(st, err)
		return
	}
	_, err = e.workflowExec.Exec(e.ctx, events.WorkflowKey(st.ID),
		func(_ *api.WorkflowState, ag *Aggregator) error {
			return events.Raise(ag, api.EventTypeWorkflowCompleted,
				api.WorkflowCompletedEvent{
					InstanceID: st.ID,
					Kind:       st.Kind,
					Output:     data,
				},
			)
		},
	)
	if err != nil {
		slog.Error("Failed to record workflow completion",
			log.InstanceID(st.ID),
			log.Error(err))
		return
	}
	slog.Info("Workflow completed",
		log.InstanceID(st.ID),
		slog.String("kind", string(st.Kind)))
}

func (e *Engine) fail(st *api.WorkflowState, cause error) {
	_, err := e.workflowExec.Exec(e.ctx, events.WorkflowKey(st.ID),
		func(_ *api.WorkflowState, ag *Aggregator) error {
			return events.Raise(ag, api.EventTypeWorkflowFailed,
				api.WorkflowFailedEvent{
					InstanceID: st.ID,
					Kind:       st.Kind,
					Error:      cause.Error(),
				},
			)
		},
	)
	if err != nil {
		slog.Error("Failed to record workflow failure",
			log.InstanceID(st.ID),
			log.Error(err))
		return
	}
	slog.Warn("Workflow failed",
		log.InstanceID(st.ID),
		slog.String("kind", string(st.Kind)),
		log.ErrorString(cause.Error()))
}

func runSafely(run Runner, c *Context) (out any, err error) {
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, c.kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkflowPanic, r)
		}
	}()
	return run(c)
}
