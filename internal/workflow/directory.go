package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

var (
	ErrNotFound   = errors.New("workflow instance not found")
	ErrNotRunning = errors.New("workflow instance not running")
)

const completionPollInterval = 250 * time.Millisecond

// GetStatus returns the projected state of an instance. Event-routed
// sub-task ids resolve to their owning orchestrator
func (e *Engine) GetStatus(
	ctx context.Context, id api.InstanceID,
) (*api.WorkflowState, error) {
	return e.resolve(ctx, id)
}

// RaiseEvent delivers an external event to the pending wait of a running
// instance. An instance that exists but has finished yields ErrNotRunning.
// Events nobody is waiting for are dropped
func (e *Engine) RaiseEvent(
	ctx context.Context, id api.InstanceID, name string, payload any,
) error {
	st, err := e.resolve(ctx, id)
	if err != nil {
		return err
	}
	if st.Status != api.WorkflowRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, st.ID, st.Status)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	key := waitKey{instanceID: st.ID, eventName: name}
	if !e.waits.deliver(key, data) {
		slog.Debug("Event dropped, no pending wait",
			log.InstanceID(st.ID),
			log.EventName(name))
		e.observer.EventDropped(name)
		return nil
	}

	slog.Info("Event delivered",
		log.InstanceID(st.ID),
		log.EventName(name))
	return nil
}

// IsWaiting reports whether an instance is currently suspended on name
func (e *Engine) IsWaiting(id api.InstanceID, name string) bool {
	return e.waits.isPending(waitKey{instanceID: id, eventName: name})
}

// WaitForCompletion blocks until the instance reaches a terminal status or
// ctx is done, and returns its final state
func (e *Engine) WaitForCompletion(
	ctx context.Context, id api.InstanceID,
) (*api.WorkflowState, error) {
	if v, ok := e.instances.Load(id); ok {
		select {
		case <-v.(*instance).done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(completionPollInterval)
	defer ticker.Stop()

	for {
		st, err := e.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) resolve(
	ctx context.Context, id api.InstanceID,
) (*api.WorkflowState, error) {
	st, err := e.loadState(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.ID != "" {
		return st, nil
	}

	if owner, ok := api.SubTaskOwner(id); ok {
		st, err = e.loadState(ctx, owner)
		if err != nil {
			return nil, err
		}
		if st.ID != "" {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
