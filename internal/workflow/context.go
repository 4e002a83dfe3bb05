package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kfir-abbou/Dapr/internal/workflow/scheduler"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/events"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

// Context is handed to a running workflow body. It is safe for concurrent
// use by the branches of a fan-out
type Context struct {
	engine *Engine
	id     api.InstanceID
	kind   api.WorkflowKind
	input  json.RawMessage

	mu    sync.Mutex
	steps map[string]*api.StepRecord
	waits map[string]*api.WaitRecord
}

var (
	ErrWaitTimeout = errors.New("wait timed out")
	ErrWaitPending = errors.New("wait already pending for event")
)

func newContext(e *Engine, st *api.WorkflowState) *Context {
	return &Context{
		engine: e,
		id:     st.ID,
		kind:   st.Kind,
		input:  st.Input,
		steps:  st.Steps,
		waits:  st.Waits,
	}
}

// ID returns the instance id
func (c *Context) ID() api.InstanceID {
	return c.id
}

// Kind returns the workflow kind
func (c *Context) Kind() api.WorkflowKind {
	return c.kind
}

// Context returns the engine context, cancelled when the engine stops
func (c *Context) Context() context.Context {
	return c.engine.ctx
}

// Now returns the current time from the engine's clock
func (c *Context) Now() time.Time {
	return c.engine.Now()
}

// Input decodes the instance input into v
func (c *Context) Input(v any) error {
	return json.Unmarshal(c.input, v)
}

// CallActivity runs fn once per key over the life of an instance. When the
// history already holds a result for key the recorded result is returned
// and fn is not called
func CallActivity[T any](
	c *Context, key string, fn func(context.Context) (T, error),
) (T, error) {
	var res T
	if rec, ok := c.step(key); ok {
		if err := json.Unmarshal(rec.Result, &res); err != nil {
			return res, fmt.Errorf("replay %s: %w", key, err)
		}
		return res, nil
	}

	res, err := fn(c.engine.ctx)
	if err != nil {
		return res, err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return res, err
	}
	err = c.record(api.EventTypeActivityCompleted,
		api.ActivityCompletedEvent{
			InstanceID: c.id,
			Key:        key,
			Result:     data,
		},
	)
	return res, err
}

// Await is an event wait that has been registered but not yet blocked on.
// Registering before triggering the work that produces the event keeps a
// fast reply from arriving while nothing is waiting
type Await struct {
	ctx  *Context
	name string
	key  waitKey
	due  scheduler.Key
	w    *pendingWait

	payload json.RawMessage
	err     error
	settled bool
}

// ExpectEvent registers a wait for an event named name that expires after
// timeout. A wait already resolved in the history is returned settled
func (c *Context) ExpectEvent(
	name string, timeout time.Duration,
) (*Await, error) {
	a := &Await{ctx: c, name: name}
	rec, _ := c.wait(name)
	if rec != nil {
		switch rec.Status {
		case api.WaitReceived:
			a.payload, a.settled = rec.Payload, true
			return a, nil
		case api.WaitTimedOut:
			a.err, a.settled = ErrWaitTimeout, true
			return a, nil
		}
	}

	e := c.engine
	a.key = waitKey{instanceID: c.id, eventName: name}
	w, err := e.waits.add(a.key)
	if err != nil {
		return nil, err
	}
	a.w = w

	deadline := e.Now().Add(timeout)
	if rec != nil {
		deadline = rec.Deadline
	} else {
		err := c.record(api.EventTypeWaitStarted, api.WaitStartedEvent{
			InstanceID: c.id,
			EventName:  name,
			Deadline:   deadline,
		})
		if err != nil {
			e.waits.remove(a.key, w)
			return nil, err
		}
	}

	a.due = scheduler.Key{Instance: c.id, Event: name}
	e.sched.Schedule(a.due, deadline, func() error {
		e.waits.expire(a.key, w)
		return nil
	})

	slog.Debug("Waiting for event",
		log.InstanceID(c.id),
		log.EventName(name),
		slog.Time("deadline", deadline))
	return a, nil
}

// Result blocks until the event arrives or the wait expires. Expiry
// returns ErrWaitTimeout. The outcome is recorded, so replay resolves the
// same way without waiting again
func (a *Await) Result() (json.RawMessage, error) {
	if a.settled {
		return a.payload, a.err
	}

	c := a.ctx
	e := c.engine
	select {
	case res := <-a.w.result:
		if res.timedOut {
			slog.Info("Wait timed out",
				log.InstanceID(c.id),
				log.EventName(a.name))
			err := c.record(api.EventTypeWaitTimedOut,
				api.WaitTimedOutEvent{InstanceID: c.id, EventName: a.name},
			)
			if err != nil {
				return nil, err
			}
			return nil, ErrWaitTimeout
		}
		e.sched.Cancel(a.due)
		err := c.record(api.EventTypeEventReceived, api.EventReceivedEvent{
			InstanceID: c.id,
			EventName:  a.name,
			Payload:    res.payload,
		})
		if err != nil {
			return nil, err
		}
		return res.payload, nil
	case <-e.ctx.Done():
		e.waits.remove(a.key, a.w)
		return nil, e.ctx.Err()
	}
}

// Cancel withdraws a wait that will not be blocked on
func (a *Await) Cancel() {
	if a.settled {
		return
	}
	e := a.ctx.engine
	e.waits.remove(a.key, a.w)
	e.sched.Cancel(a.due)
}

// WaitForEvent suspends the caller until an event named name is raised on
// this instance or timeout elapses, whichever comes first
func (c *Context) WaitForEvent(
	name string, timeout time.Duration,
) (json.RawMessage, error) {
	a, err := c.ExpectEvent(name, timeout)
	if err != nil {
		return nil, err
	}
	return a.Result()
}

// ResultAs decodes the outcome of a into T
func ResultAs[T any](a *Await) (T, error) {
	var res T
	data, err := a.Result()
	if err != nil {
		return res, err
	}
	if len(data) == 0 {
		return res, nil
	}
	err = json.Unmarshal(data, &res)
	return res, err
}

// WaitForEventAs is WaitForEvent decoding the payload into T
func WaitForEventAs[T any](
	c *Context, name string, timeout time.Duration,
) (T, error) {
	a, err := c.ExpectEvent(name, timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	return ResultAs[T](a)
}

func (c *Context) step(key string) (*api.StepRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.steps[key]
	return rec, ok
}

func (c *Context) wait(name string) (*api.WaitRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.waits[name]
	return rec, ok
}

func (c *Context) record(typ api.EventType, event any) error {
	st, err := c.engine.workflowExec.Exec(c.engine.ctx,
		events.WorkflowKey(c.id),
		func(_ *api.WorkflowState, ag *Aggregator) error {
			return events.Raise(ag, typ, event)
		},
	)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.steps = st.Steps
	c.waits = st.Waits
	c.mu.Unlock()
	return nil
}
