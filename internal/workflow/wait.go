package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	// waitTable holds the pending external event waits of every running
	// instance. Each entry is resolved exactly once: whichever of delivery
	// or expiry reaches it first removes it, and the other finds nothing
	waitTable struct {
		mu      sync.Mutex
		pending map[waitKey]*pendingWait
	}

	waitKey struct {
		instanceID api.InstanceID
		eventName  string
	}

	pendingWait struct {
		result chan waitResult
	}

	waitResult struct {
		payload  json.RawMessage
		timedOut bool
	}
)

func newWaitTable() *waitTable {
	return &waitTable{
		pending: map[waitKey]*pendingWait{},
	}
}

func (t *waitTable) add(key waitKey) (*pendingWait, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWaitPending, key.eventName)
	}
	w := &pendingWait{result: make(chan waitResult, 1)}
	t.pending[key] = w
	return w, nil
}

func (t *waitTable) remove(key waitKey, w *pendingWait) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[key] == w {
		delete(t.pending, key)
	}
}

// deliver resolves the pending wait for key with payload, reporting false
// when there is nothing waiting
func (t *waitTable) deliver(key waitKey, payload json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.pending[key]
	if !ok {
		return false
	}
	delete(t.pending, key)
	w.result <- waitResult{payload: payload}
	return true
}

// expire resolves w as timed out if it is still the pending wait for key
func (t *waitTable) expire(key waitKey, w *pendingWait) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[key] != w {
		return false
	}
	delete(t.pending, key)
	w.result <- waitResult{timedOut: true}
	return true
}

func (t *waitTable) isPending(key waitKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}
