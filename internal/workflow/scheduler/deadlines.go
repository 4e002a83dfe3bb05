package scheduler

import (
	"container/heap"
	"time"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	// Key names the event wait a deadline belongs to
	Key struct {
		Instance api.InstanceID
		Event    string
	}

	deadline struct {
		key   Key
		at    time.Time
		fire  TaskFunc
		index int
	}

	// deadlineQueue orders deadlines by time and indexes them per instance,
	// holding at most one deadline per Key
	deadlineQueue struct {
		items      []*deadline
		byInstance map[api.InstanceID]map[string]*deadline
	}
)

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{
		byInstance: map[api.InstanceID]map[string]*deadline{},
	}
}

// put adds a deadline for key, moving the existing one if present
func (q *deadlineQueue) put(key Key, at time.Time, fire TaskFunc) {
	if d := q.get(key); d != nil {
		d.at, d.fire = at, fire
		heap.Fix(q, d.index)
		return
	}
	d := &deadline{key: key, at: at, fire: fire}
	events := q.byInstance[key.Instance]
	if events == nil {
		events = map[string]*deadline{}
		q.byInstance[key.Instance] = events
	}
	events[key.Event] = d
	heap.Push(q, d)
}

func (q *deadlineQueue) get(key Key) *deadline {
	return q.byInstance[key.Instance][key.Event]
}

func (q *deadlineQueue) remove(key Key) {
	if d := q.get(key); d != nil {
		q.drop(d)
	}
}

func (q *deadlineQueue) removeInstance(id api.InstanceID) {
	for _, d := range q.byInstance[id] {
		heap.Remove(q, d.index)
	}
	delete(q.byInstance, id)
}

func (q *deadlineQueue) drop(d *deadline) {
	heap.Remove(q, d.index)
	events := q.byInstance[d.key.Instance]
	delete(events, d.key.Event)
	if len(events) == 0 {
		delete(q.byInstance, d.key.Instance)
	}
}

func (q *deadlineQueue) first() *deadline {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *deadlineQueue) Len() int {
	return len(q.items)
}

func (q *deadlineQueue) Less(i, j int) bool {
	return q.items[i].at.Before(q.items[j].at)
}

func (q *deadlineQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *deadlineQueue) Push(x any) {
	d := x.(*deadline)
	d.index = len(q.items)
	q.items = append(q.items, d)
}

func (q *deadlineQueue) Pop() any {
	n := len(q.items) - 1
	d := q.items[n]
	q.items[n] = nil
	q.items = q.items[:n]
	d.index = -1
	return d
}
