package events

import (
	"github.com/kode4food/timebox"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

// MakeAppliers converts an applier table keyed by history event type into
// the table timebox expects
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	res := map[timebox.EventType]timebox.Applier[T]{}
	for et, fn := range app {
		res[timebox.EventType(et)] = fn
	}
	return res
}

// MakeDispatcher routes hub events to the handler for their type
func MakeDispatcher(
	handlers map[api.EventType]timebox.Handler,
) timebox.Handler {
	res := map[timebox.EventType]timebox.Handler{}
	for et, fn := range handlers {
		res[timebox.EventType(et)] = fn
	}
	return timebox.MakeDispatcher(res)
}

// Raise raises an event through the aggregator
func Raise[T, E any](
	ag *timebox.Aggregator[T], eventType api.EventType, event E,
) error {
	return timebox.Raise(ag, timebox.EventType(eventType), event)
}
