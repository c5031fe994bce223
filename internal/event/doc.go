// Package event provides the observer bus used by fleetwatch's supervision
// subsystems.
//
// Each subsystem publishes its own concrete event types (activity, poller
// errors, health snapshots, stuck alerts) and exposes typed OnX(callback)
// methods that return an unsubscribe function. Underneath, all of them share
// this bus.
//
// # Error Isolation
//
// Handlers run synchronously on the publisher's goroutine. A handler that
// panics is recovered and logged through the bus logger; remaining handlers
// for the same event still run and the publisher never sees the panic.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	unsubscribe := bus.SubscribeFunc("health.updated", func(e event.Event) {
//	    // ...
//	})
//	defer unsubscribe()
//
// Use [Typed] to receive only one concrete event type:
//
//	bus.SubscribeAll(event.Typed(func(e stuck.DetectedEvent) { ... }))
package event
