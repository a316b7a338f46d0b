// Package events fans sweep progress out to the terminal printer, metrics and
// any other observer without blocking the sequencer.
package events

import (
	"github.com/OpenTraceLab/ledpulse/pkg/sweep"
	"github.com/kelindar/event"
)

// TypeStream identifies Envelope. It sits above the sweep event types.
const TypeStream uint32 = 100

// Envelope carries every sweep event on one ordered stream. Subscribers of
// a single type never see cross-type ordering; stream subscribers do.
type Envelope struct {
	Event sweep.Event
}

func (Envelope) Type() uint32 { return TypeStream }

// Bus wraps a kelindar/event dispatcher. It implements sweep.Publisher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish queues ev for typed subscribers and for the ordered stream.
func (b *Bus) Publish(ev sweep.Event) {
	switch e := ev.(type) {
	case sweep.SweepStartedEvent:
		event.Publish(b.dispatcher, e)
	case sweep.CountdownEvent:
		event.Publish(b.dispatcher, e)
	case sweep.PulseStartedEvent:
		event.Publish(b.dispatcher, e)
	case sweep.MeasuredEvent:
		event.Publish(b.dispatcher, e)
	case sweep.HoldTickEvent:
		event.Publish(b.dispatcher, e)
	case sweep.PulseOffEvent:
		event.Publish(b.dispatcher, e)
	case sweep.SweepFinishedEvent:
		event.Publish(b.dispatcher, e)
	}
	event.Publish(b.dispatcher, Envelope{Event: ev})
}

// Stream subscribes handler to every event in publish order.
func (b *Bus) Stream(handler func(sweep.Event)) func() {
	return event.Subscribe(b.dispatcher, func(e Envelope) { handler(e.Event) })
}

// Subscribe subscribes a handler to one event type, chosen by the handler's
// parameter type. Unknown handler types get a no-op unsubscribe.
//
//	unsub := bus.Subscribe(func(e sweep.MeasuredEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(sweep.SweepStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.CountdownEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.PulseStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.MeasuredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.HoldTickEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.PulseOffEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(sweep.SweepFinishedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
