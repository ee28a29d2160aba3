package events

import (
	"github.com/kelindar/event"
)

// Bus broadcasts status events to any number of subscribers.
// Delivery is asynchronous and per-subscriber ordered.
type Bus struct {
	dispatcher *event.Dispatcher
}

func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish sends ev to every subscriber of its concrete type.
// A nil Bus discards events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case SegmentStartedEvent:
		event.Publish(b.dispatcher, e)
	case SegmentClosedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingWarningEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter,
// e.g. bus.Subscribe(func(e SegmentClosedEvent) { ... }).
// It returns the unsubscribe function; unknown handler types get a no-op.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SegmentStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SegmentClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingWarningEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T into ch, dropping them when
// ch is full.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return event.Subscribe(b.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeAll forwards every event type into ch and returns one function
// that removes all of the subscriptions.
func SubscribeAll(b *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[SessionStateChangedEvent](b, ch),
		SubscribeToChannel[RecordingStateChangedEvent](b, ch),
		SubscribeToChannel[SegmentStartedEvent](b, ch),
		SubscribeToChannel[SegmentClosedEvent](b, ch),
		SubscribeToChannel[RecordingWarningEvent](b, ch),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
