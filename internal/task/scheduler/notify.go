package scheduler

import (
	"time"

	"simplecron/internal/eventbus"
)

// SignalKind enumerates the lifecycle moments the scheduler announces.
type SignalKind int

const (
	SignalStarted SignalKind = iota + 1
	SignalStopped
	SignalScheduled
	SignalCancelled
	SignalInvoked
)

func (k SignalKind) String() string {
	switch k {
	case SignalStarted:
		return "started"
	case SignalStopped:
		return "stopped"
	case SignalScheduled:
		return "scheduled"
	case SignalCancelled:
		return "cancelled"
	case SignalInvoked:
		return "invoked"
	default:
		return "unknown"
	}
}

// Topic is the eventbus Event.Type used for this kind.
func (k SignalKind) Topic() string { return "scheduler." + k.String() }

// Signal is one lifecycle announcement. JobID is empty for Started/Stopped.
// For Invoked, Due is the occurrence that fired and Err is set when the
// callback panicked.
type Signal struct {
	Kind  SignalKind
	JobID JobID
	At    time.Time
	Due   time.Time
	Err   error
}

// Notifier receives lifecycle signals. Notify must not block.
type Notifier interface {
	Notify(s Signal)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(s Signal)

func (f NotifierFunc) Notify(s Signal) { f(s) }

// BusNotifier publishes signals on bus with Type = Kind.Topic() and the
// Signal as Data. A nil bus yields a no-op notifier.
func BusNotifier(bus eventbus.Bus) Notifier {
	if bus == nil {
		return nopNotifier{}
	}
	return busNotifier{bus: bus}
}

type busNotifier struct{ bus eventbus.Bus }

func (n busNotifier) Notify(s Signal) {
	n.bus.Publish(eventbus.Event{Type: s.Kind.Topic(), Time: s.At, Data: s})
}

type nopNotifier struct{}

func (nopNotifier) Notify(Signal) {}

// SignalFromEvent extracts a Signal published by BusNotifier.
func SignalFromEvent(e eventbus.Event) (Signal, bool) {
	s, ok := e.Data.(Signal)
	return s, ok
}
