// Package hotkey turns a global key combo into start/stop events using
// gohook. It backs the `listen` command, which reissues the events as the
// same daemon commands any other client would send.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether recording should start or stop.
type EventType int

const (
	// EventStart signals that the hotkey was activated.
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated.
	EventStop
)

// Event is emitted on the Events channel.
type Event struct {
	Type EventType
}

// Listener watches one global key combo and emits start/stop events.
// "hold" mode maps key down/up to start/stop; "toggle" mode alternates
// on each press.
type Listener struct {
	keys []string
	mode string
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given lowercase key names
// (e.g. ["ctrl", "shift", "r"]) and mode ("hold" or "toggle").
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the event channel. It is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start registers the hooks and blocks processing key events until Stop.
// Run it in a goroutine.
func (l *Listener) Start() {
	if l.mode == "toggle" {
		var mu sync.Mutex
		active := false
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
			mu.Lock()
			defer mu.Unlock()
			if active {
				l.emit(EventStop)
			} else {
				l.emit(EventStart)
			}
			active = !active
		})
	} else { // hold
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.emit(EventStart) })
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.emit(EventStop) })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit delivers an event without ever blocking the hook callback.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Stop terminates the listener. Safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
