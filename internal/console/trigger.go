// Package console turns operator input into the start and quit events that
// gate playback. Triggers are polled, never waited on, so the scheduler
// decides how often to look.
package console

import (
	"context"
	"sync"
)

// Event is what a Trigger reports on a single poll.
type Event int

const (
	None Event = iota
	Start
	Quit
)

func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Start:
		return "start"
	case Quit:
		return "quit"
	}
	return "unknown"
}

// Trigger reports pending operator input. Poll must not block.
type Trigger interface {
	Poll() Event
}

// TriggerFunc adapts a function to a Trigger.
type TriggerFunc func() Event

func (f TriggerFunc) Poll() Event { return f() }

// Immediate returns a Trigger that reports Start on its first poll and None
// afterwards. It lets unattended runs skip the start keystroke.
func Immediate() Trigger {
	var once sync.Once
	return TriggerFunc(func() Event {
		ev := None
		once.Do(func() { ev = Start })
		return ev
	})
}

// ContextTrigger reports Quit once ctx is done.
func ContextTrigger(ctx context.Context) Trigger {
	return TriggerFunc(func() Event {
		if ctx.Err() != nil {
			return Quit
		}
		return None
	})
}

// MultiTrigger polls every trigger on each Poll. Quit from any of them wins
// over Start.
type MultiTrigger []Trigger

func (m MultiTrigger) Poll() Event {
	ev := None
	for _, t := range m {
		if t == nil {
			continue
		}
		switch t.Poll() {
		case Quit:
			ev = Quit
		case Start:
			if ev == None {
				ev = Start
			}
		}
	}
	return ev
}
