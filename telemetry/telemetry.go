// Package telemetry provides the structured-logging and event-fan-in
// ambient stack for the planner core: a zerolog.Logger (spec §7) and a
// merged event channel aggregating executor/feedhold/trapezoid events
// for an external reporting layer (spec's "status and queue reporting
// channels" are an external collaborator — this package is the seam
// that feeds them, not the reporter itself).
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog.Logger writing human-readable console
// output to w (pass os.Stdout for interactive use, or any io.Writer
// for capture in tests). This is the structured-logging upgrade of the
// teacher's plain log.Printf call sites (ui/app.go, ui/gameplay.go,
// cmd/standalone/main.go): same call-site intent ("something the
// operator should see"), but with leveled, field-tagged output.
func NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// EventKind discriminates an Event's payload.
type EventKind int

const (
	BlockFinished EventKind = iota
	NotConverged
	FeedholdTransition
	BlockSkipped
)

// Event is one telemetry occurrence, fanned into a single channel for
// an external reporting layer to consume.
type Event struct {
	Kind    EventKind
	LineNum int
	State   string // feedhold state name, when Kind == FeedholdTransition
}

// Bus fans in event producers (executor completions, feedhold state
// transitions, trapezoid non-convergence) into one ordered channel
// using channerics.Merge, the same fan-in primitive
// niceyeti-tabular/server/fastview uses to combine per-view update
// streams into a single client-facing channel.
type Bus struct {
	done    chan struct{}
	sources []chan Event
	merged  <-chan Event
}

// NewBus constructs an event bus with no sources; each producer
// registers its own channel with NewSource.
func NewBus() *Bus {
	return &Bus{done: make(chan struct{})}
}

// NewSource registers a new producer channel; callers send Events to
// the returned channel and must not close it (Close does that).
func (b *Bus) NewSource() chan<- Event {
	ch := make(chan Event, 16)
	b.sources = append(b.sources, ch)
	return ch
}

// Start builds the merged output channel from every registered source.
// Call after all NewSource calls, before any producer sends.
func (b *Bus) Start() {
	ro := make([]<-chan Event, len(b.sources))
	for i, ch := range b.sources {
		ro[i] = channerics.OrDone[Event](b.done, ch)
	}
	b.merged = channerics.Merge[Event](ro)
}

// Events returns the merged, done-guarded event stream.
func (b *Bus) Events() <-chan Event { return b.merged }

// Close stops the bus; producers must stop sending afterward.
func (b *Bus) Close() { close(b.done) }

// Drain consumes Events until ctx is canceled, invoking fn for each.
// Convenience for tests and the CLI demo driver.
func Drain(ctx context.Context, events <-chan Event, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fn(ev)
		}
	}
}
