package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestNewLogger_WritesToProvidedWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Errorf("expected NewLogger's writer to receive output, got nothing")
	}
}

func TestBus_MergesMultipleSources(t *testing.T) {
	bus := NewBus()
	a := bus.NewSource()
	b := bus.NewSource()
	bus.Start()
	defer bus.Close()

	a <- Event{Kind: BlockFinished, LineNum: 1}
	b <- Event{Kind: NotConverged, LineNum: 2}

	seen := map[int]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-bus.Events():
			seen[ev.LineNum] = true
		case <-timeout:
			t.Fatalf("timed out waiting for merged events, got %v", seen)
		}
	}
}

func TestDrain_StopsOnContextCancel(t *testing.T) {
	events := make(chan Event)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Drain(ctx, events, func(Event) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Drain did not return after context cancellation")
	}
}
