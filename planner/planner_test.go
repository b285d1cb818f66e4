package planner

import (
	"testing"

	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/trapezoid"
)

func queueAline(p *block.Pool, length, cruiseVmax, jerk float64) int {
	i, ok := p.AcquireWrite()
	if !ok {
		panic("pool full in test setup")
	}
	b := p.At(i)
	b.Aline = block.Aline{
		Length:     length,
		Jerk:       jerk,
		CruiseVmax: cruiseVmax,
		EntryVmax:  cruiseVmax,
		ExitVmax:   cruiseVmax,
		DeltaVmax:  trapezoid.TargetVelocity(0, length, jerk),
	}
	p.CommitWrite(i, block.MoveAline)
	return i
}

func TestReplan_SingleBlockDecelsToZero(t *testing.T) {
	p := block.New(4)
	i := queueAline(p, 1000, 100, 1_000_000)
	cfg := Config{Trapezoid: trapezoid.DefaultTolerances()}

	Replan(p, i, cfg)

	b := p.At(i)
	if b.Aline.ExitVelocity != 0 {
		t.Errorf("last block in queue should decelerate to zero: got ExitVelocity=%v", b.Aline.ExitVelocity)
	}
	if b.Aline.EntryVelocity != b.Aline.EntryVmax {
		t.Errorf("first block's entry velocity should be its own ceiling: expected %v, got %v", b.Aline.EntryVmax, b.Aline.EntryVelocity)
	}
}

func TestReplan_TwoBlocksChainVelocity(t *testing.T) {
	p := block.New(4)
	i1 := queueAline(p, 1000, 100, 1_000_000)
	i2 := queueAline(p, 1000, 100, 1_000_000)

	// Simulate a shared corner: cap the junction between the two blocks
	// well below either block's own cruise ceiling.
	p.At(i1).Aline.ExitVmax = 20
	p.At(i2).Aline.EntryVmax = 20

	cfg := Config{Trapezoid: trapezoid.DefaultTolerances()}
	Replan(p, i1, cfg)
	Replan(p, i2, cfg)

	b1, b2 := p.At(i1), p.At(i2)
	if b1.Aline.ExitVelocity > b1.Aline.ExitVmax+1e-9 {
		t.Errorf("first block's exit velocity should respect its own ceiling: got %v, ceiling %v", b1.Aline.ExitVelocity, b1.Aline.ExitVmax)
	}
	if b2.Aline.EntryVelocity != b1.Aline.ExitVelocity {
		t.Errorf("second block's entry velocity should equal the first block's exit velocity: entry=%v exit=%v", b2.Aline.EntryVelocity, b1.Aline.ExitVelocity)
	}
	if b2.Aline.ExitVelocity != 0 {
		t.Errorf("last block in queue should decelerate to zero: got %v", b2.Aline.ExitVelocity)
	}
}

func TestReplan_QueueTerminusStaysReplannable(t *testing.T) {
	// The last block in the queue always decelerates to zero by the
	// tail rule, regardless of its own ExitVmax ceiling — that forced
	// zero doesn't by itself mean the block is "optimally planned", so
	// it should remain open to a future replan if more blocks are
	// appended after it.
	p := block.New(4)
	i := queueAline(p, 1000, 100, 1_000_000)
	cfg := Config{Trapezoid: trapezoid.DefaultTolerances()}

	Replan(p, i, cfg)

	if !p.At(i).Replannable {
		t.Errorf("sole queued block should remain Replannable after its own plan, got Replannable=false")
	}
}

func TestReplan_FreezesBlockPinnedToJunctionCeiling(t *testing.T) {
	p := block.New(4)
	i1 := queueAline(p, 1000, 100, 1_000_000)
	i2 := queueAline(p, 1000, 100, 1_000_000)
	p.At(i1).Aline.ExitVmax = 20
	p.At(i2).Aline.EntryVmax = 20

	cfg := Config{Trapezoid: trapezoid.DefaultTolerances()}
	Replan(p, i2, cfg)

	if p.At(i1).Replannable {
		t.Errorf("a block whose exit velocity is pinned to its own ceiling should be frozen")
	}
}

func TestReplan_ReportsNothingForConvergentPlan(t *testing.T) {
	p := block.New(4)
	// Only checks that Replan's return value threads through cleanly on
	// a convergent case (empty slice, not nil-panic); a non-converged
	// fit is not exercised here.
	i := queueAline(p, 1000, 100, 1_000_000)
	cfg := Config{Trapezoid: trapezoid.DefaultTolerances()}

	got := Replan(p, i, cfg)
	if len(got) != 0 {
		t.Errorf("expected no non-converged blocks for a simple single-block plan, got %v", got)
	}
}
