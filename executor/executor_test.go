package executor

import (
	"errors"
	"testing"

	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/kinematics"
	"github.com/user-none/motioncore/stepper"
)

func queueSimpleAline(p *block.Pool, length, entry, cruise, exit, jerk float64) int {
	i, ok := p.AcquireWrite()
	if !ok {
		panic("pool full in test setup")
	}
	b := p.At(i)
	b.Aline = block.Aline{
		Target:         [6]float64{length, 0, 0, 0, 0, 0},
		Unit:           [6]float64{1, 0, 0, 0, 0, 0},
		Length:         length,
		Jerk:           jerk,
		EntryVelocity:  entry,
		CruiseVelocity: cruise,
		ExitVelocity:   exit,
	}
	// A simple all-body move: the whole length is a constant-velocity
	// cruise, skipping head/tail partitioning so the test doesn't
	// depend on trapezoid.Plan's degenerate-section handling.
	b.Aline.BodyLength = length
	p.CommitWrite(i, block.MoveAline)
	return i
}

func runToCompletion(t *testing.T, e *Executor) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		status, err := e.ExecMove()
		if err != nil {
			t.Fatalf("ExecMove error: %v", err)
		}
		if status == OK || status == NOOP {
			return
		}
	}
	t.Fatalf("ExecMove did not complete within the iteration budget")
}

func newTestExecutor(p *block.Pool, pulser stepper.Pulser) *Executor {
	stepsPer := axis.Vector{200, 200, 200, 200, 200, 200}
	return New(p, pulser, kinematics.Cartesian{}, stepsPer, DefaultTiming())
}

func TestExecMove_AllBodyMoveReachesEndpoint(t *testing.T) {
	p := block.New(4)
	queueSimpleAline(p, 10, 6000, 6000, 6000, 1_000_000)
	pulser := &stepper.RecordingPulser{}
	e := newTestExecutor(p, pulser)

	runToCompletion(t, e)

	if len(pulser.Batches) == 0 {
		t.Fatalf("expected at least one emitted segment")
	}
	var total axis.Vector
	for _, b := range pulser.Batches {
		// Steps are already scaled by steps-per-unit; reconstruct
		// distance traveled for the X axis only, matching the test
		// move's single-axis unit vector.
		total[axis.X] += float64(b.Steps[axis.X])
	}
	wantSteps := 10.0 * 200
	if diff := total[axis.X] - wantSteps; diff > 3 || diff < -3 {
		t.Errorf("summed emitted steps should reconstruct the endpoint: got %v, want ~%v", total[axis.X], wantSteps)
	}
}

func TestExecMove_NoopOnEmptyPool(t *testing.T) {
	p := block.New(4)
	pulser := &stepper.RecordingPulser{}
	e := newTestExecutor(p, pulser)

	status, err := e.ExecMove()
	if err != nil {
		t.Fatalf("ExecMove on empty pool: unexpected error %v", err)
	}
	if status != NOOP {
		t.Errorf("ExecMove on empty pool: expected NOOP, got %v", status)
	}
	if pulser.Nulls != 1 {
		t.Errorf("expected PrepNull to be called once, got %d", pulser.Nulls)
	}
}

func TestExecMove_DwellEmitsAndFinishes(t *testing.T) {
	p := block.New(4)
	i, _ := p.AcquireWrite()
	p.At(i).Dwell = block.Dwell{Seconds: 1.5}
	p.CommitWrite(i, block.MoveDwell)

	pulser := &stepper.RecordingPulser{}
	e := newTestExecutor(p, pulser)

	var finished int
	e.OnBlockFinished = func(lineNum int) { finished++ }

	status, err := e.ExecMove()
	if err != nil || status != OK {
		t.Fatalf("ExecMove on a dwell block: expected (OK, nil), got (%v, %v)", status, err)
	}
	if len(pulser.Dwells) != 1 || pulser.Dwells[0] != 1.5*1e6 {
		t.Errorf("expected a single 1.5s dwell in microseconds, got %v", pulser.Dwells)
	}
	if finished != 1 {
		t.Errorf("expected OnBlockFinished to fire once, got %d", finished)
	}
}

func TestExecMove_CommandDispatchPropagatesError(t *testing.T) {
	p := block.New(4)
	i, _ := p.AcquireWrite()
	wantErr := errors.New("command dispatch failed")
	p.At(i).Command = block.Command{
		Func: func(intVal int, dblVal float64) error { return wantErr },
	}
	p.CommitWrite(i, block.MoveCommand)

	pulser := &stepper.RecordingPulser{}
	e := newTestExecutor(p, pulser)

	status, err := e.ExecMove()
	if status != Error || err != wantErr {
		t.Errorf("ExecMove on a failing command: expected (Error, %v), got (%v, %v)", wantErr, status, err)
	}
}
