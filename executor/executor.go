// Package executor implements the Runtime Executor (spec §4.4): the
// single-owner state machine that consumes the head-of-queue block,
// splits it into HEAD/BODY/TAIL sections (each further split into two
// S-curve sub-phases for HEAD and TAIL), integrates velocity via
// forward differences, and emits fixed-time segments to the step
// pulser.
//
// Of the two integration strategies spec §9 allows (forward-difference
// vs. closed-form), this module implements forward-difference: two
// additions per segment, no per-segment sqrt/pow, matching the
// "preferred for per-segment cost" guidance. The closed-form strategy
// is not implemented; both would need to reach bit-identical endpoint
// behavior and carrying two live strategies invites exactly the
// divergence spec §9 warns about ("both must pass the same end-to-end
// displacement tests" — satisfied trivially by only having one).
package executor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/kinematics"
	"github.com/user-none/motioncore/stepper"
)

// Status is exec_move()'s return code (spec §4.4).
type Status int

const (
	NOOP Status = iota
	EAGAIN
	OK
	Error
)

// Timing bundles the segment-timing configuration (spec §6).
type Timing struct {
	EstimatedSegmentMicroseconds float64
	MinimumSegmentMicroseconds   float64
}

// DefaultTiming matches spec §6's nominal values.
func DefaultTiming() Timing {
	return Timing{EstimatedSegmentMicroseconds: 5000, MinimumSegmentMicroseconds: 2500}
}

type section int

const (
	sectionHead section = iota
	sectionBody
	sectionTail
	sectionDone
)

type subPhase int

const (
	phaseConcave subPhase = iota
	phaseConvex
	phaseSingle // BODY has no sub-phase split
)

// State is the executor-owned runtime singleton (spec §3 "mr"):
// current segment position/target, unit vector, per-section lengths
// and velocities copied from the active block, S-curve integration
// variables, and the accumulated-endpoint rounding correction. Every
// field here has exactly one writer, the executor goroutine, but that
// goroutine and any foreground goroutine calling Snapshot still run
// concurrently, so every access — reader and writer alike — goes
// through mu: ExecMove holds it for its entire body except while the
// OnBlockFinished callback runs, Snapshot for the duration of its copy.
type State struct {
	mu sync.Mutex

	blockIndex int
	active     bool

	position axis.Vector
	endpoint axis.Vector
	unit     axis.Vector

	headLength, bodyLength, tailLength float64
	entryV, cruiseV, exitV             float64
	jerk                               float64

	sec   section
	phase subPhase

	segmentsRemaining int
	segmentMoveTime   float64 // minutes
	segmentVelocity   float64
	fd1, fd2          float64

	lineNum int
}

// Snapshot is a scalar-only copy of State safe to read from the
// foreground goroutine (spec §5: "foreground reads it only via getter
// accessors returning scalar snapshots").
type Snapshot struct {
	Position    axis.Vector
	Velocity    float64
	LineNum     int
	Active      bool
	BlockIndex  int
}

// Snapshot returns a consistent scalar-only copy of the runtime state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Position:   s.position,
		Velocity:   s.segmentVelocity,
		LineNum:    s.lineNum,
		Active:     s.active,
		BlockIndex: s.blockIndex,
	}
}

// Executor drives one Block at a time out of pool, emitting segments
// to pulser via transform.
type Executor struct {
	pool      *block.Pool
	pulser    stepper.Pulser
	transform kinematics.Transform
	timing    Timing
	stepsPer  axis.Vector

	state State

	// OnBlockFinished is called (outside any lock) whenever a block
	// completes and is freed, with the block's line number. Used by
	// machine.Machine to drive status reporting and by telemetry.
	OnBlockFinished func(lineNum int)
	// OnNotConverged is never invoked by the Executor, and
	// machine.Machine does not set it; non-converged trapezoid fits are
	// reported by machine.Machine.Aline through its own counter and
	// telemetry event.
	OnNotConverged func(lineNum int)
}

// New constructs an Executor bound to pool, emitting to pulser via
// transform, with stepsPer steps-per-unit scaling per axis.
func New(pool *block.Pool, pulser stepper.Pulser, transform kinematics.Transform, stepsPer axis.Vector, timing Timing) *Executor {
	return &Executor{pool: pool, pulser: pulser, transform: transform, stepsPer: stepsPer, timing: timing}
}

// Snapshot exposes the runtime state snapshot to the foreground.
func (e *Executor) Snapshot() Snapshot { return e.state.Snapshot() }

// Run drives ExecMove once per tick until ctx is canceled, the
// Go-idiomatic rendering of "invoked from a low-priority timer
// interrupt whenever the step pulser requests the next segment"
// (spec §4.4) — on real hardware this loop doesn't exist and ExecMove
// is called directly from the interrupt; Run exists so a software
// build (tests, the CLI demo) has an equivalent background goroutine.
func (e *Executor) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			e.ExecMove()
		}
	}
}

// ExecMove runs exactly one segment and returns (spec §4.4). Holds
// s.mu for its entire body: every writer-side mutation of State (here,
// and in the initAline/runSegment/advancePhase/finishBlock helpers it
// calls) happens under this one lock, matching Snapshot's reader-side
// locking so the foreground never observes a torn State. The one
// exception is the OnBlockFinished callback, which notifyFinished runs
// with the lock released once the finished block's state is settled.
func (e *Executor) ExecMove() (Status, error) {
	s := &e.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		idx, ok := e.pool.AcquireRun()
		if !ok {
			e.pulser.PrepNull()
			return NOOP, nil
		}
		b := e.pool.At(idx)
		switch b.MoveType {
		case block.MoveNone:
			e.pulser.PrepNull()
			e.pool.FreeRun()
			return OK, nil
		case block.MoveDwell:
			e.pulser.PrepDwell(b.Dwell.Seconds * 1e6)
			lineNum := b.LineIndex
			e.pool.FreeRun()
			e.notifyFinished(lineNum)
			return OK, nil
		case block.MoveCommand:
			var err error
			if b.Command.Func != nil {
				err = b.Command.Func(b.Command.IntVal, b.Command.DblVal)
			}
			lineNum := b.LineIndex
			e.pool.FreeRun()
			e.notifyFinished(lineNum)
			if err != nil {
				return Error, err
			}
			return OK, nil
		case block.MoveAline:
			e.initAline(idx, b)
		default:
			return Error, errInternalNoDispatch
		}
	}

	return e.runSegment()
}

func (e *Executor) initAline(idx int, b *block.Block) {
	s := &e.state
	s.blockIndex = idx
	s.active = true
	s.endpoint = axis.Vector(b.Aline.Target)
	s.unit = axis.Vector(b.Aline.Unit)
	// The block stores its absolute endpoint and unit direction but
	// not its start position; recover it as endpoint - unit*length,
	// which is exact because Target was constructed as start +
	// unit*length when the block was queued.
	s.position = s.endpoint.Sub(s.unit.Scale(b.Aline.Length))
	s.headLength, s.bodyLength, s.tailLength = b.Aline.HeadLength, b.Aline.BodyLength, b.Aline.TailLength
	s.entryV, s.cruiseV, s.exitV = b.Aline.EntryVelocity, b.Aline.CruiseVelocity, b.Aline.ExitVelocity
	s.jerk = b.Aline.Jerk
	s.lineNum = b.LineIndex
	s.sec = firstNonEmptySection(s)
	e.beginSection(s)
}

func firstNonEmptySection(s *State) section {
	switch {
	case s.headLength > 0:
		return sectionHead
	case s.bodyLength > 0:
		return sectionBody
	case s.tailLength > 0:
		return sectionTail
	default:
		return sectionDone
	}
}

func nextSection(sec section) section {
	switch sec {
	case sectionHead:
		return sectionBody
	case sectionBody:
		return sectionTail
	default:
		return sectionDone
	}
}

func (s *State) sectionLength() float64 {
	switch s.sec {
	case sectionHead:
		return s.headLength
	case sectionBody:
		return s.bodyLength
	case sectionTail:
		return s.tailLength
	}
	return 0
}

// beginSection sets up segmentation for the current section, skipping
// forward over empty sections, and leaves s ready for runSegment.
func (e *Executor) beginSection(s *State) {
	for s.sec != sectionDone && s.sectionLength() <= 0 {
		s.sec = nextSection(s.sec)
	}
	if s.sec == sectionDone {
		return
	}
	if s.sec == sectionBody {
		s.phase = phaseSingle
		e.beginPhase(s)
		return
	}
	s.phase = phaseConcave
	if s.sec == sectionTail {
		s.phase = phaseConvex
	}
	e.beginPhase(s)
}

// beginPhase computes segments/segment_move_time/fd1/fd2 for the
// current (section, phase) pair, per spec §4.4's segmentation rules.
// On an under-minimum segment time it skips the current phase without
// emitting (spec §7 GCODE_BLOCK_SKIPPED): skipPhase advances position
// by the phase's length and moves on to the next phase or section.
func (e *Executor) beginPhase(s *State) {
	length := s.sectionLength()
	var t0, t2 float64
	var halves int // 1 for body, 2 for head/tail
	var midpointVelocity float64

	switch s.sec {
	case sectionBody:
		midpointVelocity = s.cruiseV
		halves = 1
		t0, t2 = s.cruiseV, s.cruiseV
	case sectionHead:
		mid := (s.entryV + s.cruiseV) / 2
		midpointVelocity = mid
		halves = 2
		if s.phase == phaseConcave {
			t0, t2 = s.entryV, mid
		} else {
			t0, t2 = mid, s.cruiseV
		}
	case sectionTail:
		mid := (s.cruiseV + s.exitV) / 2
		midpointVelocity = mid
		halves = 2
		if s.phase == phaseConvex {
			t0, t2 = s.cruiseV, mid
		} else {
			t0, t2 = mid, s.exitV
		}
	}

	halfLength := length
	if halves == 2 {
		halfLength = length / 2
	}

	if midpointVelocity <= 0 {
		midpointVelocity = math.Max(s.entryV, math.Max(s.cruiseV, s.exitV))
	}
	if midpointVelocity <= 0 {
		// Degenerate zero-velocity phase: nothing to integrate: the
		// phase contributes no displacement, so advance position by
		// zero and move on.
		e.skipPhase(s, 0)
		return
	}

	moveTimeMinutes := halfLength / midpointVelocity
	moveTimeMicros := moveTimeMinutes * 60 * 1e6

	denom := e.timing.EstimatedSegmentMicroseconds
	if halves == 2 {
		denom *= 2
	}
	segments := int(math.Ceil(moveTimeMicros / denom))
	if segments < 1 {
		segments = 1
	}

	segMoveTime := moveTimeMinutes / float64(segments)

	if segMoveTime*60*1e6 < e.timing.MinimumSegmentMicroseconds {
		// Phase too short to emit even one real segment: skip it,
		// advancing position by its length without emitting (spec §7
		// GCODE_BLOCK_SKIPPED).
		e.skipPhase(s, halfLength)
		return
	}

	h := 1.0 / float64(segments)
	var t1 float64
	if s.sec == sectionHead && s.phase == phaseConcave {
		t1 = t0
	} else if s.sec == sectionTail && s.phase == phaseConcave {
		t1 = t0
	} else {
		t1 = t2
	}
	a := t0 - 2*t1 + t2
	s.fd1 = a * h * h
	s.fd2 = 2 * a * h * h
	s.segmentVelocity = t0
	s.segmentMoveTime = segMoveTime
	s.segmentsRemaining = segments
}

// runSegment emits exactly one forward-difference segment and advances
// position, returning EAGAIN while more work remains on this block or
// OK once the block finishes (spec §4.4).
func (e *Executor) runSegment() (Status, error) {
	s := &e.state

	if s.sec == sectionDone {
		return e.finishBlock()
	}

	intermediate := s.segmentVelocity * s.segmentMoveTime
	target := s.position.Add(s.unit.Scale(intermediate))

	lastSegmentOfBlock := s.segmentsRemaining == 1 && isLastSection(s.sec, s) && isLastPhase(s)
	if lastSegmentOfBlock {
		// Rounding-correction property (spec §8): the final segment of
		// the last section snaps exactly to the commanded endpoint,
		// canceling accumulated floating-point drift.
		target = s.endpoint
	}

	travel := target.Sub(s.position)
	steps := e.transform.StepsFor(travel, e.stepsPerUnitVector())
	if err := e.pulser.PrepLine(steps, s.segmentMoveTime*60*1e6); err != nil {
		return Error, err
	}
	s.position = target

	s.segmentVelocity += s.fd1
	s.fd1 += s.fd2
	s.segmentsRemaining--

	if s.segmentsRemaining <= 0 {
		e.advancePhase(s)
	}

	if s.sec == sectionDone {
		return e.finishBlock()
	}
	return EAGAIN, nil
}

func (e *Executor) stepsPerUnitVector() axis.Vector { return e.stepsPer }

func isLastSection(sec section, s *State) bool {
	switch sec {
	case sectionTail:
		return true
	case sectionBody:
		return s.tailLength <= 0
	case sectionHead:
		return s.bodyLength <= 0 && s.tailLength <= 0
	}
	return false
}

func isLastPhase(s *State) bool {
	if s.sec == sectionBody {
		return true
	}
	return s.phase == phaseConvex && s.sec == sectionHead || s.phase == phaseConcave && s.sec == sectionTail
}

// advancePhase moves HEAD from concave to convex (or TAIL from convex
// to concave), negating fd2 at the half-boundary per spec §4.4, and
// otherwise advances to the next section.
func (e *Executor) advancePhase(s *State) {
	if s.sec == sectionHead && s.phase == phaseConcave {
		s.phase = phaseConvex
		s.fd2 = -s.fd2
		e.beginPhase(s)
		return
	}
	if s.sec == sectionTail && s.phase == phaseConvex {
		s.phase = phaseConcave
		s.fd2 = -s.fd2
		e.beginPhase(s)
		return
	}
	s.sec = nextSection(s.sec)
	e.beginSection(s)
}

// skipPhase advances position by length along the unit vector without
// emitting a segment (spec §7 GCODE_BLOCK_SKIPPED), then transitions to
// the next phase/section using the same state transitions advancePhase
// uses after a normal segment run.
func (e *Executor) skipPhase(s *State, length float64) {
	if length > 0 {
		s.position = s.position.Add(s.unit.Scale(length))
	}
	wasLastOfBlock := isLastSection(s.sec, s) && isLastPhase(s)
	e.advancePhase(s)
	if wasLastOfBlock && s.sec == sectionDone {
		// The skipped phase was the block's last: snap to the
		// commanded endpoint exactly, same rounding-correction
		// guarantee runSegment gives the non-skipped path.
		s.position = s.endpoint
	}
}

func (e *Executor) finishBlock() (Status, error) {
	s := &e.state
	lineNum := s.lineNum
	s.active = false
	e.pool.FreeRun()
	e.notifyFinished(lineNum)
	return OK, nil
}

// notifyFinished runs OnBlockFinished with s.mu released, so the
// callback may call Snapshot. Every caller holds s.mu and returns right
// after this call.
func (e *Executor) notifyFinished(lineNum int) {
	if e.OnBlockFinished != nil {
		e.state.mu.Unlock()
		defer e.state.mu.Lock()
		e.OnBlockFinished(lineNum)
	}
}

// errInternalNoDispatch is returned when a RUNNING block has no
// dispatch callback (spec §7 INTERNAL_ERROR).
var errInternalNoDispatch = internalError("executor: no dispatch callback on running block")

type internalError string

func (e internalError) Error() string { return string(e) }
