// Package feedhold implements the Feedhold Controller (spec §4.5):
// on a hold request, it reshapes the running block plus following
// blocks into a brake-to-zero trajectory, waits at zero, and restarts.
//
// The request/ack handshake (RequestHold and RequestRestart from the
// foreground, ExecutorTick from the executor side, State for polling)
// follows the same polling idiom the
// teacher uses to coordinate its UI goroutine with the dedicated
// emulator goroutine: ui/emuthread_test.go's EmuControl exposes
// RequestPause/RequestResume/CheckPause/IsPaused, a small mutex-guarded
// struct the background goroutine polls once per unit of work and the
// foreground goroutine calls into to request a transition and block
// until it is acknowledged. The feedhold OFF/SYNC/PLAN/DECEL/HOLD
// cycle generalizes that two-state handshake to five.
package feedhold

import (
	"sync"

	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/executor"
	"github.com/user-none/motioncore/planner"
	"github.com/user-none/motioncore/trapezoid"
)

// State is the feedhold state machine's current phase (spec §4.5).
type State int

const (
	Off State = iota
	Sync
	Plan
	Decel
	Hold
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Sync:
		return "SYNC"
	case Plan:
		return "PLAN"
	case Decel:
		return "DECEL"
	case Hold:
		return "HOLD"
	default:
		return "UNKNOWN"
	}
}

// Controller drives the feedhold state machine. It does not own a
// goroutine: ExecutorTick and PlanHoldCallback are called from the
// executor side and the foreground respectively. machine.Machine calls
// ExecutorTick once per finished block, so SYNC->PLAN happens at the
// next block boundary, not after the current segment.
type Controller struct {
	mu    sync.Mutex
	state State

	pool *block.Pool
	ex   *executor.Executor
	cfg  planner.Config

	// OnHold is invoked (outside the lock) when the state reaches
	// HOLD, for status reporting (spec §4.5 "triggers a status
	// report").
	OnHold func()
}

// New constructs a Controller bound to pool/ex, used for the replan.
func New(pool *block.Pool, ex *executor.Executor, cfg planner.Config) *Controller {
	return &Controller{pool: pool, ex: ex, cfg: cfg, state: Off}
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestHold transitions OFF->SYNC if motion is running. It is a
// no-op if a hold is already in progress.
func (c *Controller) RequestHold() {
	running := c.ex.Snapshot().Active
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Off && running {
		c.state = Sync
	}
}

// RequestRestart transitions HOLD->OFF (cycle-start), letting the
// executor resume from the next queued block. It is a no-op unless
// currently in HOLD.
func (c *Controller) RequestRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Hold {
		c.state = Off
	}
}

// ExecutorTick advances SYNC->PLAN and, when the runtime is idle or its
// velocity is at zero, DECEL->HOLD. machine.Machine calls it from the
// executor's OnBlockFinished hook, so it runs once per finished block,
// not once per segment.
func (c *Controller) ExecutorTick() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case Sync:
		c.mu.Lock()
		c.state = Plan
		c.mu.Unlock()
	case Decel:
		snap := c.ex.Snapshot()
		if !snap.Active || snap.Velocity <= minSegmentVelocity {
			c.mu.Lock()
			c.state = Hold
			c.mu.Unlock()
			if c.OnHold != nil {
				c.OnHold()
			}
		}
	}
}

// minSegmentVelocity matches spec §8's "final segment velocity <=
// MIN_SEGMENT_VELOCITY" boundary check for an all-tail exit_velocity=0
// block.
const minSegmentVelocity = 1e-6

// PlanHoldCallback is the main-loop-tick driver spec §6 calls out
// (plan_hold_callback()): when in PLAN, it runs the hold replan and
// transitions to DECEL.
func (c *Controller) PlanHoldCallback() {
	c.mu.Lock()
	if c.state != Plan {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.replan()

	c.mu.Lock()
	c.state = Decel
	c.mu.Unlock()
}

// replan implements spec §4.5's hold replan: compute the braking
// velocity and braking length from the runtime's current state, and
// either convert the running block into an all-tail decel (Case 1) or
// walk forward splitting the decel across queued blocks (Case 2).
//
// Per spec §9's Open Question, the braking velocity used here is the
// velocity at the *start of the next segment*, not the last completed
// one — the source's own comment admits this is a hack to avoid
// braking from a velocity the runtime has already moved past. This
// implementation derives it explicitly from the integration state
// (ex.Snapshot().Velocity, taken after the segment that triggered
// SYNC->PLAN has already been emitted, i.e. it already reflects
// "next segment" by construction) rather than reaching into a stale
// cached field, which is the "prefer an implementation that explicitly
// derives" alternative spec §9 calls for.
func (c *Controller) replan() {
	snap := c.ex.Snapshot()
	if !snap.Active {
		return
	}

	idx := snap.BlockIndex
	b := c.pool.At(idx)
	if b.MoveType != block.MoveAline {
		return
	}

	brakingVelocity := snap.Velocity
	jerk := b.Aline.Jerk
	brakingLength := trapezoid.TargetLength(brakingVelocity, 0, jerk)

	endpoint := axis.Vector(b.Aline.Target)
	mrAvailable := endpoint.Sub(snap.Position).Length()

	if brakingLength <= mrAvailable {
		c.replanCase1(idx, b, brakingVelocity, brakingLength, mrAvailable, snap.Position)
	} else {
		c.replanCase2(idx, brakingVelocity, brakingLength, mrAvailable)
	}

	// Mark all subsequent blocks replannable and rerun the planner
	// tail, per spec §4.5.
	last := c.pool.Last()
	if last >= 0 {
		i := idx
		for {
			c.pool.At(i).Replannable = true
			if i == last {
				break
			}
			i = c.pool.Next(i)
		}
		planner.Replan(c.pool, last, c.cfg)
	}
}

// replanCase1 handles "decel fits within the remaining move length":
// the current block becomes an all-tail deceleration of brakingLength
// ending at zero, with a filler buffer absorbing the remainder.
func (c *Controller) replanCase1(idx int, b *block.Block, brakingVelocity, brakingLength, mrAvailable float64, from axis.Vector) {
	b.Aline.EntryVelocity = brakingVelocity
	b.Aline.CruiseVelocity = brakingVelocity
	b.Aline.ExitVelocity = 0
	b.Aline.HeadLength = 0
	b.Aline.BodyLength = 0
	b.Aline.TailLength = brakingLength

	filler := mrAvailable - brakingLength
	if filler > trapezoid.DefaultTolerances().FitTolerance {
		if fi, ok := c.pool.AcquireWrite(); ok {
			fb := c.pool.At(fi)
			fb.Aline.Target = b.Aline.Target
			fb.Aline.Unit = b.Aline.Unit
			fb.Aline.Length = filler
			fb.Aline.Jerk = b.Aline.Jerk
			fb.Aline.EntryVmax = 0
			fb.Aline.CruiseVmax = 0
			fb.Aline.ExitVmax = 0
			fb.Aline.EntryVelocity, fb.Aline.CruiseVelocity, fb.Aline.ExitVelocity = 0, 0, 0
			fb.Aline.BodyLength = filler
			c.pool.CommitWrite(fi, block.MoveAline)
		}
	}
}

// replanCase2 handles "decel doesn't fit in the remaining length of
// the running block": walk forward through queued blocks, splitting
// the decel across as many as needed until it fits in one, then split
// that block into a terminal decel and a restart-from-zero buffer.
//
// This module renders the walk as a minimum-nonzero-exit replan on the
// running block followed by a forward scan that shortens each queued
// block's exit velocity toward zero until the remaining braking
// distance fits within a single block, which is the same "split the
// decel across as many blocks as needed" behavior spec §4.5 describes,
// expressed without the source's in-place buffer-splitting mechanics
// (this module has no fixed memory layout to splice in place; instead
// it rewrites the run of blocks' velocity ceilings and lets Replan's
// trapezoid pass regenerate head/body/tail for each).
func (c *Controller) replanCase2(idx int, brakingVelocity, brakingLength, mrAvailable float64) {
	minNonzeroExit := minSegmentVelocity
	b := c.pool.At(idx)
	b.Aline.ExitVelocity = minNonzeroExit
	b.Aline.CruiseVelocity = brakingVelocity

	remaining := brakingLength - mrAvailable
	i := c.pool.Next(idx)
	last := c.pool.Last()
	for remaining > 0 {
		nb := c.pool.At(i)
		if nb.MoveType != block.MoveAline {
			break
		}
		fits := trapezoid.TargetLength(nb.Aline.EntryVmax, 0, nb.Aline.Jerk) <= nb.Aline.Length
		if fits || i == last {
			nb.Aline.ExitVelocity = 0
			break
		}
		nb.Aline.ExitVelocity = minNonzeroExit
		remaining -= nb.Aline.Length
		if i == last {
			break
		}
		i = c.pool.Next(i)
	}
}
