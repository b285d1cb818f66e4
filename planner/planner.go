// Package planner implements the block-list planner (spec §4.3):
// the backward/forward replanning pass over the run of replannable
// queued blocks, junction-velocity computation, and the committed
// PlannerState singleton (spec §3).
package planner

import (
	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/trapezoid"
)

// State is the planner-owned singleton: the committed planning
// position and a line-index value set by SetPlanLineIndex (spec §3);
// the running line-index counter itself lives in block.Pool. The planner
// is the sole writer; it is not safe for concurrent use without the
// caller's own synchronization (machine.Machine wraps it in a mutex,
// matching spec §5's "foreground runs the planner, cooperative, never
// blocks" model, where "cooperative" means single-goroutine by
// construction rather than lock-free).
type State struct {
	Position  axis.Vector
	LineIndex int
}

// SetPlanPosition performs the coordinate surgery spec §6 calls out
// for e.g. a G92 offset: the planner's committed position is
// overwritten without touching the queue.
func (s *State) SetPlanPosition(pos axis.Vector) { s.Position = pos }

// SetPlanLineIndex stores n in LineIndex, per spec §6. The line
// indexes given to new blocks come from block.Pool's own counter, which
// this does not change.
func (s *State) SetPlanLineIndex(n int) { s.LineIndex = n }

// Config bundles the tunables the replan pass and trapezoid generator
// need (spec §6's configurable parameters, core subset).
type Config struct {
	Junction  JunctionConfig
	Trapezoid trapezoid.Tolerances
}

// Replan runs the backward pass then the forward pass over the
// replannable tail of the queue ending at bf, exactly as spec §4.3
// describes. pool is mutated in place: every replanned block's
// Aline fields are updated, and Replannable is cleared once a block is
// optimally planned. It returns the LineIndex of every block whose
// head/tail iteration (trapezoid.Plan) failed to converge, for callers
// to surface as telemetry (spec §9's Open Question on HT iteration
// non-convergence: motion proceeds on the best computed value, and the
// caller decides how to report the miss rather than Plan itself
// faulting).
//
// Per-block entry/exit velocity ceilings (EntryVmax, ExitVmax,
// DeltaVmax) are computed once, at block-creation time, from the
// junction velocity between consecutive unit vectors (see
// JunctionVelocity) — Replan only consumes those already-computed
// ceilings; it never calls JunctionVelocity itself.
func Replan(pool *block.Pool, bf int, cfg Config) []int {
	start := backwardPass(pool, bf, cfg)
	return forwardPass(pool, start, bf, cfg)
}

// backwardPass walks backward from bf.prev while Replannable holds,
// computing braking_velocity at each stop, and returns the index one
// past the first non-replannable block encountered (i.e. the first
// block the forward pass should touch).
//
// The walk also stops at a block already RUNNING: once the executor
// has claimed a block it must never be rewritten, regardless of its
// Replannable flag. A block merely sitting at the run cursor but still
// QUEUED (the executor hasn't reached it yet) is fair game, so this
// checks State(), not index equality with RunIndex.
func backwardPass(pool *block.Pool, bf int, cfg Config) int {
	// Base case: bf is the queue terminus and always decelerates to
	// zero (forwardPass's tail rule), so the velocity it can itself
	// absorb while still reaching zero is exactly its own jerk-limited
	// stopping capacity, DeltaVmax — the same quantity every other
	// block's BrakingVelocity recursion bottoms out on.
	pool.At(bf).Aline.BrakingVelocity = pool.At(bf).Aline.DeltaVmax

	bp := pool.Prev(bf)
	firstReplanned := bf
	// Walk backward while replannable, computing braking velocities.
	// bp.next is always the block closer to bf (already visited this
	// pass, or bf itself on the first iteration), so its entry_vmax
	// and braking_velocity are already current.
	for pool.At(bp).Replannable && pool.At(bp).State() != block.Running {
		nb := pool.At(pool.Next(bp))
		cur := pool.At(bp)
		cur.Aline.BrakingVelocity = minFloat(nb.Aline.EntryVmax, nb.Aline.BrakingVelocity) + cur.Aline.DeltaVmax
		firstReplanned = bp
		bp = pool.Prev(bp)
	}
	return firstReplanned
}

// forwardPass implements spec §4.3's forward pass from start through
// bf inclusive, returning the LineIndex of every block whose trapezoid
// fit did not converge.
func forwardPass(pool *block.Pool, start, bf int, cfg Config) []int {
	var notConverged []int
	i := start
	first := true
	for {
		cur := pool.At(i)
		if first {
			cur.Aline.EntryVelocity = cur.Aline.EntryVmax
		} else {
			prev := pool.At(pool.Prev(i))
			cur.Aline.EntryVelocity = prev.Aline.ExitVelocity
		}
		cur.Aline.CruiseVelocity = cur.Aline.CruiseVmax

		if i == bf {
			// Queue terminus: the last block always decelerates to
			// zero (spec §4.3 tail rule).
			cur.Aline.ExitVelocity = 0
		} else {
			next := pool.At(pool.Next(i))
			cur.Aline.ExitVelocity = minFloat(
				cur.Aline.ExitVmax,
				minFloat(next.Aline.BrakingVelocity, next.Aline.EntryVmax),
			)
			cur.Aline.ExitVelocity = minFloat(cur.Aline.ExitVelocity, cur.Aline.EntryVelocity+cur.Aline.DeltaVmax)
		}

		res := trapezoid.Plan(trapezoid.Inputs{
			Length:         cur.Aline.Length,
			EntryVelocity:  cur.Aline.EntryVelocity,
			CruiseVelocity: cur.Aline.CruiseVelocity,
			ExitVelocity:   cur.Aline.ExitVelocity,
			CruiseVmax:     cur.Aline.CruiseVmax,
			Jerk:           cur.Aline.Jerk,
		}, cfg.Trapezoid)

		cur.Aline.HeadLength, cur.Aline.BodyLength, cur.Aline.TailLength = res.HeadLength, res.BodyLength, res.TailLength
		cur.Aline.EntryVelocity, cur.Aline.CruiseVelocity, cur.Aline.ExitVelocity = res.EntryVelocity, res.CruiseVelocity, res.ExitVelocity
		if res.Skip {
			cur.MoveState = block.MoveSkip
		}
		if !res.Converged {
			notConverged = append(notConverged, cur.LineIndex)
		}

		// A block is optimally planned — and therefore frozen — once
		// its exit velocity is pinned by one of: its own ceiling, the
		// next block's entry ceiling, or (when the predecessor is
		// already frozen) the jerk-limited delta from entry. Spec
		// §4.3.
		optimal := cur.Aline.ExitVelocity == cur.Aline.ExitVmax
		if i != bf {
			next := pool.At(pool.Next(i))
			optimal = optimal || cur.Aline.ExitVelocity == next.Aline.EntryVmax
		}
		if !first {
			prev := pool.At(pool.Prev(i))
			optimal = optimal || (!prev.Replannable && cur.Aline.ExitVelocity == cur.Aline.EntryVelocity+cur.Aline.DeltaVmax)
		}
		if optimal {
			cur.Replannable = false
		}

		if i == bf {
			break
		}
		i = pool.Next(i)
		first = false
	}
	return notConverged
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
