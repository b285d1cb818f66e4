// Package trapezoid implements the per-block S-curve partition (spec
// §4.2): given entry/cruise/exit velocities, a length, and jerk, it
// splits the block's length into head/body/tail sections — possibly
// lowering cruise or entry/exit velocity to make the move fit.
//
// The algorithm, minimum-length formulas, and iteration order follow
// spec.md §4.2 exactly; reordering any of the steps changes which
// velocity gets degraded on a too-short move and must not be done.
package trapezoid

import "math"

// Tolerances bundles the tunables spec §6 calls out as global
// configuration for this component.
type Tolerances struct {
	MinSegmentTime     float64 // minutes; floor under every section
	FitTolerance       float64 // length units
	VelocityTolerance  float64 // velocity units
	IterationMax       int
	IterationErrorFrac float64 // e.g. 0.01 for 1%
}

// DefaultTolerances mirrors the nominal values spec §6 cites for
// estimated/minimum segment microseconds translated to minutes-based
// section-length floors, and the HT iteration bounds from spec §4.2.
func DefaultTolerances() Tolerances {
	return Tolerances{
		MinSegmentTime:     2500.0 / 1e6 / 60.0, // 2500us floor, expressed in minutes
		FitTolerance:       1e-6,
		VelocityTolerance:  1e-3,
		IterationMax:       10,
		IterationErrorFrac: 0.01,
	}
}

// Inputs is the set of fields trapezoid.Plan reads from a block. It is
// deliberately decoupled from block.Aline so this package has no
// import-cycle dependency on block; the planner copies fields in and
// results out.
type Inputs struct {
	Length         float64
	EntryVelocity  float64
	CruiseVelocity float64
	ExitVelocity   float64
	CruiseVmax     float64
	Jerk           float64
}

// Result is the computed partition plus the (possibly degraded)
// velocities.
type Result struct {
	HeadLength float64
	BodyLength float64
	TailLength float64

	EntryVelocity  float64
	CruiseVelocity float64
	ExitVelocity   float64

	Skip bool // move_state = SKIP: section too short to emit

	// Converged is false when the asymmetric head/tail iteration hit
	// IterationMax without meeting IterationErrorFrac. Plan still
	// returns its best computed value (spec §9: motion must never
	// fault on a numerical near-miss) — callers should count this via
	// telemetry, not treat it as an error.
	Converged bool
}

// TargetLength is the distance required to change velocity from v1 to
// v2 under jerk jm: |v1-v2| * sqrt(|v1-v2|/jm). This is the
// velocity-linear formulation spec §4.2 calls out as one of two valid
// forms; the planner's delta_vmax and the feedhold's braking_length
// both use this same formulation so the replan never oscillates
// between the two (spec §9).
func TargetLength(v1, v2, jm float64) float64 {
	dv := math.Abs(v1 - v2)
	if dv == 0 || jm <= 0 {
		return 0
	}
	return dv * math.Sqrt(dv/jm)
}

// TargetVelocity is the velocity reached starting at v1 over distance L
// under jerk jm: L^(2/3) * jm^(1/3) + v1.
func TargetVelocity(v1, length, jm float64) float64 {
	if length <= 0 || jm <= 0 {
		return v1
	}
	return math.Cbrt(length*length)*math.Cbrt(jm) + v1
}

func minHead(cruise, entry, minSegTime float64) float64 {
	return minSegTime * (cruise + entry)
}

func minTail(cruise, exit, minSegTime float64) float64 {
	return minSegTime * (cruise + exit)
}

func minBody(cruise, minSegTime float64) float64 {
	return minSegTime * cruise
}

// Plan partitions in.Length into head/body/tail under jerk in.Jerk,
// following spec §4.2's algorithm. Precondition (caller's
// responsibility, matching spec): in.EntryVelocity <=
// in.CruiseVelocity >= in.ExitVelocity.
func Plan(in Inputs, tol Tolerances) Result {
	entry, cruise, exit := in.EntryVelocity, in.CruiseVelocity, in.ExitVelocity
	length := in.Length
	jm := in.Jerk

	minBodyLen := minBody(cruise, tol.MinSegmentTime)

	minimumLength := TargetLength(entry, exit, jm)
	if length <= minimumLength+minBodyLen {
		return planShort(in, tol, minimumLength)
	}

	headLen := TargetLength(entry, cruise, jm)
	if headLen < minHead(cruise, entry, tol.MinSegmentTime) {
		headLen = 0
	}
	tailLen := TargetLength(exit, cruise, jm)
	if tailLen < minTail(cruise, exit, tol.MinSegmentTime) {
		tailLen = 0
	}

	if headLen+tailLen > length {
		return planRateLimited(in, tol, headLen, tailLen)
	}

	return planRequestedFit(in, tol, headLen, tailLen)
}

// planShort handles spec §4.2 step 1: length too short to reach
// cruise at all — tail-dominated, head-dominated, or symmetric.
func planShort(in Inputs, tol Tolerances, minimumLength float64) Result {
	entry, cruise, exit := in.EntryVelocity, in.CruiseVelocity, in.ExitVelocity
	length, jm := in.Length, in.Jerk

	r := Result{Converged: true}

	switch {
	case entry > exit:
		if length < minimumLength-tol.FitTolerance {
			entry = TargetVelocity(exit, length, jm)
		}
		cruise = entry
		r.EntryVelocity, r.CruiseVelocity, r.ExitVelocity = entry, cruise, exit
		assignShort(&r, length, cruise, exit, tol, true)
	case entry < exit:
		if length < minimumLength-tol.FitTolerance {
			exit = TargetVelocity(entry, length, jm)
		}
		cruise = exit
		r.EntryVelocity, r.CruiseVelocity, r.ExitVelocity = entry, cruise, exit
		assignShort(&r, length, cruise, entry, tol, false)
	default:
		// entry == exit: symmetric, no partition possible beyond a
		// single section; treat like tail-dominated with zero delta.
		r.EntryVelocity, r.CruiseVelocity, r.ExitVelocity = entry, entry, exit
		assignShort(&r, length, entry, exit, tol, true)
	}
	return r
}

// assignShort implements the "assign all to tail / body / skip"
// decision from spec §4.2 step 1, parameterized over which side
// dominates (tailDominant picks MIN_TAIL_LENGTH vs MIN_HEAD_LENGTH as
// the larger-section floor; both use the same cruise/other velocity
// pair so a single helper covers both halves of the symmetric rule).
func assignShort(r *Result, length, cruise, other float64, tol Tolerances, tailDominant bool) {
	mb := minBody(cruise, tol.MinSegmentTime)
	var ms float64
	if tailDominant {
		ms = minTail(cruise, other, tol.MinSegmentTime)
	} else {
		ms = minHead(cruise, other, tol.MinSegmentTime)
	}
	switch {
	case length >= ms:
		if tailDominant {
			r.TailLength = length
		} else {
			r.HeadLength = length
		}
	case length > mb:
		r.BodyLength = length
	default:
		r.Skip = true
	}
}

// planRateLimited implements spec §4.2 step 3: head+tail exceeds the
// available length, so the move never reaches the requested cruise
// speed — symmetric split or asymmetric iteration.
func planRateLimited(in Inputs, tol Tolerances, headLen, tailLen float64) Result {
	entry, exit := in.EntryVelocity, in.ExitVelocity
	length, jm := in.Length, in.Jerk

	r := Result{EntryVelocity: entry, ExitVelocity: exit}

	if abs(entry-exit) < tol.VelocityTolerance {
		// Symmetric: split the length in half and recompute cruise
		// from head.
		half := length / 2
		cruise := TargetVelocity(entry, half, jm)
		r.CruiseVelocity = cruise
		r.HeadLength, r.TailLength = half, half
		r.Converged = true
		clampDegenerate(&r, length)
		return r
	}

	// Asymmetric: iterate, reallocating length between head and tail
	// proportional to their current lengths, recomputing cruise each
	// step, until relative change in cruise falls below
	// IterationErrorFrac.
	cruise := 0.0
	prevCruise := -1.0
	h, t := headLen, tailLen
	converged := false
	for i := 0; i < tol.IterationMax; i++ {
		total := h + t
		if total <= 0 {
			break
		}
		h = length * (h / total)
		t = length - h
		ch := TargetVelocity(entry, h, jm)
		ct := TargetVelocity(exit, t, jm)
		cruise = math.Min(ch, ct)
		if prevCruise > 0 {
			if abs(cruise-prevCruise)/prevCruise < tol.IterationErrorFrac {
				converged = true
				break
			}
		}
		prevCruise = cruise
		// Recompute head/tail lengths consistent with the shared
		// cruise for the next iteration.
		h = TargetLength(entry, cruise, jm)
		t = TargetLength(exit, cruise, jm)
	}

	r.CruiseVelocity = cruise
	r.HeadLength, r.TailLength = h, t
	r.Converged = converged
	clampDegenerate(&r, length)
	return r
}

// clampDegenerate zeroes a negative head or tail (the move
// becomes all-tail or all-head) and renormalizes the remaining section
// to consume the full length, per spec §4.2 step 3's "clamp degenerate
// head or tail to zero."
func clampDegenerate(r *Result, length float64) {
	if r.HeadLength < 0 {
		r.HeadLength = 0
		r.TailLength = length
	}
	if r.TailLength < 0 {
		r.TailLength = 0
		r.HeadLength = length
	}
}

// planRequestedFit implements spec §4.2 step 4: head+tail fits within
// length with room for a cruise body.
func planRequestedFit(in Inputs, tol Tolerances, headLen, tailLen float64) Result {
	entry, cruise, exit := in.EntryVelocity, in.CruiseVelocity, in.ExitVelocity
	length := in.Length

	r := Result{
		EntryVelocity:  entry,
		CruiseVelocity: cruise,
		ExitVelocity:   exit,
		Converged:      true,
	}

	body := length - headLen - tailLen
	mb := minBody(cruise, tol.MinSegmentTime)

	switch {
	case body <= 0:
		// Shouldn't happen given the headLen+tailLen<=length guard,
		// but guard against floating point slop by clamping the body
		// to zero.
		body = 0
	case body < mb:
		// Fold body evenly into head/tail, or into whichever is
		// nonzero.
		switch {
		case headLen > 0 && tailLen > 0:
			headLen += body / 2
			tailLen += body / 2
		case headLen > 0:
			headLen += body
		case tailLen > 0:
			tailLen += body
		default:
			// Head and tail both vanished: body-only move at entry
			// speed, per spec §4.2 step 4.
			r.CruiseVelocity = entry
		}
		body = 0
	}

	if headLen == 0 && tailLen == 0 {
		r.CruiseVelocity = entry
	}

	r.HeadLength, r.BodyLength, r.TailLength = headLen, body, tailLen
	return r
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
