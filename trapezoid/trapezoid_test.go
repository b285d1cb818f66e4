package trapezoid

import (
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestTargetLength(t *testing.T) {
	got := TargetLength(0, 10, 1000)
	want := 10 * math.Sqrt(10.0/1000)
	if !approxEqual(got, want, 1e-9) {
		t.Errorf("TargetLength(0,10,1000): expected %v, got %v", want, got)
	}
	if got := TargetLength(5, 5, 1000); got != 0 {
		t.Errorf("TargetLength with equal velocities: expected 0, got %v", got)
	}
}

func TestTargetVelocity(t *testing.T) {
	length := TargetLength(0, 10, 1000)
	got := TargetVelocity(0, length, 1000)
	if !approxEqual(got, 10, 1e-6) {
		t.Errorf("TargetVelocity round-trip: expected ~10, got %v", got)
	}
}

func TestPlan_RequestedFit(t *testing.T) {
	tol := DefaultTolerances()
	in := Inputs{
		Length:         1000,
		EntryVelocity:  0,
		CruiseVelocity: 100,
		ExitVelocity:   0,
		CruiseVmax:     100,
		Jerk:           1_000_000,
	}
	r := Plan(in, tol)
	sum := r.HeadLength + r.BodyLength + r.TailLength
	if !approxEqual(sum, in.Length, tol.FitTolerance*10) {
		t.Errorf("section lengths don't sum to requested length: head+body+tail=%v, length=%v", sum, in.Length)
	}
	if r.BodyLength <= 0 {
		t.Errorf("expected a nonzero cruise body for a long move, got BodyLength=%v", r.BodyLength)
	}
	if !r.Converged {
		t.Errorf("requested-fit plan should always report Converged=true")
	}
}

func TestPlan_TooShortToReachCruise(t *testing.T) {
	tol := DefaultTolerances()
	in := Inputs{
		Length:         0.01,
		EntryVelocity:  0,
		CruiseVelocity: 1000,
		ExitVelocity:   0,
		CruiseVmax:     1000,
		Jerk:           1_000_000,
	}
	r := Plan(in, tol)
	if r.BodyLength != 0 {
		t.Errorf("too-short move should not carry a cruise body: BodyLength=%v", r.BodyLength)
	}
	sum := r.HeadLength + r.TailLength + r.BodyLength
	if !r.Skip && !approxEqual(sum, in.Length, 1e-6) {
		t.Errorf("section lengths don't sum to requested length: sum=%v, length=%v", sum, in.Length)
	}
}

func TestPlan_RateLimitedSymmetric(t *testing.T) {
	tol := DefaultTolerances()
	in := Inputs{
		Length:         10,
		EntryVelocity:  0,
		CruiseVelocity: 100000,
		ExitVelocity:   0,
		CruiseVmax:     100000,
		Jerk:           1_000_000,
	}
	r := Plan(in, tol)
	if r.BodyLength != 0 {
		t.Errorf("rate-limited move should have no cruise body: BodyLength=%v", r.BodyLength)
	}
	if !approxEqual(r.HeadLength, r.TailLength, 1e-6) {
		t.Errorf("symmetric rate-limited split: expected equal head/tail, got head=%v tail=%v", r.HeadLength, r.TailLength)
	}
	if r.CruiseVelocity >= in.CruiseVelocity {
		t.Errorf("rate-limited cruise should be degraded below requested: got %v, requested %v", r.CruiseVelocity, in.CruiseVelocity)
	}
}

func TestPlan_TooShortHeadDominated_CruiseMatchesDegradedExit(t *testing.T) {
	tol := DefaultTolerances()
	in := Inputs{
		Length:         0.1,
		EntryVelocity:  0,
		CruiseVelocity: 1000,
		ExitVelocity:   50,
		CruiseVmax:     1000,
		Jerk:           1_000_000,
	}
	r := Plan(in, tol)
	if r.CruiseVelocity != r.ExitVelocity {
		t.Errorf("head-dominated too-short move: expected CruiseVelocity to match the degraded ExitVelocity, got cruise=%v exit=%v", r.CruiseVelocity, r.ExitVelocity)
	}
	if r.EntryVelocity > r.CruiseVelocity {
		t.Errorf("invariant violated: EntryVelocity(%v) > CruiseVelocity(%v)", r.EntryVelocity, r.CruiseVelocity)
	}
	if r.CruiseVelocity < r.ExitVelocity {
		t.Errorf("invariant violated: CruiseVelocity(%v) < ExitVelocity(%v)", r.CruiseVelocity, r.ExitVelocity)
	}
}

func TestPlan_RateLimitedAsymmetric(t *testing.T) {
	tol := DefaultTolerances()
	in := Inputs{
		Length:         10,
		EntryVelocity:  50,
		CruiseVelocity: 100000,
		ExitVelocity:   0,
		CruiseVmax:     100000,
		Jerk:           1_000_000,
	}
	r := Plan(in, tol)
	sum := r.HeadLength + r.TailLength
	if !approxEqual(sum, in.Length, 1e-6) {
		t.Errorf("asymmetric rate-limited lengths should sum to the full length: head+tail=%v, length=%v", sum, in.Length)
	}
}
