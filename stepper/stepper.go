// Package stepper defines the downward collaborator interface the core
// depends on (spec §6): the step-pulse timer that actually drives
// motor hardware. This module never implements real pulse generation —
// that belongs to the platform layer — but it defines the interface
// the executor calls against, plus a small in-memory Pulser used by
// tests and the cmd/motionctl demo driver.
//
// Grounded on emu.Bus (bus.go in the teacher): a one-method interface
// the core depends on without owning an implementation, wired in at
// construction time.
package stepper

// Pulser is the step-pulse timer collaborator (spec §6 "downward to
// the step pulser").
type Pulser interface {
	// PrepLine enqueues one pulse-count batch over a duration.
	PrepLine(steps [6]int32, microseconds float64) error
	// PrepNull tells the pulser no motion happens this tick.
	PrepNull()
	// PrepDwell tells the pulser to idle for a duration.
	PrepDwell(microseconds float64)
	// IsBusy reports whether the pulser has unfinished pulse work.
	IsBusy() bool
}

// RequestExecMove arms the low-priority interrupt to call the executor
// (spec §6). It is a separate function type, not part of Pulser,
// because on real hardware it is usually a bare interrupt-enable
// register write rather than a method on the pulse-timer object.
type RequestExecMove func()

// Batch is one recorded call to PrepLine, captured by RecordingPulser
// for tests and for the CLI driver's step-stream printout.
type Batch struct {
	Steps        [6]int32
	Microseconds float64
}

// RecordingPulser is an in-memory Pulser that records every batch
// instead of driving hardware. Busy is settable by tests to exercise
// is_busy()-gated backpressure.
type RecordingPulser struct {
	Batches []Batch
	Nulls   int
	Dwells  []float64
	Busy    bool
}

func (p *RecordingPulser) PrepLine(steps [6]int32, microseconds float64) error {
	p.Batches = append(p.Batches, Batch{Steps: steps, Microseconds: microseconds})
	return nil
}

func (p *RecordingPulser) PrepNull() { p.Nulls++ }

func (p *RecordingPulser) PrepDwell(microseconds float64) {
	p.Dwells = append(p.Dwells, microseconds)
}

func (p *RecordingPulser) IsBusy() bool { return p.Busy }
