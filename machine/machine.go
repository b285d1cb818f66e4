// Package machine is the composition root gluing block+trapezoid+
// planner+executor+feedhold+stepper together and exposing the upward
// API spec §6 defines for "the canonical-machine layer above": Aline,
// Dwell, QueueCommand, the position/velocity getters, FlushPlanner,
// the feedhold driver callbacks, ExecMove, and
// GetPlannerBuffersAvailable.
//
// Grounded on emu.EmulatorBase/emu.Emulator: the struct that owns every
// subsystem (cpu, mem, vdp, psg, io) and exposes the single per-tick
// entry point (RunFrame) plus a wide getter surface for external
// callers — the same shape this module needs for a planner/executor
// pair instead of a CPU/video/audio triple.
package machine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/block"
	"github.com/user-none/motioncore/config"
	"github.com/user-none/motioncore/executor"
	"github.com/user-none/motioncore/feedhold"
	"github.com/user-none/motioncore/kinematics"
	"github.com/user-none/motioncore/planner"
	"github.com/user-none/motioncore/stepper"
	"github.com/user-none/motioncore/telemetry"
	"github.com/user-none/motioncore/trapezoid"
)

// ErrZeroLengthMove is returned by Aline for a move whose length or
// requested time is at or below epsilon (spec §7 ZERO_LENGTH_MOVE).
var ErrZeroLengthMove = errors.New("machine: zero-length or zero-time move")

// ErrQueueFull is returned by Aline/Dwell/QueueCommand when the block
// pool has no EMPTY slot (spec §7 BUFFER_FULL_FATAL, surfaced to the
// caller as retryable backpressure rather than a fatal condition —
// spec §5: "how the producer learns the queue is full and must retry
// next tick").
var ErrQueueFull = errors.New("machine: planner queue full")

const epsilon = 1e-9

// Machine is the single-owner composition root. Foreground methods
// (Aline, Dwell, QueueCommand, Flush*, Set*, Get*, PlanHoldCallback,
// RequestHold, RequestRestart) must all be called from the same
// goroutine or externally serialized — this module does not itself
// spawn that goroutine (spec §5: "foreground... cooperative"). Only
// ExecMove (and the executor goroutine started by StartExecutor) runs
// concurrently with the foreground.
type Machine struct {
	mu sync.Mutex

	pool     *block.Pool
	state    planner.State
	cfg      planner.Config
	jcache   *planner.JunctionCache
	ex       *executor.Executor
	fh       *feedhold.Controller
	pulser   stepper.Pulser
	logger   zerolog.Logger
	bus      *telemetry.Bus
	events   chan<- telemetry.Event
	lastUnit axis.Vector
	haveLast bool

	axisJerkTable [int(axis.Count)]float64

	notConvergedCount int
}

// Options bundles Machine's constructor dependencies.
type Options struct {
	Config    *config.Config
	Pulser    stepper.Pulser
	Transform kinematics.Transform
	Logger    zerolog.Logger
	Bus       *telemetry.Bus
}

// New constructs a Machine from a persisted config.Config and an
// external stepper.Pulser collaborator.
func New(opts Options) *Machine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	transform := opts.Transform
	if transform == nil {
		transform = kinematics.Cartesian{}
	}

	var stepsPer axis.Vector
	var deviation axis.Vector
	for i := 0; i < int(axis.Count); i++ {
		stepsPer[i] = cfg.Axes[i].StepsPerUnit
		deviation[i] = cfg.Axes[i].JunctionDev
	}

	pool := block.New(cfg.PlannerPoolSize)
	pcfg := planner.Config{
		Junction: planner.JunctionConfig{Deviation: deviation, JunctionAccel: cfg.JunctionAcceleration},
		Trapezoid: trapezoid.Tolerances{
			MinSegmentTime:     cfg.MinimumSegmentMicroseconds / 1e6 / 60.0,
			FitTolerance:       cfg.TrapezoidLengthFitTolerance,
			VelocityTolerance:  cfg.TrapezoidVelocityTolerance,
			IterationMax:       cfg.TrapezoidIterationMax,
			IterationErrorFrac: cfg.TrapezoidIterationErrorPct / 100.0,
		},
	}

	ex := executor.New(pool, opts.Pulser, transform, stepsPer, executor.Timing{
		EstimatedSegmentMicroseconds: cfg.EstimatedSegmentMicroseconds,
		MinimumSegmentMicroseconds:   cfg.MinimumSegmentMicroseconds,
	})

	m := &Machine{
		pool:   pool,
		cfg:    pcfg,
		jcache: planner.NewJunctionCache(256),
		ex:     ex,
		pulser: opts.Pulser,
		logger: opts.Logger,
		bus:    opts.Bus,
	}
	for i := 0; i < int(axis.Count); i++ {
		m.axisJerkTable[i] = cfg.Axes[i].JerkMax
	}
	m.fh = feedhold.New(pool, ex, pcfg)
	if opts.Bus != nil {
		m.events = opts.Bus.NewSource()
		m.fh.OnHold = func() {
			m.events <- telemetry.Event{Kind: telemetry.FeedholdTransition, State: feedhold.Hold.String()}
		}
	}

	ex.OnBlockFinished = func(lineNum int) {
		m.fh.ExecutorTick()
		if m.events != nil {
			m.events <- telemetry.Event{Kind: telemetry.BlockFinished, LineNum: lineNum}
		}
	}

	return m
}

// Aline queues a jerk-limited linear move to target, requested over
// minutes minutes with a floor of minTime minutes (spec §6).
func (m *Machine) Aline(target axis.Vector, minutes, minTime float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	travel := target.Sub(m.state.Position)
	unit, length := travel.Unit()
	if length <= epsilon || minutes <= epsilon {
		return ErrZeroLengthMove
	}

	idx, ok := m.pool.AcquireWrite()
	if !ok {
		return ErrQueueFull
	}
	b := m.pool.At(idx)

	jerk := m.axisJerk(unit)
	cruiseVmax := length / minutes
	entryVmax := cruiseVmax
	if m.haveLast {
		entryVmax = minFloat(cruiseVmax, planner.JunctionVelocity(m.lastUnit, unit, m.cfg.Junction, m.jcache))
	}

	b.Aline = block.Aline{
		Target:     [6]float64(target),
		Unit:       [6]float64(unit),
		Length:     length,
		Jerk:       jerk,
		RecipJerk:  1 / jerk,
		CbrtJerk:   math.Cbrt(jerk),
		EntryVmax:  entryVmax,
		CruiseVmax: cruiseVmax,
		ExitVmax:   cruiseVmax,
		DeltaVmax:  trapezoid.TargetVelocity(0, length, jerk),
		Time:       minutes,
		MinTime:    minTime,
	}
	b.LineNum = b.LineIndex
	m.pool.CommitWrite(idx, block.MoveAline)

	notConverged := planner.Replan(m.pool, idx, m.cfg)
	for _, lineNum := range notConverged {
		m.notConvergedCount++
		if m.events != nil {
			m.events <- telemetry.Event{Kind: telemetry.NotConverged, LineNum: lineNum}
		}
	}

	m.state.Position = target
	m.lastUnit = unit
	m.haveLast = true
	return nil
}

// axisJerk returns the direction-weighted jerk ceiling for unit,
// combining each axis's configured jerk_max with its projection onto
// the move direction (a move along a single axis is bounded by that
// axis's jerk; a diagonal move is bounded by the shallowest
// contributing axis).
func (m *Machine) axisJerk(unit axis.Vector) float64 {
	// Simplified pluggable model (spec §1 Non-goals: "non-Cartesian
	// kinematics beyond a simple pluggable forward transform" — jerk
	// combination gets the same treatment): take the minimum jerk_max
	// among axes the move actually travels on.
	const defaultJerk = 500_000_000
	min := -1.0
	for i := 0; i < int(axis.Count); i++ {
		if abs(unit[i]) < 1e-9 {
			continue
		}
		j := m.axisJerkMax(axis.Index(i))
		if min < 0 || j < min {
			min = j
		}
	}
	if min < 0 {
		return defaultJerk
	}
	return min
}

// axisJerkMax reads the per-axis jerk ceiling populated by New from
// config.Config.
func (m *Machine) axisJerkMax(i axis.Index) float64 {
	return m.axisJerkTable[i]
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Dwell queues a non-motion pause of seconds, preserving program order
// relative to surrounding Aline/Command calls (spec §6).
func (m *Machine) Dwell(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pool.AcquireWrite()
	if !ok {
		return ErrQueueFull
	}
	b := m.pool.At(idx)
	b.Dwell = block.Dwell{Seconds: seconds}
	m.pool.CommitWrite(idx, block.MoveDwell)
	return nil
}

// QueueCommand queues a synchronous callback (M-code dispatch, dwell
// completion hooks) in program order (spec §6).
func (m *Machine) QueueCommand(fn block.CommandFunc, intVal int, dblVal float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pool.AcquireWrite()
	if !ok {
		return ErrQueueFull
	}
	b := m.pool.At(idx)
	b.Command = block.Command{Func: fn, IntVal: intVal, DblVal: dblVal}
	m.pool.CommitWrite(idx, block.MoveCommand)
	return nil
}

// SetPlanPosition performs the coordinate surgery spec §6 calls out for
// e.g. a G92 offset: the planner's committed position is overwritten
// without touching the queue or the runtime.
func (m *Machine) SetPlanPosition(pos axis.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SetPlanPosition(pos)
	m.haveLast = false
}

// SetPlanLineIndex stores n in the planner state's LineIndex (spec
// §6). The line indexes given to new blocks come from block.Pool's own
// counter, which this does not change.
func (m *Machine) SetPlanLineIndex(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SetPlanLineIndex(n)
}

// FlushPlanner discards every queued block (spec §5's queue-flush
// operation) without disturbing a block the executor may be
// mid-emitting; callers wanting a full stop should also request a
// feedhold first.
func (m *Machine) FlushPlanner() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.Flush()
	m.haveLast = false
}

// RequestHold begins a feedhold (spec §4.5).
func (m *Machine) RequestHold() {
	m.fh.RequestHold()
}

// RequestRestart resumes motion after a feedhold reaches HOLD (spec
// §4.5).
func (m *Machine) RequestRestart() {
	m.fh.RequestRestart()
}

// FeedholdState returns the feedhold controller's current phase.
func (m *Machine) FeedholdState() feedhold.State {
	return m.fh.State()
}

// PlanHoldCallback must be called once per foreground tick; it drives
// the feedhold PLAN->DECEL replan when a hold request has reached PLAN
// (spec §6).
func (m *Machine) PlanHoldCallback() {
	m.fh.PlanHoldCallback()
}

// ExecMove runs exactly one runtime segment (spec §4.4); callers drive
// this directly from a timer/interrupt, or use StartExecutor to run it
// from a background goroutine instead.
func (m *Machine) ExecMove() (executor.Status, error) {
	return m.ex.ExecMove()
}

// StartExecutor runs ExecMove once per tick until ctx is canceled, the
// background-goroutine rendering of the interrupt-driven executor
// (spec §4.4, §5).
func (m *Machine) StartExecutor(ctx context.Context, tick <-chan time.Time) {
	m.ex.Run(ctx, tick)
}

// GetRuntimeWorkPosition returns the runtime's current position on
// axis i (spec §6).
func (m *Machine) GetRuntimeWorkPosition(i axis.Index) float64 {
	return m.ex.Snapshot().Position[i]
}

// GetRuntimeVelocity returns the runtime's current segment velocity
// (spec §6).
func (m *Machine) GetRuntimeVelocity() float64 {
	return m.ex.Snapshot().Velocity
}

// GetRuntimeLineNum returns the line number of the line move currently
// executing, or of the last line move the runtime started if it is
// idle; dwell and command blocks do not update it (spec §6).
func (m *Machine) GetRuntimeLineNum() int {
	return m.ex.Snapshot().LineNum
}

// GetRuntimeActive reports whether the runtime is mid-block.
func (m *Machine) GetRuntimeActive() bool {
	return m.ex.Snapshot().Active
}

// GetPlannerBuffersAvailable returns the number of EMPTY planning
// blocks, the producer-side backpressure signal spec §6 calls for.
func (m *Machine) GetPlannerBuffersAvailable() int {
	return m.pool.Available()
}

// NotConvergedCount returns the number of non-converged trapezoid fits
// that planner.Replan has reported across all Aline calls since
// construction; one Aline call can add several, and a block replanned
// by several calls can be counted more than once (spec §9 Open
// Question: surfaced as a counter rather than an error).
func (m *Machine) NotConvergedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notConvergedCount
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
