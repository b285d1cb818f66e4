// Command motionctl is a headless driver for the motion core: it reads
// a line-oriented move script, feeds it through machine.Machine, runs
// the executor against a ticker goroutine, and prints the emitted step
// batches. It replaces the teacher's ebiten-based cmd/standalone, which
// has no headless equivalent for a library with no framebuffer to
// draw.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/user-none/motioncore/axis"
	"github.com/user-none/motioncore/config"
	"github.com/user-none/motioncore/machine"
	"github.com/user-none/motioncore/stepper"
	"github.com/user-none/motioncore/telemetry"
)

func main() {
	scriptPath := flag.String("script", "", "path to a move script (required)")
	configPath := flag.String("config", "", "path to a TOML machine config (uses built-in defaults if empty)")
	tickMicros := flag.Int64("tick-micros", 1000, "executor tick interval in microseconds")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	logger := telemetry.NewLogger(os.Stdout)
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	log.Logger = logger

	if *scriptPath == "" {
		logger.Fatal().Msg("motionctl: -script is required")
	}

	if err := run(logger, *scriptPath, *configPath, time.Duration(*tickMicros)*time.Microsecond); err != nil {
		logger.Fatal().Err(err).Msg("motionctl: run failed")
	}
}

func run(logger zerolog.Logger, scriptPath, configPath string, tick time.Duration) error {
	fs := afero.NewOsFs()
	cfg := config.DefaultConfig()
	if configPath != "" {
		store := config.NewStore(fs, configPath)
		loaded, err := store.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	lines, err := loadScript(fs, scriptPath)
	if err != nil {
		return fmt.Errorf("loading script: %w", err)
	}

	pulser := &stepper.RecordingPulser{}
	bus := telemetry.NewBus()

	m := machine.New(machine.Options{
		Config: cfg,
		Pulser: pulser,
		Logger: logger,
		Bus:    bus,
	})
	bus.Start()

	prog := &program{m: m}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		telemetry.Drain(gctx, bus.Events(), func(ev telemetry.Event) {
			logEvent(logger, ev)
		})
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		m.StartExecutor(gctx, ticker.C)
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for _, ln := range lines {
			if err := prog.dispatchLine(ln); err != nil {
				logger.Error().Err(err).Str("line", ln).Msg("motionctl: rejected move")
			}
			for m.GetPlannerBuffersAvailable() == 0 {
				time.Sleep(tick)
			}
		}
		for m.GetRuntimeActive() || m.GetPlannerBuffersAvailable() < cfg.PlannerPoolSize {
			time.Sleep(tick)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	for i, b := range pulser.Batches {
		logger.Info().Int("segment", i).Int64("us", int64(b.Microseconds)).Ints32("steps", b.Steps[:]).Msg("segment")
	}
	bus.Close()
	return nil
}

func logEvent(logger zerolog.Logger, ev telemetry.Event) {
	switch ev.Kind {
	case telemetry.BlockFinished:
		logger.Debug().Int("line", ev.LineNum).Msg("block finished")
	case telemetry.NotConverged:
		logger.Warn().Int("line", ev.LineNum).Msg("trapezoid fit did not converge")
	case telemetry.FeedholdTransition:
		logger.Info().Str("state", ev.State).Msg("feedhold transition")
	case telemetry.BlockSkipped:
		logger.Debug().Int("line", ev.LineNum).Msg("block skipped")
	}
}

func loadScript(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ln := strings.TrimSpace(scanner.Text())
		if ln == "" || strings.HasPrefix(ln, ";") {
			continue
		}
		lines = append(lines, ln)
	}
	return lines, scanner.Err()
}

// program tracks the commanded position across script lines so
// feedrate (units/minute) can be converted into the requested-time
// argument Machine.Aline wants, mirroring how a real G-code front end
// keeps its own modal position state alongside the planner's.
type program struct {
	m   *machine.Machine
	pos axis.Vector
}

// dispatchLine parses one line of a minimal G-code-like script and
// calls the matching Machine method. Supported forms:
//
//	G1 X.. Y.. Z.. A.. B.. C.. F..   linear move, F is feedrate (units/min)
//	G4 P..                           dwell, P is seconds
//	M.. [S..]                        queued command, M is intVal, S is dblVal
func (p *program) dispatchLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch {
	case fields[0] == "G1":
		return p.dispatchAline(fields[1:])
	case strings.HasPrefix(fields[0], "G4"):
		return p.dispatchDwell(fields)
	case strings.HasPrefix(fields[0], "M"):
		return p.dispatchCommand(fields)
	default:
		return fmt.Errorf("unrecognized command %q", fields[0])
	}
}

func (p *program) dispatchAline(words []string) error {
	target := p.pos
	feedrate := 0.0
	hasFeedrate := false

	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		val, err := strconv.ParseFloat(w[1:], 64)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", w, err)
		}
		switch w[0] {
		case 'X':
			target[axis.X] = val
		case 'Y':
			target[axis.Y] = val
		case 'Z':
			target[axis.Z] = val
		case 'A':
			target[axis.A] = val
		case 'B':
			target[axis.B] = val
		case 'C':
			target[axis.C] = val
		case 'F':
			feedrate, hasFeedrate = val, true
		}
	}
	if !hasFeedrate || feedrate <= 0 {
		return fmt.Errorf("G1 requires a positive F feedrate")
	}

	length := target.Sub(p.pos).Length()
	minutes := length / feedrate

	if err := p.m.Aline(target, minutes, 0); err != nil {
		return err
	}
	p.pos = target
	return nil
}

func (p *program) dispatchDwell(fields []string) error {
	seconds := 0.0
	for _, w := range fields[1:] {
		if strings.HasPrefix(w, "P") {
			v, err := strconv.ParseFloat(w[1:], 64)
			if err != nil {
				return err
			}
			seconds = v
		}
	}
	return p.m.Dwell(seconds)
}

func (p *program) dispatchCommand(fields []string) error {
	intVal, err := strconv.Atoi(strings.TrimPrefix(fields[0], "M"))
	if err != nil {
		return err
	}
	dblVal := 0.0
	for _, w := range fields[1:] {
		if strings.HasPrefix(w, "S") {
			v, err := strconv.ParseFloat(w[1:], 64)
			if err == nil {
				dblVal = v
			}
		}
	}
	return p.m.QueueCommand(func(intVal int, dblVal float64) error {
		log.Info().Int("M", intVal).Float64("S", dblVal).Msg("command dispatched")
		return nil
	}, intVal, dblVal)
}
