package pulseblaster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

var (
	ErrIntervalTooShort = errors.New("interval between events shorter than one clock tick")
	ErrUnroutedPulse    = errors.New("pulse connection does not drive a board channel")
	ErrNotSetUp         = errors.New("instrument has not been set up")
)

const (
	timeTolerance = 1e-11

	// maxTicks is the largest delay a single instruction can hold; longer
	// waits are split into a long-delay pair.
	maxTicks = 1_000_000_000

	// controlTicks pads control instructions (branch, stop) that carry no
	// timing of their own.
	controlTicks = 50
)

// Config holds the per-board settings.
type Config struct {
	// Name is the instrument name, unique within a layout.
	Name string

	// CoreClock is the instruction clock in ticks per second.
	// Defaults to 500 MHz.
	CoreClock float64

	// MinPulseWidth widens zero-duration trigger edges so downstream
	// hardware registers them. Defaults to 100ns.
	MinPulseWidth float64

	// Once stops the board after one pass instead of branching back.
	Once bool

	// ChannelCount is the number of BNC outputs. Defaults to 4.
	ChannelCount int
}

func (c Config) withDefaults() Config {
	if c.CoreClock == 0 {
		c.CoreClock = 500e6
	}
	if c.MinPulseWidth == 0 {
		c.MinPulseWidth = 100e-9
	}
	if c.ChannelCount == 0 {
		c.ChannelCount = 4
	}
	return c
}

// Interface is the pulseblaster backend.
type Interface struct {
	*instrument.Base
	cfg Config

	instructions []Instruction
	ready        bool
	running      bool
}

// New creates a pulseblaster interface with TTL output channels ch1..chN
// and a software trigger input. It implements trigger and marker pulses.
func New(cfg Config) *Interface {
	cfg = cfg.withDefaults()
	// Measured output TTL is half of 3.3V.
	ttl := wiring.TTLLevels{Low: 0, High: 3.3 / 2}
	channels := make([]wiring.Channel, 0, cfg.ChannelCount+1)
	for k := 1; k <= cfg.ChannelCount; k++ {
		channels = append(channels, wiring.Channel{
			Instrument: cfg.Name,
			Name:       fmt.Sprintf("ch%d", k),
			ID:         k - 1,
			Output:     true,
			OutputTTL:  &ttl,
		})
	}
	channels = append(channels, wiring.Channel{
		Instrument:   cfg.Name,
		Name:         "software_trig_in",
		InputTrigger: true,
	})
	implementations := []*pulses.Implementation{
		pulses.NewImplementation(pulses.KindTrigger),
		pulses.NewImplementation(pulses.KindMarker),
	}
	return &Interface{
		Base: instrument.NewBase(cfg.Name, channels, implementations),
		cfg:  cfg,
	}
}

// Config returns the board settings.
func (b *Interface) Config() Config { return b.cfg }

// Setup compiles the targeted trigger and marker pulses into the board's
// instruction list. Zero-duration triggers are widened to the minimum pulse
// width; the final delay is appended as a quiet hold before the branch back.
func (b *Interface) Setup(opts instrument.SetupOptions) (instrument.SetupResult, error) {
	b.ready = false
	b.instructions = nil

	type interval struct {
		flag        uint32
		start, stop float64
	}
	var intervals []interval
	for _, p := range b.Sequence().EnabledPulses() {
		ch, err := b.outputChannel(p.Connection())
		if err != nil {
			return instrument.SetupResult{}, fmt.Errorf("pulse %s: %w", p.FullName(), err)
		}
		stop := p.Stop()
		if stop < p.Start()+b.cfg.MinPulseWidth {
			stop = p.Start() + b.cfg.MinPulseWidth
		}
		intervals = append(intervals, interval{flag: 1 << uint(ch.ID), start: p.Start(), stop: stop})
	}

	// Event grid: every flank plus the end of the active region.
	var times []float64
	for _, iv := range intervals {
		times = append(times, iv.start, iv.stop)
	}
	times = uniqueSorted(times)

	var instructions []Instruction
	appendHold := func(flags uint32, duration float64) error {
		ticks := int64(math.Round(duration * b.cfg.CoreClock))
		if ticks < 1 {
			return fmt.Errorf("%w: %.3g s at %.6g Hz", ErrIntervalTooShort, duration, b.cfg.CoreClock)
		}
		if ticks < maxTicks {
			instructions = append(instructions, Instruction{Flags: flags, Op: OpContinue, Ticks: ticks})
			return nil
		}
		// Split: a short continue followed by a long delay covering the rest.
		instructions = append(instructions, Instruction{Flags: flags, Op: OpContinue, Ticks: controlTicks * 2})
		rest := ticks - controlTicks*2
		divisor := (rest + maxTicks - 1) / maxTicks
		instructions = append(instructions, Instruction{
			Flags: flags,
			Op:    OpLongDelay,
			Arg:   int(divisor),
			Ticks: rest / divisor,
		})
		return nil
	}

	t := 0.0
	for _, next := range times {
		if next <= t+timeTolerance {
			continue
		}
		var flags uint32
		for _, iv := range intervals {
			if iv.start <= t+timeTolerance && t+timeTolerance < iv.stop {
				flags |= iv.flag
			}
		}
		if err := appendHold(flags, next-t); err != nil {
			return instrument.SetupResult{}, err
		}
		t = next
	}

	// Quiet hold through the remaining duration and the final delay.
	end := opts.Duration + opts.FinalDelay
	if end-t > timeTolerance {
		if err := appendHold(0, end-t); err != nil {
			return instrument.SetupResult{}, err
		}
	}

	if b.cfg.Once {
		instructions = append(instructions, Instruction{Op: OpStop, Ticks: controlTicks})
	} else {
		instructions = append(instructions, Instruction{Op: OpBranch, Arg: 0, Ticks: controlTicks})
	}

	b.instructions = instructions
	b.ready = true
	return instrument.SetupResult{}, nil
}

// Start begins instruction execution.
func (b *Interface) Start() error {
	if !b.ready {
		return ErrNotSetUp
	}
	b.running = true
	return nil
}

// Stop halts the board.
func (b *Interface) Stop() error {
	b.running = false
	return nil
}

// Running reports whether the board is executing instructions.
func (b *Interface) Running() bool { return b.running }

// Instructions returns the compiled program, valid after Setup.
func (b *Interface) Instructions() []Instruction {
	out := make([]Instruction, len(b.instructions))
	copy(out, b.instructions)
	return out
}

// outputChannel resolves the board channel a pulse connection drives.
func (b *Interface) outputChannel(conn wiring.Connection) (wiring.Channel, error) {
	if conn == nil {
		return wiring.Channel{}, ErrUnroutedPulse
	}
	single, ok := conn.(*wiring.SingleConnection)
	if !ok {
		return wiring.Channel{}, fmt.Errorf("%w: %s", ErrUnroutedPulse, conn)
	}
	if single.Output().Instrument != b.Name() {
		return wiring.Channel{}, fmt.Errorf("%w: %s", ErrUnroutedPulse, conn)
	}
	ch, ok := b.Channel(single.Output().Channel)
	if !ok || !ch.Output {
		return wiring.Channel{}, fmt.Errorf("%w: %s", ErrUnroutedPulse, conn)
	}
	return ch, nil
}

func uniqueSorted(ts []float64) []float64 {
	if len(ts) == 0 {
		return ts
	}
	sort.Float64s(ts)
	out := ts[:1]
	for _, t := range ts[1:] {
		if t-out[len(out)-1] > timeTolerance {
			out = append(out, t)
		}
	}
	return out
}
