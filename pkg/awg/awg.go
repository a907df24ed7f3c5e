package awg

import (
	"errors"
	"fmt"
	"sort"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

var (
	ErrNoDivisor         = errors.New("no admissible waveform divisor")
	ErrGapTooShort       = errors.New("gap too short to bridge with waveform")
	ErrWaveformTooShort  = errors.New("waveform below minimum point count")
	ErrTooManyWaveforms  = errors.New("waveform memory limit exceeded")
	ErrPulseBeforeCursor = errors.New("pulse starts before current waveform position")
	ErrUnsupportedPulse  = errors.New("pulse kind not supported by channel synthesis")
	ErrNotSetUp          = errors.New("instrument has not been set up")
)

// Hardware buffer constraints.
const (
	// MinPoints is the smallest admissible waveform buffer.
	MinPoints = 320

	// PointsGranularity is the sample-count multiple every buffer must obey.
	PointsGranularity = 32

	maxCycles          = 1_000_000
	maxRemainingPoints = 1000

	timeTolerance      = 1e-11
	amplitudeTolerance = 1e-9
)

// Config holds the per-device settings of an AWG interface.
type Config struct {
	// Name is the instrument name, unique within a layout.
	Name string

	// SampleRate in samples per second.
	SampleRate float64

	// MaxWaveforms bounds the distinct buffers loadable per channel.
	// Defaults to 1000.
	MaxWaveforms int

	// MaxPointsDC bounds the main buffer size for constant content.
	// Defaults to 6000.
	MaxPointsDC int

	// MaxPointsSine bounds the main buffer size for periodic content.
	// Defaults to 50000.
	MaxPointsSine int

	// TriggerInDuration is the width of the trigger pulse the interface
	// requests at the start of the sequence. Defaults to 1us.
	TriggerInDuration float64

	// FrequencyThreshold is the minimum number of whole periods a sine
	// pulse must span before the looped fit is attempted; below it the
	// pulse is unrolled into a single buffer. Defaults to 30.
	FrequencyThreshold float64

	// MaxFrequencyError is the relative frequency nudge budget for the
	// periodic fit. Defaults to 1e-3.
	MaxFrequencyError float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 1e9
	}
	if c.MaxWaveforms == 0 {
		c.MaxWaveforms = 1000
	}
	if c.MaxPointsDC == 0 {
		c.MaxPointsDC = 6000
	}
	if c.MaxPointsSine == 0 {
		c.MaxPointsSine = 50000
	}
	if c.TriggerInDuration == 0 {
		c.TriggerInDuration = 1e-6
	}
	if c.FrequencyThreshold == 0 {
		c.FrequencyThreshold = 30
	}
	if c.MaxFrequencyError == 0 {
		c.MaxFrequencyError = 1e-3
	}
	return c
}

// Waveform is a hardware buffer of voltage samples.
type Waveform []float64

// SequenceStep replays one loaded waveform a number of times.
type SequenceStep struct {
	// WaveformIndex is the 1-based buffer slot.
	WaveformIndex int `json:"waveform_index"`

	// Loops is the replay count.
	Loops int `json:"loops"`

	// Label names the pulse the step realizes.
	Label string `json:"label"`
}

// ChannelPlan is the synthesized program of one output channel.
type ChannelPlan struct {
	Channel   string         `json:"channel"`
	Waveforms []Waveform     `json:"waveforms"`
	Steps     []SequenceStep `json:"steps"`

	// initial records the deferred first-buffer slot whose first sample is
	// overwritten with the final voltage once the timeline is complete.
	initial int
}

// Interface is the AWG backend. It embeds the shared instrument state and
// adds waveform-sequence synthesis.
type Interface struct {
	*instrument.Base
	cfg Config

	plans   map[string]*ChannelPlan
	active  []string
	ready   bool
	running bool
}

// New creates an AWG interface with two output channels (ch1, ch2), trigger
// and event inputs, and a sync output. It implements DC and sine pulses
// within the device's amplitude, frequency, and duration limits.
func New(cfg Config) *Interface {
	cfg = cfg.withDefaults()
	channels := []wiring.Channel{
		{Instrument: cfg.Name, Name: "ch1", ID: 1, Output: true},
		{Instrument: cfg.Name, Name: "ch2", ID: 2, Output: true},
		{Instrument: cfg.Name, Name: "trig_in", InputTrigger: true},
		{Instrument: cfg.Name, Name: "event_in", InputTrigger: true},
		{Instrument: cfg.Name, Name: "sync", Output: true},
	}
	implementations := []*pulses.Implementation{
		pulses.NewImplementation(pulses.KindDC,
			pulses.AtMost("amplitude", 1.5),
			pulses.AtLeast("duration", 100e-9),
		),
		pulses.NewImplementation(pulses.KindSine,
			pulses.Between("frequency", 0, 1.5e9),
			pulses.Between("amplitude", 0, 1),
			pulses.AtLeast("duration", 100e-9),
		),
	}
	return &Interface{
		Base: instrument.NewBase(cfg.Name, channels, implementations),
		cfg:  cfg,
	}
}

// Config returns the device settings.
func (a *Interface) Config() Config { return a.cfg }

// AdditionalPulses requests one trigger at the start of the sequence; the
// device advances through its waveform program on that single edge.
func (a *Interface) AdditionalPulses(instrument.SetupOptions) []*pulses.Pulse {
	if a.Sequence().Empty() {
		return nil
	}
	return []*pulses.Pulse{
		pulses.NewTrigger(a.Name()+"_trigger",
			pulses.Start(0),
			pulses.Duration(a.cfg.TriggerInDuration),
			pulses.RequireConnection(wiring.Criteria{
				InputInstrument: a.Name(),
				Trigger:         wiring.Flag(true),
			}),
		),
	}
}

// Setup synthesizes the waveform program of every active output channel.
func (a *Interface) Setup(opts instrument.SetupOptions) (instrument.SetupResult, error) {
	a.ready = false
	a.plans = make(map[string]*ChannelPlan)
	a.active = a.activeChannels()

	for _, ch := range a.active {
		plan, err := a.buildChannel(ch, opts.Duration)
		if err != nil {
			return instrument.SetupResult{}, fmt.Errorf("channel %s: %w", ch, err)
		}
		a.plans[ch] = plan
	}

	a.ready = true
	return instrument.SetupResult{}, nil
}

// Start turns the active channels on. The sequence then waits for the
// requested trigger edge.
func (a *Interface) Start() error {
	if !a.ready {
		return ErrNotSetUp
	}
	a.running = true
	return nil
}

// Stop turns all channels off.
func (a *Interface) Stop() error {
	a.running = false
	return nil
}

// Running reports whether the channels are on.
func (a *Interface) Running() bool { return a.running }

// Plan returns the synthesized program of one channel, valid after Setup.
func (a *Interface) Plan(channel string) (*ChannelPlan, bool) {
	plan, ok := a.plans[channel]
	return plan, ok
}

// Plans returns the synthesized programs of all active channels.
func (a *Interface) Plans() map[string]*ChannelPlan {
	out := make(map[string]*ChannelPlan, len(a.plans))
	for ch, plan := range a.plans {
		out[ch] = plan
	}
	return out
}

// activeChannels returns the sorted set of output channels used by the
// targeted pulses.
func (a *Interface) activeChannels() []string {
	seen := make(map[string]bool)
	for _, p := range a.Sequence().EnabledPulses() {
		for _, ch := range a.outputChannelsOf(p.Connection()) {
			seen[ch] = true
		}
	}
	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// outputChannelsOf resolves the local output channels a connection drives.
func (a *Interface) outputChannelsOf(conn wiring.Connection) []string {
	switch c := conn.(type) {
	case *wiring.SingleConnection:
		if c.Output().Instrument == a.Name() {
			return []string{c.Output().Channel}
		}
	case *wiring.CombinedConnection:
		var out []string
		for _, part := range c.Connections() {
			if part.Output().Instrument == a.Name() {
				out = append(out, part.Output().Channel)
			}
		}
		return out
	}
	return nil
}

// channelPulses returns the enabled pulses emitted on one output channel,
// already sorted by start time.
func (a *Interface) channelPulses(channel string) []*pulses.Pulse {
	var out []*pulses.Pulse
	for _, p := range a.Sequence().EnabledPulses() {
		for _, ch := range a.outputChannelsOf(p.Connection()) {
			if ch == channel {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
