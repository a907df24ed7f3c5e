package digitizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

var (
	ErrNoAcquisitionPulses = errors.New("no acquire-flagged pulses to record")
	ErrNoTriggerTransition = errors.New("could not determine trigger voltage transition")
	ErrNotSetUp            = errors.New("instrument has not been set up")
)

// samplesGranularity is the record-length multiple the board accepts.
const samplesGranularity = 16

// Config holds the per-board settings.
type Config struct {
	// Name is the instrument name, unique within a layout.
	Name string

	// SampleRate in samples per second. Defaults to 200 MS/s.
	SampleRate float64

	// TriggerRange is the full-scale trigger input range in volts,
	// used to map the threshold onto the 8-bit trigger level.
	// Defaults to 5V.
	TriggerRange float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 200e6
	}
	if c.TriggerRange == 0 {
		c.TriggerRange = 5
	}
	return c
}

// TriggerSettings is the derived hardware trigger configuration.
type TriggerSettings struct {
	// Slope is "positive" or "negative".
	Slope string `json:"slope"`

	// Threshold is the trigger voltage midpoint.
	Threshold float64 `json:"threshold"`

	// Level is the threshold mapped onto the board's 0..255 scale.
	Level int `json:"level"`
}

// Acquisition is the derived record configuration.
type Acquisition struct {
	// SamplesPerRecord covers the acquisition window, padded to the
	// board granularity.
	SamplesPerRecord int `json:"samples_per_record"`

	// Records is the number of repetitions captured.
	Records int `json:"records"`

	// Shapes maps each acquired pulse's full name to its trace shape,
	// depending on the pulse's average mode.
	Shapes map[string][]int `json:"shapes"`
}

// Interface is the digitizer backend.
type Interface struct {
	*instrument.Base
	cfg Config

	trigger     TriggerSettings
	acquisition Acquisition
	ready       bool
	armed       bool
}

// New creates a digitizer interface with four acquisition inputs (chA..chD)
// and a trigger input. It exposes no pulse implementations of its own;
// acquire-flagged pulses are mirrored to it by the layout after they are
// targeted at their emitting interface.
func New(cfg Config) *Interface {
	cfg = cfg.withDefaults()
	auxTTL := wiring.TTLLevels{Low: 0, High: 5}
	channels := []wiring.Channel{
		{Instrument: cfg.Name, Name: "chA", ID: 0, Input: true},
		{Instrument: cfg.Name, Name: "chB", ID: 1, Input: true},
		{Instrument: cfg.Name, Name: "chC", ID: 2, Input: true},
		{Instrument: cfg.Name, Name: "chD", ID: 3, Input: true},
		{Instrument: cfg.Name, Name: "trig_in", InputTrigger: true},
		{Instrument: cfg.Name, Name: "aux1", Output: true, OutputTTL: &auxTTL},
		{Instrument: cfg.Name, Name: "aux2", Output: true, OutputTTL: &auxTTL},
	}
	return &Interface{
		Base: instrument.NewBase(cfg.Name, channels, nil),
		cfg:  cfg,
	}
}

// Config returns the board settings.
func (d *Interface) Config() Config { return d.cfg }

// AdditionalPulses requests a trigger at the first acquisition instant.
func (d *Interface) AdditionalPulses(instrument.SetupOptions) []*pulses.Pulse {
	seq := d.Sequence()
	if seq.Empty() {
		return nil
	}
	tStart := seq.EnabledPulses()[0].Start()
	return []*pulses.Pulse{
		pulses.NewTrigger(d.Name()+"_trigger",
			pulses.Start(tStart),
			pulses.RequireConnection(wiring.Criteria{
				InputInstrument: d.Name(),
				Trigger:         wiring.Flag(true),
			}),
		),
	}
}

// Setup derives the trigger configuration and the per-pulse trace shapes.
// Arming the capture is deferred to a post-start action so the record only
// begins once every instrument is running.
func (d *Interface) Setup(opts instrument.SetupOptions) (instrument.SetupResult, error) {
	d.ready = false

	acquired := d.acquiredPulses()
	if len(acquired) == 0 {
		return instrument.SetupResult{}, ErrNoAcquisitionPulses
	}

	trigger, err := d.deriveTrigger()
	if err != nil {
		return instrument.SetupResult{}, err
	}
	d.trigger = trigger

	tStart := math.Inf(1)
	tStop := math.Inf(-1)
	shapes := make(map[string][]int, len(acquired))
	for _, p := range acquired {
		tStart = math.Min(tStart, p.Start())
		tStop = math.Max(tStop, p.Stop())
		points := int(math.Round(p.Duration() * d.cfg.SampleRate))
		switch p.AverageMode() {
		case pulses.AveragePoint:
			shapes[p.FullName()] = []int{1}
		case pulses.AverageTrace:
			shapes[p.FullName()] = []int{points}
		default:
			shapes[p.FullName()] = []int{opts.Samples, points}
		}
	}

	window := tStop - tStart
	samplesPerRecord := int(samplesGranularity * math.Ceil(window*d.cfg.SampleRate/samplesGranularity))
	d.acquisition = Acquisition{
		SamplesPerRecord: samplesPerRecord,
		Records:          opts.Samples,
		Shapes:           shapes,
	}

	d.ready = true
	return instrument.SetupResult{
		PostStartActions: []func() error{d.arm},
	}, nil
}

// deriveTrigger reads the earliest trigger edge arriving at the board and
// turns its voltage transition into slope, threshold, and level settings.
func (d *Interface) deriveTrigger() (TriggerSettings, error) {
	triggers := d.InputSequence().GetPulses(pulses.OfKind(pulses.KindTrigger))
	if len(triggers) == 0 {
		return TriggerSettings{}, fmt.Errorf("%w: no trigger pulse arrives at %s", ErrNoTriggerTransition, d.Name())
	}
	edge := triggers[0]

	pre, post, err := d.InputSequence().TransitionVoltages(edge.Connection(), nil, edge.Start())
	if err != nil {
		// No predecessor on the trigger line: the line idles low and the
		// edge rises to the pulse amplitude.
		pre, post = 0, edge.Amplitude()
	}
	if pre == post {
		return TriggerSettings{}, fmt.Errorf("%w: flat at %.3gV", ErrNoTriggerTransition, pre)
	}

	slope := "positive"
	if post < pre {
		slope = "negative"
	}
	threshold := (pre + post) / 2
	level := int(128 + 127*threshold/d.cfg.TriggerRange)
	return TriggerSettings{Slope: slope, Threshold: threshold, Level: level}, nil
}

// acquiredPulses returns the targeted pulses flagged for acquisition.
func (d *Interface) acquiredPulses() []*pulses.Pulse {
	var out []*pulses.Pulse
	for _, p := range d.Sequence().EnabledPulses() {
		if p.Acquires() {
			out = append(out, p)
		}
	}
	return out
}

// Start is a no-op; capture begins with the post-start arm action.
func (d *Interface) Start() error {
	if !d.ready {
		return ErrNotSetUp
	}
	return nil
}

// Stop disarms the capture.
func (d *Interface) Stop() error {
	d.armed = false
	return nil
}

func (d *Interface) arm() error {
	if !d.ready {
		return ErrNotSetUp
	}
	d.armed = true
	return nil
}

// Armed reports whether the capture is waiting for its trigger.
func (d *Interface) Armed() bool { return d.armed }

// Trigger returns the derived trigger settings, valid after Setup.
func (d *Interface) Trigger() TriggerSettings { return d.trigger }

// AcquisitionPlan returns the derived record configuration, valid after Setup.
func (d *Interface) AcquisitionPlan() Acquisition { return d.acquisition }
