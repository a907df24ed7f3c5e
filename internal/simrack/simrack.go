// Package simrack assembles a reference measurement rack for tests and the
// command line tools: a pulse blaster as root clock, an AWG, a digitizer,
// and a passive chip, wired the way a typical spin-qubit setup is cabled.
package simrack

import (
	"fmt"

	"github.com/MorelloLab/SilQ/pkg/awg"
	"github.com/MorelloLab/SilQ/pkg/chip"
	"github.com/MorelloLab/SilQ/pkg/digitizer"
	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/layout"
	"github.com/MorelloLab/SilQ/pkg/log"
	"github.com/MorelloLab/SilQ/pkg/pulseblaster"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Instrument names used by the reference rack.
const (
	PulseBlasterName = "pulseblaster"
	AWGName          = "awg"
	DigitizerName    = "digitizer"
	ChipName         = "chip"
)

// Rack is the assembled reference setup.
type Rack struct {
	Layout       *layout.Layout
	PulseBlaster *pulseblaster.Interface
	AWG          *awg.Interface
	Digitizer    *digitizer.Interface
	Chip         *chip.Interface
}

// NewBare registers the four rack instruments on a fresh layout without any
// wiring, for callers that declare their own connections.
func NewBare(logger log.Logger) (*Rack, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}

	r := &Rack{
		Layout:       layout.New(logger),
		PulseBlaster: pulseblaster.New(pulseblaster.Config{Name: PulseBlasterName}),
		AWG:          awg.New(awg.Config{Name: AWGName}),
		Digitizer:    digitizer.New(digitizer.Config{Name: DigitizerName}),
		Chip:         chip.New(ChipName, "gate", "ohmic"),
	}

	for _, iface := range []instrument.Interface{
		r.PulseBlaster, r.AWG, r.Digitizer, r.Chip,
	} {
		if err := r.Layout.AddInterface(iface); err != nil {
			return nil, fmt.Errorf("register %s: %w", iface.Name(), err)
		}
	}
	return r, nil
}

// New builds the reference rack:
//
//	pulseblaster.ch1 --trigger--> awg.trig_in
//	pulseblaster.ch2 --trigger--> digitizer.trig_in
//	awg.ch1          --default--> chip.gate
//	chip.ohmic       --acquire--> digitizer.chA
//
// The pulse blaster is the root trigger instrument and the digitizer the
// acquisition instrument.
func New(logger log.Logger) (*Rack, error) {
	r, err := NewBare(logger)
	if err != nil {
		return nil, err
	}

	wires := []struct {
		output, input string
		flags         wiring.Flags
	}{
		{PulseBlasterName + ".ch1", AWGName + ".trig_in", wiring.Flags{Trigger: true}},
		{PulseBlasterName + ".ch2", DigitizerName + ".trig_in", wiring.Flags{Trigger: true}},
		{AWGName + ".ch1", ChipName + ".gate", wiring.Flags{Default: true, Label: "gate"}},
		{ChipName + ".ohmic", DigitizerName + ".chA", wiring.Flags{Acquire: true, Default: true, Label: "readout"}},
	}
	for _, w := range wires {
		if _, err := r.Layout.AddConnection(w.output, w.input, w.flags); err != nil {
			return nil, fmt.Errorf("connect %s to %s: %w", w.output, w.input, err)
		}
	}

	if err := r.Layout.SetTriggerInstrument(PulseBlasterName); err != nil {
		return nil, err
	}
	if err := r.Layout.SetAcquisitionInstrument(DigitizerName); err != nil {
		return nil, err
	}
	return r, nil
}

var _ instrument.Interface = (*Stage)(nil)

// Stage is a minimal triggerable instrument for chain fixtures. It has one
// output and one trigger input and implements trigger and DC pulses, so a
// chain of stages can relay the root clock downstream.
type Stage struct {
	*instrument.Base

	ready    bool
	started  bool
	stopped  bool
	startErr error
	stopErr  error
}

// NewStage creates a chain stage named name.
func NewStage(name string) *Stage {
	ttl := wiring.TTLLevels{Low: 0, High: 2.5}
	channels := []wiring.Channel{
		{Instrument: name, Name: "out", ID: 0, Output: true, OutputTTL: &ttl},
		{Instrument: name, Name: "trig_in", InputTrigger: true},
	}
	implementations := []*pulses.Implementation{
		pulses.NewImplementation(pulses.KindTrigger),
	}
	return &Stage{Base: instrument.NewBase(name, channels, implementations)}
}

// FailStart makes Start return err.
func (s *Stage) FailStart(err error) { s.startErr = err }

// FailStop makes Stop return err.
func (s *Stage) FailStop(err error) { s.stopErr = err }

func (s *Stage) Setup(instrument.SetupOptions) (instrument.SetupResult, error) {
	s.ready = true
	return instrument.SetupResult{}, nil
}

func (s *Stage) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *Stage) Stop() error {
	if s.stopErr != nil {
		return s.stopErr
	}
	s.started = false
	s.stopped = true
	return nil
}

// Ready reports whether Setup ran.
func (s *Stage) Ready() bool { return s.ready }

// Started reports whether the stage is running.
func (s *Stage) Started() bool { return s.started }

// Stopped reports whether Stop ran.
func (s *Stage) Stopped() bool { return s.stopped }

// Chain is a rack whose AWG is reached through n relay stages instead of
// being triggered by the root clock directly.
type Chain struct {
	Layout       *layout.Layout
	PulseBlaster *pulseblaster.Interface
	Stages       []*Stage
	AWG          *awg.Interface
	Chip         *chip.Interface
}

// NewChain builds pulseblaster -> stage1 -> ... -> stageN -> awg, each hop a
// trigger connection, with the AWG output wired to a chip gate.
func NewChain(logger log.Logger, n int) (*Chain, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Chain{
		Layout:       layout.New(logger),
		PulseBlaster: pulseblaster.New(pulseblaster.Config{Name: PulseBlasterName}),
		AWG:          awg.New(awg.Config{Name: AWGName}),
		Chip:         chip.New(ChipName, "gate"),
	}
	ifaces := []instrument.Interface{c.PulseBlaster}
	for k := 1; k <= n; k++ {
		stage := NewStage(fmt.Sprintf("stage%d", k))
		c.Stages = append(c.Stages, stage)
		ifaces = append(ifaces, stage)
	}
	ifaces = append(ifaces, c.AWG, c.Chip)

	for _, iface := range ifaces {
		if err := c.Layout.AddInterface(iface); err != nil {
			return nil, fmt.Errorf("register %s: %w", iface.Name(), err)
		}
	}

	upstream := PulseBlasterName + ".ch1"
	for _, stage := range c.Stages {
		if _, err := c.Layout.AddConnection(upstream, stage.Name()+".trig_in", wiring.Flags{Trigger: true}); err != nil {
			return nil, err
		}
		upstream = stage.Name() + ".out"
	}
	if _, err := c.Layout.AddConnection(upstream, AWGName+".trig_in", wiring.Flags{Trigger: true}); err != nil {
		return nil, err
	}
	if _, err := c.Layout.AddConnection(AWGName+".ch1", ChipName+".gate", wiring.Flags{Default: true, Label: "gate"}); err != nil {
		return nil, err
	}

	if err := c.Layout.SetTriggerInstrument(PulseBlasterName); err != nil {
		return nil, err
	}
	return c, nil
}
