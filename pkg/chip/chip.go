// Package chip implements the passive sample-holder interface: the device
// under test, whose gates and ohmic contacts terminate the analog wiring.
// It realizes measurement pulses, which produce no output of their own but
// anchor the acquisition connections the digitizer records from. The chip
// has no trigger input and needs no synchronization.
package chip

import (
	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Interface is the sample-holder backend. Setup, start, and stop are no-ops
// since the device is passive.
type Interface struct {
	*instrument.Base
}

// New creates a chip interface whose named terminals (gates, ohmics) act as
// both inputs and outputs of the analog wiring.
func New(name string, terminals ...string) *Interface {
	channels := make([]wiring.Channel, 0, len(terminals))
	for i, terminal := range terminals {
		channels = append(channels, wiring.Channel{
			Instrument: name,
			Name:       terminal,
			ID:         i,
			Output:     true,
			Input:      true,
		})
	}
	implementations := []*pulses.Implementation{
		pulses.NewImplementation(pulses.KindMeasurement),
	}
	return &Interface{Base: instrument.NewBase(name, channels, implementations)}
}

// Setup is a no-op for the passive device.
func (c *Interface) Setup(instrument.SetupOptions) (instrument.SetupResult, error) {
	return instrument.SetupResult{}, nil
}

// Start is a no-op for the passive device.
func (c *Interface) Start() error { return nil }

// Stop is a no-op for the passive device.
func (c *Interface) Stop() error { return nil }
