package instrument

import (
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// SetupOptions carries whole-sequence facts every backend needs when
// compiling its partition.
type SetupOptions struct {
	// Duration is the whole-system sequence duration.
	Duration float64

	// FinalDelay is the trailing quiet time; the root clock interface must
	// honor it, others may.
	FinalDelay float64

	// Samples is the number of acquisition records, for digitizer backends.
	Samples int
}

// SetupResult is returned by Interface.Setup.
type SetupResult struct {
	// PostStartActions run after every interface has started, in the
	// order the interfaces were set up. Backends use them for steps that
	// require all other instruments to sit at a stable idle voltage.
	PostStartActions []func() error
}

// Interface is a per-device backend translating targeted pulses into
// concrete hardware instructions.
type Interface interface {
	// Name returns the instrument name, unique within a layout.
	Name() string

	// Channels returns every physical channel of the instrument.
	Channels() []wiring.Channel

	// Channel looks up a channel by name.
	Channel(name string) (wiring.Channel, bool)

	// PulseImplementation returns the registered implementation accepting
	// the pulse, or nil when the interface cannot realize it.
	PulseImplementation(p *pulses.Pulse) *pulses.Implementation

	// ClearPulses empties the targeted sequence.
	ClearPulses()

	// AddPulse appends a targeted pulse (unchecked fast path; the layout
	// finalizes the sequence after distribution).
	AddPulse(p *pulses.Pulse) error

	// AddInputPulse records a pulse arriving on one of the instrument's
	// input channels, e.g. the trigger edge a digitizer derives its
	// threshold from.
	AddInputPulse(p *pulses.Pulse) error

	// Sequence returns the interface's targeted sequence.
	Sequence() *pulses.Sequence

	// InputSequence returns the pulses arriving on input channels.
	InputSequence() *pulses.Sequence

	// AdditionalPulses returns auxiliary pulses the interface needs for
	// its assigned partition, e.g. its own trigger-in requirement. Each
	// pulse carries connection requirements for routing.
	AdditionalPulses(opts SetupOptions) []*pulses.Pulse

	// Setup compiles the targeted sequence into device instructions.
	// Setup may block on hardware round-trips.
	Setup(opts SetupOptions) (SetupResult, error)

	// Start arms/starts the instrument.
	Start() error

	// Stop stops the instrument.
	Stop() error
}
