package instrument

import (
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Base provides the channel registry, implementation registry, and targeted
// sequence shared by all backends. Backends embed Base and implement Setup,
// Start, and Stop themselves.
type Base struct {
	name            string
	channels        map[string]wiring.Channel
	channelOrder    []string
	implementations []*pulses.Implementation
	seq             *pulses.Sequence
	inputSeq        *pulses.Sequence
}

// NewBase creates the shared backend state. The targeted sequence accepts
// only targeted pulses and forbids overlap on a connection.
func NewBase(name string, channels []wiring.Channel, implementations []*pulses.Implementation) *Base {
	byName := make(map[string]wiring.Channel, len(channels))
	order := make([]string, 0, len(channels))
	for _, ch := range channels {
		byName[ch.Name] = ch
		order = append(order, ch.Name)
	}
	return &Base{
		name:            name,
		channels:        byName,
		channelOrder:    order,
		implementations: implementations,
		seq: pulses.NewSequence(pulses.SequenceConfig{
			AllowUntargetedPulses: false,
			AllowTargetedPulses:   true,
			AllowPulseOverlap:     false,
			FinalDelay:            pulses.DefaultFinalDelay,
		}),
		// Input pulses from different upstream channels may coincide.
		inputSeq: pulses.NewSequence(pulses.SequenceConfig{
			AllowUntargetedPulses: true,
			AllowTargetedPulses:   true,
			AllowPulseOverlap:     true,
			FinalDelay:            pulses.DefaultFinalDelay,
		}),
	}
}

// Name returns the instrument name.
func (b *Base) Name() string { return b.name }

// Channels returns the instrument channels in registration order.
func (b *Base) Channels() []wiring.Channel {
	out := make([]wiring.Channel, 0, len(b.channelOrder))
	for _, name := range b.channelOrder {
		out = append(out, b.channels[name])
	}
	return out
}

// Channel looks up a channel by name.
func (b *Base) Channel(name string) (wiring.Channel, bool) {
	ch, ok := b.channels[name]
	return ch, ok
}

// OutputChannels returns the channels that can source a signal.
func (b *Base) OutputChannels() []wiring.Channel {
	var out []wiring.Channel
	for _, name := range b.channelOrder {
		if ch := b.channels[name]; ch.Output {
			out = append(out, ch)
		}
	}
	return out
}

// Implementations returns the registered pulse implementations.
func (b *Base) Implementations() []*pulses.Implementation {
	return b.implementations
}

// PulseImplementation returns the first registered implementation accepting
// the pulse, or nil.
func (b *Base) PulseImplementation(p *pulses.Pulse) *pulses.Implementation {
	for _, im := range b.implementations {
		if im.Accepts(p) {
			return im
		}
	}
	return nil
}

// ClearPulses empties the targeted and input sequences.
func (b *Base) ClearPulses() {
	b.seq.Clear()
	b.inputSeq.Clear()
}

// AddPulse appends a targeted pulse via the unchecked fast path.
func (b *Base) AddPulse(p *pulses.Pulse) error {
	_, err := b.seq.QuickAdd(p)
	return err
}

// AddInputPulse records a pulse arriving on an input channel.
func (b *Base) AddInputPulse(p *pulses.Pulse) error {
	_, err := b.inputSeq.QuickAdd(p)
	return err
}

// Sequence returns the targeted sequence.
func (b *Base) Sequence() *pulses.Sequence { return b.seq }

// InputSequence returns the pulses arriving on input channels.
func (b *Base) InputSequence() *pulses.Sequence { return b.inputSeq }

// AdditionalPulses returns no auxiliary pulses; backends override it when
// they need triggers of their own.
func (b *Base) AdditionalPulses(SetupOptions) []*pulses.Pulse { return nil }
