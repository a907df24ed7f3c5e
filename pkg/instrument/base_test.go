package instrument_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

func testChannels() []wiring.Channel {
	return []wiring.Channel{
		{Instrument: "dev", Name: "ch1", ID: 0, Output: true},
		{Instrument: "dev", Name: "ch2", ID: 1, Output: true},
		{Instrument: "dev", Name: "trig_in", ID: 2, InputTrigger: true},
	}
}

func TestBaseChannels(t *testing.T) {
	b := instrument.NewBase("dev", testChannels(), nil)

	assert.Equal(t, "dev", b.Name())

	channels := b.Channels()
	require.Len(t, channels, 3)
	assert.Equal(t, []string{"ch1", "ch2", "trig_in"},
		[]string{channels[0].Name, channels[1].Name, channels[2].Name},
		"channels keep registration order")

	outputs := b.OutputChannels()
	require.Len(t, outputs, 2)
	assert.Equal(t, "ch1", outputs[0].Name)
	assert.Equal(t, "ch2", outputs[1].Name)

	ch, ok := b.Channel("trig_in")
	require.True(t, ok)
	assert.True(t, ch.InputTrigger)

	_, ok = b.Channel("ch3")
	assert.False(t, ok)
}

func TestBasePulseImplementationFirstMatch(t *testing.T) {
	low := pulses.NewImplementation(pulses.KindDC, pulses.AtMost("amplitude", 1.0))
	high := pulses.NewImplementation(pulses.KindDC, pulses.AtMost("amplitude", 2.0))
	b := instrument.NewBase("dev", testChannels(), []*pulses.Implementation{low, high})

	small := pulses.NewDC("small", 0.5, pulses.Duration(1e-3))
	assert.Same(t, low, b.PulseImplementation(small), "first accepting implementation wins")

	big := pulses.NewDC("big", 1.5, pulses.Duration(1e-3))
	assert.Same(t, high, b.PulseImplementation(big))

	sine := pulses.NewSine("tone", 1e6, 0.5, pulses.Duration(1e-3))
	assert.Nil(t, b.PulseImplementation(sine))
}

func TestBaseSequencePolicies(t *testing.T) {
	impl := pulses.NewImplementation(pulses.KindDC)
	b := instrument.NewBase("dev", testChannels(), []*pulses.Implementation{impl})

	// The targeted sequence rejects untargeted pulses.
	bare := pulses.NewDC("bare", 0.1, pulses.Start(0), pulses.Duration(1e-3))
	err := b.AddPulse(bare)
	assert.ErrorIs(t, err, pulses.ErrUntargetedNotAllowed)

	targeted := pulses.NewDC("plunge", 0.5, pulses.Start(0), pulses.Duration(1e-3))
	targeted.SetImplementation(impl)
	require.NoError(t, b.AddPulse(targeted))
	require.NoError(t, b.Sequence().FinishQuickAdd())
	assert.Equal(t, 1, b.Sequence().Len())

	// The input sequence admits untargeted pulses and coinciding arrivals.
	in1 := pulses.NewTrigger("edge", pulses.Start(0))
	in2 := pulses.NewTrigger("edge", pulses.Start(0))
	require.NoError(t, b.AddInputPulse(in1))
	require.NoError(t, b.AddInputPulse(in2))
	require.NoError(t, b.InputSequence().FinishQuickAdd())
	assert.Equal(t, 2, b.InputSequence().Len())
}

func TestBaseClearPulses(t *testing.T) {
	impl := pulses.NewImplementation(pulses.KindDC)
	b := instrument.NewBase("dev", testChannels(), []*pulses.Implementation{impl})

	p := pulses.NewDC("plunge", 0.5, pulses.Start(0), pulses.Duration(1e-3))
	p.SetImplementation(impl)
	require.NoError(t, b.AddPulse(p))
	require.NoError(t, b.AddInputPulse(pulses.NewTrigger("edge", pulses.Start(0))))

	b.ClearPulses()
	assert.True(t, b.Sequence().Empty())
	assert.True(t, b.InputSequence().Empty())
}

func TestBaseAdditionalPulsesEmpty(t *testing.T) {
	b := instrument.NewBase("dev", testChannels(), nil)
	assert.Nil(t, b.AdditionalPulses(instrument.SetupOptions{Duration: 1e-3}))
}
