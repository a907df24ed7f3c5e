package pulseblaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

func boardConnection(name, channel, to string) *wiring.SingleConnection {
	return wiring.NewSingleConnection(
		wiring.Endpoint{Instrument: name, Channel: channel},
		wiring.Endpoint{Instrument: to, Channel: "trig_in"},
		wiring.Flags{Trigger: true},
	)
}

func addTargeted(t *testing.T, b *Interface, p *pulses.Pulse, conn wiring.Connection) {
	t.Helper()
	impl := b.PulseImplementation(p)
	require.NotNil(t, impl)
	p.SetImplementation(impl)
	p.SetConnection(conn)
	require.NoError(t, b.AddPulse(p))
}

func TestSetupCompilesEventGrid(t *testing.T) {
	b := New(Config{Name: "pb"})
	awgLine := boardConnection("pb", "ch1", "awg")
	digLine := boardConnection("pb", "ch2", "digitizer")

	// Zero-duration edges widen to the minimum pulse width.
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), awgLine)
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(1e-3)), digLine)
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 2e-3, FinalDelay: 1e-3, Samples: 1})
	require.NoError(t, err)

	assert.Equal(t, []Instruction{
		{Flags: 1, Op: OpContinue, Ticks: 50},
		{Flags: 0, Op: OpContinue, Ticks: 499950},
		{Flags: 2, Op: OpContinue, Ticks: 50},
		{Flags: 0, Op: OpContinue, Ticks: 999950},
		{Op: OpBranch, Arg: 0, Ticks: 50},
	}, b.Instructions())
}

func TestSetupOverlappingFlags(t *testing.T) {
	b := New(Config{Name: "pb"})
	addTargeted(t, b, pulses.NewMarker("gate_high", 1, pulses.Start(0), pulses.Duration(2e-6)),
		boardConnection("pb", "ch1", "awg"))
	addTargeted(t, b, pulses.NewMarker("aux_high", 1, pulses.Start(1e-6), pulses.Duration(2e-6)),
		boardConnection("pb", "ch3", "digitizer"))
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 3e-6, Samples: 1})
	require.NoError(t, err)

	instrs := b.Instructions()
	require.Len(t, instrs, 4)
	assert.Equal(t, uint32(1), instrs[0].Flags)
	assert.Equal(t, uint32(1|4), instrs[1].Flags, "both channels high while the markers overlap")
	assert.Equal(t, uint32(4), instrs[2].Flags)
	assert.Equal(t, OpBranch, instrs[3].Op)
}

func TestSetupOnceStopsInsteadOfBranching(t *testing.T) {
	b := New(Config{Name: "pb", Once: true})
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), boardConnection("pb", "ch1", "awg"))
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	require.NoError(t, err)

	instrs := b.Instructions()
	assert.Equal(t, OpStop, instrs[len(instrs)-1].Op)
}

func TestSetupLongDelaySplit(t *testing.T) {
	b := New(Config{Name: "pb"})
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), boardConnection("pb", "ch1", "awg"))
	require.NoError(t, b.Sequence().FinishQuickAdd())

	// A 5s quiet hold exceeds the single-instruction tick limit.
	_, err := b.Setup(instrument.SetupOptions{Duration: 5, Samples: 1})
	require.NoError(t, err)

	instrs := b.Instructions()
	require.Len(t, instrs, 4)
	assert.Equal(t, Instruction{Flags: 1, Op: OpContinue, Ticks: 50}, instrs[0])
	assert.Equal(t, Instruction{Flags: 0, Op: OpContinue, Ticks: 100}, instrs[1])
	assert.Equal(t, OpLongDelay, instrs[2].Op)
	assert.Equal(t, 3, instrs[2].Arg)
	assert.Equal(t, int64(833333283), instrs[2].Ticks)
	assert.Equal(t, OpBranch, instrs[3].Op)
}

func TestSetupIntervalTooShort(t *testing.T) {
	b := New(Config{Name: "pb"})
	line := boardConnection("pb", "ch1", "awg")
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), line)
	// The second flank lands half a clock tick after the first pulse ends.
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(1e-7+5e-10)), line)
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	assert.ErrorIs(t, err, ErrIntervalTooShort)
}

func TestSetupUnroutedPulse(t *testing.T) {
	b := New(Config{Name: "pb"})
	foreign := wiring.NewSingleConnection(
		wiring.Endpoint{Instrument: "awg", Channel: "ch1"},
		wiring.Endpoint{Instrument: "chip", Channel: "gate"},
		wiring.Flags{})
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), foreign)
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	assert.ErrorIs(t, err, ErrUnroutedPulse)
}

func TestStartRequiresSetup(t *testing.T) {
	b := New(Config{Name: "pb"})
	assert.ErrorIs(t, b.Start(), ErrNotSetUp)
}

func TestLifecycle(t *testing.T) {
	b := New(Config{Name: "pb"})
	addTargeted(t, b, pulses.NewTrigger("trigger", pulses.Start(0)), boardConnection("pb", "ch1", "awg"))
	require.NoError(t, b.Sequence().FinishQuickAdd())

	_, err := b.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	assert.True(t, b.Running())
	require.NoError(t, b.Stop())
	assert.False(t, b.Running())
}

func TestConfigDefaults(t *testing.T) {
	b := New(Config{Name: "pb"})
	cfg := b.Config()
	assert.Equal(t, 500e6, cfg.CoreClock)
	assert.Equal(t, 100e-9, cfg.MinPulseWidth)
	assert.Equal(t, 4, cfg.ChannelCount)
	assert.Len(t, b.OutputChannels(), 4)
}
