package digitizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

func acquireLine(label, input string) *wiring.SingleConnection {
	return wiring.NewSingleConnection(
		wiring.Endpoint{Instrument: "chip", Channel: "ohmic"},
		wiring.Endpoint{Instrument: "digitizer", Channel: input},
		wiring.Flags{Acquire: true, Label: label},
	)
}

func triggerLine() *wiring.SingleConnection {
	return wiring.NewSingleConnection(
		wiring.Endpoint{Instrument: "pb", Channel: "ch2"},
		wiring.Endpoint{Instrument: "digitizer", Channel: "trig_in"},
		wiring.Flags{Trigger: true},
	)
}

// addAcquired records a pulse mirrored to the board by the targeting engine.
func addAcquired(t *testing.T, d *Interface, p *pulses.Pulse, conn wiring.Connection) {
	t.Helper()
	p.SetImplementation(pulses.NewImplementation(p.Kind()))
	p.SetConnection(conn)
	require.NoError(t, d.AddPulse(p))
}

func addInputTrigger(t *testing.T, d *Interface, p *pulses.Pulse) {
	t.Helper()
	p.SetConnection(triggerLine())
	require.NoError(t, d.AddInputPulse(p))
}

func TestSetupDerivesAcquisition(t *testing.T) {
	d := New(Config{Name: "digitizer"})

	addAcquired(t, d, pulses.NewDC("trace", 0.2, pulses.Start(0), pulses.Duration(2e-3),
		pulses.Acquire(), pulses.Average(pulses.AverageTrace)), acquireLine("a", "chA"))
	addAcquired(t, d, pulses.NewDC("point", 0.1, pulses.Start(2e-3), pulses.Duration(1e-3),
		pulses.Acquire(), pulses.Average(pulses.AveragePoint)), acquireLine("b", "chB"))
	addAcquired(t, d, pulses.NewDC("raw", 0.3, pulses.Start(3e-3), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("c", "chC"))
	require.NoError(t, d.Sequence().FinishQuickAdd())

	addInputTrigger(t, d, pulses.NewTrigger("digitizer_trigger", pulses.Start(0)))
	require.NoError(t, d.InputSequence().FinishQuickAdd())

	result, err := d.Setup(instrument.SetupOptions{Duration: 4e-3, Samples: 10})
	require.NoError(t, err)
	require.Len(t, result.PostStartActions, 1)

	acq := d.AcquisitionPlan()
	assert.Equal(t, 800000, acq.SamplesPerRecord, "0..4ms at 200MS/s")
	assert.Equal(t, 10, acq.Records)
	assert.Equal(t, []int{400000}, acq.Shapes["trace"])
	assert.Equal(t, []int{1}, acq.Shapes["point"])
	assert.Equal(t, []int{10, 200000}, acq.Shapes["raw"], "unaveraged records keep every sample")
}

func TestSetupPadsRecordLength(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(0), pulses.Duration(1.00001e-3),
		pulses.Acquire(), pulses.Average(pulses.AverageTrace)), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())
	addInputTrigger(t, d, pulses.NewTrigger("digitizer_trigger", pulses.Start(0)))
	require.NoError(t, d.InputSequence().FinishQuickAdd())

	_, err := d.Setup(instrument.SetupOptions{Duration: 2e-3, Samples: 1})
	require.NoError(t, err)

	// 200002 samples round up to the next multiple of 16.
	assert.Equal(t, 200016, d.AcquisitionPlan().SamplesPerRecord)
}

func TestSetupNoAcquisitionPulses(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	_, err := d.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	assert.ErrorIs(t, err, ErrNoAcquisitionPulses)
}

func TestDeriveTriggerIdleLow(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(1e-3), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())

	// A lone edge on an idle-low line rises from 0V to its amplitude.
	addInputTrigger(t, d, pulses.NewTrigger("digitizer_trigger", pulses.Start(1e-3), pulses.Amplitude(3.3/2)))
	require.NoError(t, d.InputSequence().FinishQuickAdd())

	_, err := d.Setup(instrument.SetupOptions{Duration: 2e-3, Samples: 1})
	require.NoError(t, err)

	trig := d.Trigger()
	assert.Equal(t, "positive", trig.Slope)
	assert.InDelta(t, 0.825, trig.Threshold, 1e-12)
	assert.Equal(t, 148, trig.Level)
}

func TestDeriveTriggerFallingEdge(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(1e-3), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())

	// The line is held at 5V until the edge drops it to 1V.
	hold := pulses.NewDC("hold", 5, pulses.Start(0), pulses.Duration(1e-3))
	hold.SetConnection(triggerLine())
	require.NoError(t, d.AddInputPulse(hold))
	addInputTrigger(t, d, pulses.NewTrigger("digitizer_trigger", pulses.Start(1e-3)))
	require.NoError(t, d.InputSequence().FinishQuickAdd())

	_, err := d.Setup(instrument.SetupOptions{Duration: 2e-3, Samples: 1})
	require.NoError(t, err)

	trig := d.Trigger()
	assert.Equal(t, "negative", trig.Slope)
	assert.InDelta(t, 3, trig.Threshold, 1e-12)
	assert.Equal(t, 204, trig.Level)
}

func TestDeriveTriggerNoEdge(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(0), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())

	_, err := d.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	assert.ErrorIs(t, err, ErrNoTriggerTransition)
}

func TestArmIsPostStart(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(0), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())
	addInputTrigger(t, d, pulses.NewTrigger("digitizer_trigger", pulses.Start(0)))
	require.NoError(t, d.InputSequence().FinishQuickAdd())

	result, err := d.Setup(instrument.SetupOptions{Duration: 1e-3, Samples: 1})
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.False(t, d.Armed(), "capture waits until every instrument runs")

	require.Len(t, result.PostStartActions, 1)
	require.NoError(t, result.PostStartActions[0]())
	assert.True(t, d.Armed())

	require.NoError(t, d.Stop())
	assert.False(t, d.Armed())
}

func TestStartRequiresSetup(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	assert.ErrorIs(t, d.Start(), ErrNotSetUp)
}

func TestAdditionalPulsesRequestTrigger(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	assert.Nil(t, d.AdditionalPulses(instrument.SetupOptions{}))

	addAcquired(t, d, pulses.NewDC("read", 0.2, pulses.Start(1e-3), pulses.Duration(1e-3),
		pulses.Acquire()), acquireLine("a", "chA"))
	require.NoError(t, d.Sequence().FinishQuickAdd())

	extra := d.AdditionalPulses(instrument.SetupOptions{})
	require.Len(t, extra, 1)
	assert.Equal(t, pulses.KindTrigger, extra[0].Kind())
	assert.Equal(t, 1e-3, extra[0].Start(), "trigger at the first acquisition instant")
	cr := extra[0].ConnectionRequirements()
	assert.Equal(t, "digitizer", cr.InputInstrument)
}

func TestConfigDefaults(t *testing.T) {
	d := New(Config{Name: "digitizer"})
	assert.Equal(t, 200e6, d.Config().SampleRate)
	assert.Equal(t, 5.0, d.Config().TriggerRange)
}
