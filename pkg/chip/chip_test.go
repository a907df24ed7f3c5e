package chip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/pulses"
)

func TestTerminals(t *testing.T) {
	c := New("chip", "gate", "ohmic")

	channels := c.Channels()
	require.Len(t, channels, 2)
	for i, ch := range channels {
		assert.Equal(t, "chip", ch.Instrument)
		assert.Equal(t, i, ch.ID)
		assert.True(t, ch.Input, "%s must accept signals", ch.Name)
		assert.True(t, ch.Output, "%s must source signals", ch.Name)
	}

	gate, ok := c.Channel("gate")
	require.True(t, ok)
	assert.Equal(t, "gate", gate.Name)

	_, ok = c.Channel("barrier")
	assert.False(t, ok)
}

func TestImplementsMeasurementOnly(t *testing.T) {
	c := New("chip", "gate")

	assert.NotNil(t, c.PulseImplementation(pulses.NewMeasurement("measure", pulses.Duration(1e-3))))
	assert.Nil(t, c.PulseImplementation(pulses.NewDC("plunge", 0.5, pulses.Duration(1e-3))))
	assert.Nil(t, c.PulseImplementation(pulses.NewTrigger("trigger", pulses.Start(0))))
}

func TestPassiveLifecycle(t *testing.T) {
	c := New("chip", "gate", "ohmic")

	result, err := c.Setup(instrument.SetupOptions{Duration: 1e-3})
	require.NoError(t, err)
	assert.Empty(t, result.PostStartActions)

	assert.NoError(t, c.Start())
	assert.NoError(t, c.Stop())
}
