package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorelloLab/SilQ/pkg/pulses"
)

const setupYAML = `
environment: cold
final_delay: 0.002
properties:
  gate_voltage: 0.4
  sample_temperature: 4.2
pulses:
  plunge:
    amplitude: 0.5
    duration: 0.001
  read:
    amplitude: 0.2
environments:
  cold:
    pulses:
      plunge:
        amplitude: 0.35
    properties:
      gate_voltage: 0.3
connections:
  - output: pulseblaster.ch1
    input: awg.trig_in
    trigger: true
  - output: awg.ch1
    input: chip.gate
    default: true
    label: gate
sequence:
  - name: plunge
    kind: DC
    t_start: 0
  - name: read
    kind: DC
    duration: 0.002
    acquire: true
    average: trace
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(setupYAML))
	require.NoError(t, err)

	assert.Equal(t, "cold", cfg.Environment)
	assert.Equal(t, 0.002, cfg.FinalDelay)
	require.Len(t, cfg.Connections, 2)
	assert.True(t, cfg.Connections[0].Trigger)
	assert.Equal(t, "gate", cfg.Connections[1].Label)
	require.Len(t, cfg.Sequence, 2)
	assert.Equal(t, "DC", cfg.Sequence[0].Kind)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown environment", "environment: warm\n"},
		{"missing connection endpoint", "connections:\n  - output: awg.ch1\n"},
		{"unknown pulse kind", "sequence:\n  - name: p\n    kind: gaussian\n"},
		{"unknown average mode", "sequence:\n  - name: p\n    kind: DC\n    average: median\n"},
		{"malformed yaml", "pulses: ["},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("environment: warm\n"))
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestPulseDefaultsPrecedence(t *testing.T) {
	cfg, err := Parse([]byte(setupYAML))
	require.NoError(t, err)

	// The environment override wins over the global default; attributes the
	// environment does not override keep the global value.
	d := cfg.PulseDefaults("plunge")
	require.NotNil(t, d.Amplitude)
	assert.Equal(t, 0.35, *d.Amplitude)
	require.NotNil(t, d.Duration)
	assert.Equal(t, 0.001, *d.Duration)

	// Without an active environment the globals apply unchanged.
	cfg.Environment = ""
	d = cfg.PulseDefaults("plunge")
	assert.Equal(t, 0.5, *d.Amplitude)
}

func TestApplyKeepsExplicitAttributes(t *testing.T) {
	cfg, err := Parse([]byte(setupYAML))
	require.NoError(t, err)

	p := pulses.NewDC("plunge", 0.9, pulses.Start(0))
	cfg.Apply(p)
	assert.Equal(t, 0.9, p.Amplitude(), "explicit amplitude is never overridden")
	assert.Equal(t, 0.001, p.Duration(), "unset duration falls back to the defaults")
}

func TestProperty(t *testing.T) {
	cfg, err := Parse([]byte(setupYAML))
	require.NoError(t, err)

	v, ok := cfg.Property("gate_voltage")
	require.True(t, ok)
	assert.Equal(t, 0.3, v, "environment override wins")

	v, ok = cfg.Property("sample_temperature")
	require.True(t, ok)
	assert.Equal(t, 4.2, v)

	_, ok = cfg.Property("nope")
	assert.False(t, ok)
}

func TestBuildSequence(t *testing.T) {
	cfg, err := Parse([]byte(setupYAML))
	require.NoError(t, err)

	seq, err := cfg.BuildSequence()
	require.NoError(t, err)
	require.Equal(t, 2, seq.Len())
	assert.Equal(t, 0.002, seq.FinalDelay())

	plunge, err := seq.GetPulse(pulses.Named("plunge"))
	require.NoError(t, err)
	require.NotNil(t, plunge)
	assert.Equal(t, 0.35, plunge.Amplitude(), "environment default applied")
	assert.Equal(t, 0.001, plunge.Duration())

	// The read pulse declares no start time and chains to its predecessor.
	read, err := seq.GetPulse(pulses.Named("read"))
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, 0.001, read.Start())
	assert.Equal(t, 0.003, read.Stop())
	assert.Equal(t, 0.2, read.Amplitude())
	assert.True(t, read.Acquires())
	assert.Equal(t, pulses.AverageTrace, read.AverageMode())

	assert.Equal(t, 0.003, seq.Duration())
}

func TestBuildSequenceRejectsIncompletePulse(t *testing.T) {
	cfg, err := Parse([]byte("sequence:\n  - name: mystery\n    kind: DC\n"))
	require.NoError(t, err)

	// No explicit duration and no defaults to fall back on.
	_, err = cfg.BuildSequence()
	assert.Error(t, err)
}
