// Package config loads the experiment setup file: named pulse defaults,
// instrument properties, and declared connections, with per-environment
// overrides.
//
// Defaults resolve once, when applied to a pulse, with precedence
// explicitly set attribute > active environment override > global default.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MorelloLab/SilQ/pkg/pulses"
)

var ErrUnknownEnvironment = errors.New("environment not defined")

// PulseDefaults are configured fallback attribute values for pulses sharing
// a name. Absent fields leave the attribute to the pulse itself.
type PulseDefaults struct {
	Start     *float64 `yaml:"t_start,omitempty"`
	Stop      *float64 `yaml:"t_stop,omitempty"`
	Duration  *float64 `yaml:"duration,omitempty"`
	Amplitude *float64 `yaml:"amplitude,omitempty"`
	Frequency *float64 `yaml:"frequency,omitempty"`
	Phase     *float64 `yaml:"phase,omitempty"`
	Offset    *float64 `yaml:"offset,omitempty"`
}

func (d PulseDefaults) defaults() pulses.Defaults {
	return pulses.Defaults{
		Start:     d.Start,
		Stop:      d.Stop,
		Duration:  d.Duration,
		Amplitude: d.Amplitude,
		Frequency: d.Frequency,
		Phase:     d.Phase,
		Offset:    d.Offset,
	}
}

// ConnectionDecl declares one wiring link, endpoints as
// "instrument.channel".
type ConnectionDecl struct {
	Output  string `yaml:"output"`
	Input   string `yaml:"input"`
	Trigger bool   `yaml:"trigger,omitempty"`
	Acquire bool   `yaml:"acquire,omitempty"`
	Default bool   `yaml:"default,omitempty"`
	Label   string `yaml:"label,omitempty"`
}

// PulseDecl declares one pulse of the configured sequence. Absent timing
// fields fall back to the named defaults, and a pulse still lacking a start
// time chains to the preceding pulse when the sequence is built.
type PulseDecl struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Start     *float64 `yaml:"t_start,omitempty"`
	Stop      *float64 `yaml:"t_stop,omitempty"`
	Duration  *float64 `yaml:"duration,omitempty"`
	Amplitude *float64 `yaml:"amplitude,omitempty"`
	Frequency *float64 `yaml:"frequency,omitempty"`
	Phase     *float64 `yaml:"phase,omitempty"`
	Offset    *float64 `yaml:"offset,omitempty"`
	Acquire   bool     `yaml:"acquire,omitempty"`
	Average   string   `yaml:"average,omitempty"`
	Disabled  bool     `yaml:"disabled,omitempty"`
	Label     string   `yaml:"label,omitempty"`
}

// Environment is a named set of overrides layered on the global sections.
type Environment struct {
	Pulses     map[string]PulseDefaults `yaml:"pulses,omitempty"`
	Properties map[string]float64       `yaml:"properties,omitempty"`
}

// Config is the parsed setup file.
type Config struct {
	// Environment selects the active override set.
	Environment string `yaml:"environment,omitempty"`

	// Properties are global numeric instrument settings.
	Properties map[string]float64 `yaml:"properties,omitempty"`

	// Pulses maps pulse names to global attribute defaults.
	Pulses map[string]PulseDefaults `yaml:"pulses,omitempty"`

	// Environments holds the named override sets.
	Environments map[string]Environment `yaml:"environments,omitempty"`

	// Connections are the declared wiring links.
	Connections []ConnectionDecl `yaml:"connections,omitempty"`

	// Sequence declares the pulses to compile, in order.
	Sequence []PulseDecl `yaml:"sequence,omitempty"`

	// FinalDelay is the trailing quiet time after the last pulse, in
	// seconds. Zero keeps the library default.
	FinalDelay float64 `yaml:"final_delay,omitempty"`
}

// Load reads and parses a setup file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses setup YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the active environment exists and connection
// declarations carry both endpoints.
func (c *Config) Validate() error {
	if c.Environment != "" {
		if _, ok := c.Environments[c.Environment]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEnvironment, c.Environment)
		}
	}
	for i, decl := range c.Connections {
		if decl.Output == "" || decl.Input == "" {
			return fmt.Errorf("connection %d: both output and input endpoints are required", i)
		}
	}
	for i, decl := range c.Sequence {
		if _, err := pulses.ParseKind(decl.Kind); err != nil {
			return fmt.Errorf("sequence pulse %d (%s): %w", i, decl.Name, err)
		}
		if decl.Average != "" {
			if _, err := parseAverage(decl.Average); err != nil {
				return fmt.Errorf("sequence pulse %d (%s): %w", i, decl.Name, err)
			}
		}
	}
	return nil
}

func parseAverage(s string) (pulses.AverageMode, error) {
	switch s {
	case "", "none":
		return pulses.AverageNone, nil
	case "point":
		return pulses.AveragePoint, nil
	case "trace":
		return pulses.AverageTrace, nil
	default:
		return pulses.AverageNone, fmt.Errorf("unknown average mode %q", s)
	}
}

// environment returns the active override set, empty when none selected.
func (c *Config) environment() Environment {
	if c.Environment == "" {
		return Environment{}
	}
	return c.Environments[c.Environment]
}

// PulseDefaults resolves the defaults for a pulse name: the active
// environment's override merged over the global entry.
func (c *Config) PulseDefaults(name string) pulses.Defaults {
	global := c.Pulses[name].defaults()
	override := c.environment().Pulses[name].defaults()
	return global.Merge(override)
}

// Apply fills the unset attributes of a pulse from its named defaults.
// Explicitly set attributes are never touched.
func (c *Config) Apply(p *pulses.Pulse) {
	p.ApplyDefaults(c.PulseDefaults(p.Name()))
}

// BuildSequence constructs the configured sequence. Each declared pulse is
// built from its explicit fields, filled from its named defaults, and added
// in declaration order so unanchored pulses chain to their predecessor.
func (c *Config) BuildSequence() (*pulses.Sequence, error) {
	seqCfg := pulses.DefaultSequenceConfig()
	if c.FinalDelay > 0 {
		seqCfg.FinalDelay = c.FinalDelay
	}
	seq := pulses.NewSequence(seqCfg)

	for i, decl := range c.Sequence {
		kind, err := pulses.ParseKind(decl.Kind)
		if err != nil {
			return nil, fmt.Errorf("sequence pulse %d (%s): %w", i, decl.Name, err)
		}
		var opts []pulses.Option
		if decl.Start != nil {
			opts = append(opts, pulses.Start(*decl.Start))
		}
		if decl.Duration != nil {
			opts = append(opts, pulses.Duration(*decl.Duration))
		}
		if decl.Stop != nil {
			opts = append(opts, pulses.Stop(*decl.Stop))
		}
		if decl.Amplitude != nil {
			opts = append(opts, pulses.Amplitude(*decl.Amplitude))
		}
		if decl.Frequency != nil {
			opts = append(opts, pulses.Frequency(*decl.Frequency))
		}
		if decl.Phase != nil {
			opts = append(opts, pulses.Phase(*decl.Phase))
		}
		if decl.Offset != nil {
			opts = append(opts, pulses.Offset(*decl.Offset))
		}
		if decl.Acquire {
			opts = append(opts, pulses.Acquire())
		}
		if decl.Average != "" {
			mode, err := parseAverage(decl.Average)
			if err != nil {
				return nil, fmt.Errorf("sequence pulse %d (%s): %w", i, decl.Name, err)
			}
			opts = append(opts, pulses.Average(mode))
		}
		if decl.Disabled {
			opts = append(opts, pulses.Disabled())
		}
		if decl.Label != "" {
			opts = append(opts, pulses.Label(decl.Label))
		}

		p := pulses.New(kind, decl.Name, opts...)
		c.Apply(p)
		if _, err := seq.Add(p); err != nil {
			return nil, fmt.Errorf("sequence pulse %d (%s): %w", i, decl.Name, err)
		}
	}
	return seq, nil
}

// Property looks up a numeric property, environment override first.
func (c *Config) Property(name string) (float64, bool) {
	if v, ok := c.environment().Properties[name]; ok {
		return v, true
	}
	v, ok := c.Properties[name]
	return v, ok
}
