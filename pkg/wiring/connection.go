package wiring

import (
	"errors"
	"fmt"
	"strings"
)

// Connection errors.
var (
	ErrMultipleOutputInstruments = errors.New("combined connection spans multiple output instruments")
	ErrScalingFactorCount        = errors.New("scaling factor count does not match connection count")
	ErrEmptyCombination          = errors.New("combined connection needs at least one connection")
)

// Connection is a directed, immutable link between instrument channels.
type Connection interface {
	// Label is the optional symbolic name of the connection.
	Label() string

	// OutputInstrument is the instrument sourcing the signal.
	OutputInstrument() string

	// InputInstrument is the instrument sinking the signal.
	InputInstrument() string

	// Trigger reports whether the connection triggers the input instrument.
	Trigger() bool

	// Acquire reports whether the connection feeds acquisition.
	Acquire() bool

	// Default reports whether pulses use this connection by default.
	Default() bool

	// Satisfies reports whether the connection matches the criteria.
	Satisfies(Criteria) bool

	// Equal reports attribute-value equality with another connection.
	Equal(Connection) bool

	String() string
}

// Flags are the operator-declared properties of a connection.
type Flags struct {
	Trigger bool
	Acquire bool
	Default bool
	Label   string
}

// SingleConnection links one output channel to one input channel.
type SingleConnection struct {
	output Endpoint
	input  Endpoint
	flags  Flags
}

// NewSingleConnection declares a connection from output to input.
func NewSingleConnection(output, input Endpoint, flags Flags) *SingleConnection {
	return &SingleConnection{output: output, input: input, flags: flags}
}

// Output returns the output endpoint.
func (c *SingleConnection) Output() Endpoint { return c.output }

// Input returns the input endpoint.
func (c *SingleConnection) Input() Endpoint { return c.input }

func (c *SingleConnection) Label() string            { return c.flags.Label }
func (c *SingleConnection) OutputInstrument() string { return c.output.Instrument }
func (c *SingleConnection) InputInstrument() string  { return c.input.Instrument }
func (c *SingleConnection) Trigger() bool            { return c.flags.Trigger }
func (c *SingleConnection) Acquire() bool            { return c.flags.Acquire }
func (c *SingleConnection) Default() bool            { return c.flags.Default }

// Satisfies reports whether the connection matches all set criteria fields.
func (c *SingleConnection) Satisfies(cr Criteria) bool {
	return cr.matchCommon(c) &&
		cr.matchEndpoint(cr.OutputChannel, c.output.Channel) &&
		cr.matchEndpoint(cr.InputChannel, c.input.Channel)
}

// Equal reports attribute-value equality.
func (c *SingleConnection) Equal(other Connection) bool {
	o, ok := other.(*SingleConnection)
	if !ok {
		return false
	}
	return c.output == o.output && c.input == o.input && c.flags == o.flags
}

// String renders the connection like "Connection{awg.ch1->chip.gate}(default)".
func (c *SingleConnection) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Connection{%s->%s}(", c.output, c.input)
	var flags []string
	if c.flags.Trigger {
		flags = append(flags, "trigger")
	}
	if c.flags.Acquire {
		flags = append(flags, "acquire")
	}
	if c.flags.Default {
		flags = append(flags, "default")
	}
	if c.flags.Label != "" {
		flags = append(flags, "label="+c.flags.Label)
	}
	sb.WriteString(strings.Join(flags, ", "))
	sb.WriteString(")")
	return sb.String()
}

// CombinedConnection groups several single connections feeding one signal.
// Each input channel carries a scaling factor used to mix contributions.
type CombinedConnection struct {
	parts            []*SingleConnection
	scalingFactors   map[string]float64
	outputInstrument string
	flags            Flags
}

// NewCombinedConnection combines connections sharing one output instrument.
// scalingFactors may be nil (all factors default to 1) or must have one
// entry per connection, keyed by position.
func NewCombinedConnection(parts []*SingleConnection, scalingFactors []float64, flags Flags) (*CombinedConnection, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyCombination
	}
	if scalingFactors != nil && len(scalingFactors) != len(parts) {
		return nil, fmt.Errorf("%w: %d factors for %d connections",
			ErrScalingFactorCount, len(scalingFactors), len(parts))
	}

	outputInstrument := parts[0].OutputInstrument()
	for _, p := range parts[1:] {
		if p.OutputInstrument() != outputInstrument {
			return nil, fmt.Errorf("%w: %s and %s",
				ErrMultipleOutputInstruments, outputInstrument, p.OutputInstrument())
		}
	}

	factors := make(map[string]float64, len(parts))
	for i, p := range parts {
		f := 1.0
		if scalingFactors != nil {
			f = scalingFactors[i]
		}
		factors[p.Input().Channel] = f
	}

	return &CombinedConnection{
		parts:            parts,
		scalingFactors:   factors,
		outputInstrument: outputInstrument,
		flags:            flags,
	}, nil
}

// Connections returns the underlying single connections.
func (c *CombinedConnection) Connections() []*SingleConnection { return c.parts }

// ScalingFactor returns the mixing factor for an input channel.
func (c *CombinedConnection) ScalingFactor(inputChannel string) float64 {
	f, ok := c.scalingFactors[inputChannel]
	if !ok {
		return 1
	}
	return f
}

func (c *CombinedConnection) Label() string            { return c.flags.Label }
func (c *CombinedConnection) OutputInstrument() string { return c.outputInstrument }

// InputInstrument returns the input instrument of the first part. Combined
// connections usually share one input instrument; callers needing the full
// set should use Connections.
func (c *CombinedConnection) InputInstrument() string { return c.parts[0].InputInstrument() }

func (c *CombinedConnection) Trigger() bool { return c.flags.Trigger }
func (c *CombinedConnection) Acquire() bool { return c.flags.Acquire }
func (c *CombinedConnection) Default() bool { return c.flags.Default }

// Satisfies reports whether the combined connection matches the criteria.
// Channel criteria match if any part matches.
func (c *CombinedConnection) Satisfies(cr Criteria) bool {
	if !cr.matchCommon(c) {
		return false
	}
	if cr.OutputChannel == "" && cr.InputChannel == "" {
		return true
	}
	for _, p := range c.parts {
		if cr.matchEndpoint(cr.OutputChannel, p.Output().Channel) &&
			cr.matchEndpoint(cr.InputChannel, p.Input().Channel) {
			return true
		}
	}
	return false
}

// Equal reports attribute-value equality.
func (c *CombinedConnection) Equal(other Connection) bool {
	o, ok := other.(*CombinedConnection)
	if !ok {
		return false
	}
	if c.flags != o.flags || len(c.parts) != len(o.parts) {
		return false
	}
	for i := range c.parts {
		if !c.parts[i].Equal(o.parts[i]) {
			return false
		}
		if c.ScalingFactor(c.parts[i].Input().Channel) != o.ScalingFactor(o.parts[i].Input().Channel) {
			return false
		}
	}
	return true
}

func (c *CombinedConnection) String() string {
	names := make([]string, len(c.parts))
	for i, p := range c.parts {
		names[i] = fmt.Sprintf("%s->%s", p.Output(), p.Input())
	}
	return fmt.Sprintf("CombinedConnection{%s}", strings.Join(names, ", "))
}

// Compile-time interface satisfaction checks.
var (
	_ Connection = (*SingleConnection)(nil)
	_ Connection = (*CombinedConnection)(nil)
)
