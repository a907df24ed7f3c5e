package wiring

import (
	"errors"
	"fmt"
	"strings"
)

// TTLLevels are the low and high output voltages of a digital channel.
type TTLLevels struct {
	Low  float64
	High float64
}

// Channel describes a single physical channel on an instrument.
type Channel struct {
	// Instrument is the name of the instrument exposing the channel.
	Instrument string

	// Name is the channel name, unique within the instrument.
	Name string

	// ID is the numeric channel index on the instrument, if any.
	ID int

	// Output indicates the channel can source a signal.
	Output bool

	// Input indicates the channel can sink a signal.
	Input bool

	// InputTrigger indicates the channel is a trigger input.
	InputTrigger bool

	// OutputTTL holds the digital output levels for TTL channels.
	// Nil for analog channels.
	OutputTTL *TTLLevels
}

// String returns the channel as "instrument.channel".
func (c Channel) String() string {
	return c.Instrument + "." + c.Name
}

// Endpoint identifies one channel of one instrument by name.
type Endpoint struct {
	Instrument string
	Channel    string
}

// ErrBadEndpoint is returned when an endpoint string cannot be parsed.
var ErrBadEndpoint = errors.New("malformed endpoint")

// ParseEndpoint parses an "instrument.channel" string.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Endpoint{}, fmt.Errorf("%w: %q (want \"instrument.channel\")", ErrBadEndpoint, s)
	}
	return Endpoint{Instrument: parts[0], Channel: parts[1]}, nil
}

// String returns the endpoint as "instrument.channel".
func (e Endpoint) String() string {
	return e.Instrument + "." + e.Channel
}
