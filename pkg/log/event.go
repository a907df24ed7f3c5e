package log

import (
	"time"
)

// Event represents a compilation pipeline event captured at any stage.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// CompileID uniquely identifies the compile run (UUID).
	CompileID string `cbor:"2,keyasint"`

	// Stage of the pipeline where the event was captured.
	Stage Stage `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Instrument is the interface name the event relates to.
	Instrument string `cbor:"5,keyasint,omitempty"`

	// Pulse is the full name of the pulse the event relates to.
	Pulse string `cbor:"6,keyasint,omitempty"`

	// Connection is the string form of the connection involved.
	Connection string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Target      *TargetEvent      `cbor:"8,keyasint,omitempty"`  // Pulse routed to an interface
	Trigger     *TriggerEvent     `cbor:"9,keyasint,omitempty"`  // Trigger pulse inserted upstream
	Waveform    *WaveformEvent    `cbor:"10,keyasint,omitempty"` // Waveform generated during setup
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Interface lifecycle state
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any stage
}

// Stage indicates which pipeline stage captured the event.
type Stage uint8

const (
	// StageTarget is the targeting stage (pulses routed to interfaces).
	StageTarget Stage = 0
	// StageSetup is the instrument setup stage (waveforms, instructions).
	StageSetup Stage = 1
	// StageStart is the instrument start stage.
	StageStart Stage = 2
	// StageStop is the instrument stop stage.
	StageStop Stage = 3
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageTarget:
		return "TARGET"
	case StageSetup:
		return "SETUP"
	case StageStart:
		return "START"
	case StageStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPulse indicates a pulse routing event.
	CategoryPulse Category = 0
	// CategoryTrigger indicates a trigger insertion event.
	CategoryTrigger Category = 1
	// CategoryWaveform indicates a waveform generation event.
	CategoryWaveform Category = 2
	// CategoryState indicates an interface state change.
	CategoryState Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPulse:
		return "PULSE"
	case CategoryTrigger:
		return "TRIGGER"
	case CategoryWaveform:
		return "WAVEFORM"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TargetEvent captures a pulse being routed to an instrument interface.
type TargetEvent struct {
	// Kind is the pulse kind name ("DC", "sine", ...).
	Kind string `cbor:"1,keyasint"`

	// TStart is the pulse start time in seconds.
	TStart float64 `cbor:"2,keyasint"`

	// Duration is the pulse duration in seconds.
	Duration float64 `cbor:"3,keyasint"`
}

// TriggerEvent captures a trigger pulse inserted on an upstream interface.
type TriggerEvent struct {
	// Source is the interface that requested the trigger.
	Source string `cbor:"1,keyasint"`

	// TStart is the trigger time in seconds.
	TStart float64 `cbor:"2,keyasint"`

	// Deduplicated indicates an equal trigger already existed upstream.
	Deduplicated bool `cbor:"3,keyasint,omitempty"`
}

// WaveformEvent captures a waveform generated during instrument setup.
type WaveformEvent struct {
	// Channel is the output channel name.
	Channel string `cbor:"1,keyasint"`

	// Points is the number of samples in the waveform.
	Points int `cbor:"2,keyasint"`

	// Loops is the repetition count in the sequence step.
	Loops int `cbor:"3,keyasint"`

	// Index is the waveform slot in the instrument memory.
	Index int `cbor:"4,keyasint"`
}

// StateChangeEvent captures interface lifecycle events.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any stage.
type ErrorEventData struct {
	// Stage where the error occurred.
	Stage Stage `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
