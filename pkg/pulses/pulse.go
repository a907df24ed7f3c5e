package pulses

import (
	"errors"
	"fmt"
	"math"

	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Kind identifies the shape of a pulse.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindDC is a constant voltage level.
	KindDC

	// KindSine is a sine tone with fixed frequency, phase and amplitude.
	KindSine

	// KindFrequencyRamp is a linear frequency chirp.
	KindFrequencyRamp

	// KindTrigger is a trigger edge for synchronizing instruments.
	KindTrigger

	// KindMarker is a digital marker level.
	KindMarker

	// KindMeasurement marks an acquisition window without driving an output.
	KindMeasurement
)

// String returns the kind name.
func (k Kind) String() string {
	names := []string{"unknown", "DC", "sine", "frequency_ramp", "trigger", "marker", "measurement"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// ParseKind parses a kind name as produced by String.
func ParseKind(s string) (Kind, error) {
	for k := KindDC; k <= KindMeasurement; k++ {
		if s == k.String() {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown pulse kind %q", s)
}

// AverageMode selects how an acquisition pulse's trace is reduced.
type AverageMode uint8

const (
	// AverageNone keeps every sample of every record.
	AverageNone AverageMode = iota

	// AveragePoint reduces the pulse window to a single value.
	AveragePoint

	// AverageTrace averages records into one trace.
	AverageTrace
)

// Pulse errors.
var (
	ErrNoVoltage             = errors.New("pulse defines no output voltage")
	ErrOutsidePulse          = errors.New("time outside pulse window")
	ErrNoDuration            = errors.New("pulse has no resolvable duration")
	ErrConflictingConnection = errors.New("pulse has both connection and connection label")
)

// timeTolerance absorbs floating-point noise when comparing pulse times.
const timeTolerance = 1e-11

// Pulse is an abstract timed instruction for a single logical channel.
//
// Identity is attribute-value equality: two pulses with identical attributes
// are equal even when constructed independently. The zero value is not
// usable; construct pulses with New or the kind-specific constructors.
type Pulse struct {
	name string
	id   int // -1 until a sequence disambiguates colliding names
	kind Kind

	tStart      float64
	hasTStart   bool
	duration    float64
	hasDuration bool

	enabled bool
	acquire bool
	average AverageMode

	amplitude     float64
	hasAmplitude  bool
	offset        float64
	frequency     float64
	hasFrequency  bool
	frequencyStop float64
	phase         float64

	connection      wiring.Connection
	connectionLabel string

	// connectionRequirements routes interface-requested auxiliary pulses.
	connectionRequirements wiring.Criteria

	// implementation is set when the pulse has been targeted.
	implementation *Implementation

	// onChange notifies the owning sequence of timing/enable mutations.
	onChange func(*Pulse)
}

// Option configures a pulse at construction time.
type Option func(*Pulse)

// Start fixes the pulse start time. Pulses without a start time are chained
// to the preceding pulse on the same connection when added to a sequence.
func Start(t float64) Option {
	return func(p *Pulse) {
		p.tStart = t
		p.hasTStart = true
	}
}

// Duration fixes the pulse duration.
func Duration(d float64) Option {
	return func(p *Pulse) {
		p.duration = d
		p.hasDuration = true
	}
}

// Stop fixes the pulse end time. Give Start before Stop; without a prior
// Start the pulse is anchored at t=0.
func Stop(t float64) Option {
	return func(p *Pulse) {
		if !p.hasTStart {
			p.tStart = 0
			p.hasTStart = true
		}
		p.duration = t - p.tStart
		p.hasDuration = true
	}
}

// Disabled marks the pulse as disabled.
func Disabled() Option {
	return func(p *Pulse) { p.enabled = false }
}

// Acquire marks the pulse as data-collection relevant.
func Acquire() Option {
	return func(p *Pulse) { p.acquire = true }
}

// Average sets the acquisition averaging mode.
func Average(m AverageMode) Option {
	return func(p *Pulse) { p.average = m }
}

// Amplitude sets the pulse amplitude.
func Amplitude(v float64) Option {
	return func(p *Pulse) {
		p.amplitude = v
		p.hasAmplitude = true
	}
}

// Offset sets the DC offset of periodic pulses.
func Offset(v float64) Option {
	return func(p *Pulse) { p.offset = v }
}

// Frequency sets the tone frequency.
func Frequency(v float64) Option {
	return func(p *Pulse) {
		p.frequency = v
		p.hasFrequency = true
	}
}

// Phase sets the tone phase in radians.
func Phase(v float64) Option {
	return func(p *Pulse) { p.phase = v }
}

// Label binds the pulse to a symbolic connection label, resolved during
// targeting.
func Label(l string) Option {
	return func(p *Pulse) { p.connectionLabel = l }
}

// OnConnection binds the pulse to a resolved connection.
func OnConnection(c wiring.Connection) Option {
	return func(p *Pulse) { p.connection = c }
}

// RequireConnection attaches connection criteria used by the layout to
// route interface-requested auxiliary pulses.
func RequireConnection(cr wiring.Criteria) Option {
	return func(p *Pulse) { p.connectionRequirements = cr }
}

// New constructs a pulse of the given kind. The name is optional and
// non-unique; sequences disambiguate colliding names with ids.
func New(kind Kind, name string, opts ...Option) *Pulse {
	p := &Pulse{
		name:    name,
		id:      -1,
		kind:    kind,
		enabled: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDC constructs a constant-level pulse.
func NewDC(name string, amplitude float64, opts ...Option) *Pulse {
	return New(KindDC, name, append([]Option{Amplitude(amplitude)}, opts...)...)
}

// NewSine constructs a sine pulse.
func NewSine(name string, frequency, amplitude float64, opts ...Option) *Pulse {
	return New(KindSine, name, append([]Option{Frequency(frequency), Amplitude(amplitude)}, opts...)...)
}

// NewFrequencyRamp constructs a linear chirp from frequencyStart to
// frequencyStop over the pulse duration.
func NewFrequencyRamp(name string, frequencyStart, frequencyStop, amplitude float64, opts ...Option) *Pulse {
	p := New(KindFrequencyRamp, name, append([]Option{Frequency(frequencyStart), Amplitude(amplitude)}, opts...)...)
	p.frequencyStop = frequencyStop
	return p
}

// NewTrigger constructs a trigger pulse. Duration defaults to zero; the
// realizing instrument widens it to its minimum pulse width.
func NewTrigger(name string, opts ...Option) *Pulse {
	return New(KindTrigger, name, append([]Option{Amplitude(1), Duration(0)}, opts...)...)
}

// NewMarker constructs a digital marker pulse.
func NewMarker(name string, amplitude float64, opts ...Option) *Pulse {
	return New(KindMarker, name, append([]Option{Amplitude(amplitude)}, opts...)...)
}

// NewMeasurement constructs a measurement-only pulse. Measurement pulses
// acquire by default and drive no output.
func NewMeasurement(name string, opts ...Option) *Pulse {
	return New(KindMeasurement, name, append([]Option{Acquire()}, opts...)...)
}

// Name returns the pulse name.
func (p *Pulse) Name() string { return p.name }

// ID returns the disambiguating id, or -1 when unset.
func (p *Pulse) ID() int { return p.id }

// FullName returns "name[id]" when an id is set, the bare name otherwise.
func (p *Pulse) FullName() string {
	if p.id < 0 {
		return p.name
	}
	return fmt.Sprintf("%s[%d]", p.name, p.id)
}

// Kind returns the pulse kind.
func (p *Pulse) Kind() Kind { return p.kind }

// Start returns the pulse start time. HasStart reports whether the start
// has been resolved.
func (p *Pulse) Start() float64 { return p.tStart }

// HasStart reports whether the start time is set.
func (p *Pulse) HasStart() bool { return p.hasTStart }

// Duration returns the pulse duration.
func (p *Pulse) Duration() float64 { return p.duration }

// HasDuration reports whether the duration is resolvable.
func (p *Pulse) HasDuration() bool { return p.hasDuration }

// Stop returns t_start + duration.
func (p *Pulse) Stop() float64 { return p.tStart + p.duration }

// Enabled reports whether the pulse participates in compilation.
func (p *Pulse) Enabled() bool { return p.enabled }

// Acquires reports whether the pulse is data-collection relevant.
func (p *Pulse) Acquires() bool { return p.acquire }

// AverageMode returns the acquisition averaging mode.
func (p *Pulse) AverageMode() AverageMode { return p.average }

// Amplitude returns the pulse amplitude.
func (p *Pulse) Amplitude() float64 { return p.amplitude }

// Offset returns the DC offset.
func (p *Pulse) Offset() float64 { return p.offset }

// Frequency returns the tone frequency (or chirp start frequency).
func (p *Pulse) Frequency() float64 { return p.frequency }

// FrequencyStop returns the chirp end frequency.
func (p *Pulse) FrequencyStop() float64 { return p.frequencyStop }

// Phase returns the tone phase in radians.
func (p *Pulse) Phase() float64 { return p.phase }

// Connection returns the resolved connection, or nil.
func (p *Pulse) Connection() wiring.Connection { return p.connection }

// ConnectionLabel returns the symbolic connection binding, or "".
func (p *Pulse) ConnectionLabel() string { return p.connectionLabel }

// ConnectionRequirements returns the routing criteria for auxiliary pulses.
func (p *Pulse) ConnectionRequirements() wiring.Criteria { return p.connectionRequirements }

// Implementation returns the capability binding set during targeting, or nil
// for untargeted pulses.
func (p *Pulse) Implementation() *Implementation { return p.implementation }

// Targeted reports whether the pulse has been bound to an interface.
func (p *Pulse) Targeted() bool { return p.implementation != nil }

// SetStart moves the pulse start, keeping duration fixed. Chained pulses in
// the owning sequence shift along.
func (p *Pulse) SetStart(t float64) {
	p.tStart = t
	p.hasTStart = true
	p.notify()
}

// SetDuration changes the duration, moving t_stop.
func (p *Pulse) SetDuration(d float64) {
	p.duration = d
	p.hasDuration = true
	p.notify()
}

// SetStop moves t_stop by adjusting the duration.
func (p *Pulse) SetStop(t float64) {
	p.duration = t - p.tStart
	p.hasDuration = true
	p.notify()
}

// SetEnabled toggles the pulse; the owning sequence's enabled/disabled views
// update synchronously.
func (p *Pulse) SetEnabled(enabled bool) {
	p.enabled = enabled
	p.notify()
}

// SetConnection binds the pulse to a resolved connection, superseding any
// symbolic label binding.
func (p *Pulse) SetConnection(c wiring.Connection) {
	p.connection = c
	if c != nil {
		p.connectionLabel = ""
	}
}

func (p *Pulse) setID(id int) { p.id = id }

// SetImplementation binds the pulse to an instrument capability, marking it
// targeted. The layout calls this when distributing pulses.
func (p *Pulse) SetImplementation(im *Implementation) { p.implementation = im }

func (p *Pulse) notify() {
	if p.onChange != nil {
		p.onChange(p)
	}
}

// Copy returns an owned value copy without observer state. The copy shares
// the (immutable) connection and implementation references.
func (p *Pulse) Copy() *Pulse {
	c := *p
	c.onChange = nil
	return &c
}

// Equal reports attribute-value equality. Observer state is ignored;
// connections compare by attribute value, implementations by identity.
func (p *Pulse) Equal(other *Pulse) bool {
	if other == nil {
		return false
	}
	if p.name != other.name || p.id != other.id || p.kind != other.kind {
		return false
	}
	if p.hasTStart != other.hasTStart || p.hasDuration != other.hasDuration {
		return false
	}
	if p.hasTStart && math.Abs(p.tStart-other.tStart) > timeTolerance {
		return false
	}
	if p.hasDuration && math.Abs(p.duration-other.duration) > timeTolerance {
		return false
	}
	if p.enabled != other.enabled || p.acquire != other.acquire || p.average != other.average {
		return false
	}
	if p.hasAmplitude != other.hasAmplitude || p.amplitude != other.amplitude ||
		p.offset != other.offset ||
		p.hasFrequency != other.hasFrequency || p.frequency != other.frequency ||
		p.frequencyStop != other.frequencyStop || p.phase != other.phase {
		return false
	}
	if p.connectionLabel != other.connectionLabel {
		return false
	}
	if (p.connection == nil) != (other.connection == nil) {
		return false
	}
	if p.connection != nil && !p.connection.Equal(other.connection) {
		return false
	}
	if p.connectionRequirements != other.connectionRequirements &&
		!criteriaEqual(p.connectionRequirements, other.connectionRequirements) {
		return false
	}
	return p.implementation == other.implementation
}

func criteriaEqual(a, b wiring.Criteria) bool {
	if a.OutputInstrument != b.OutputInstrument || a.OutputChannel != b.OutputChannel ||
		a.InputInstrument != b.InputInstrument || a.InputChannel != b.InputChannel ||
		a.Label != b.Label {
		return false
	}
	return boolPtrEqual(a.Trigger, b.Trigger) &&
		boolPtrEqual(a.Acquire, b.Acquire) &&
		boolPtrEqual(a.Default, b.Default)
}

func boolPtrEqual(a, b *bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// Voltage evaluates the pulse output at time t. Both window endpoints are
// valid; transition lookups evaluate the predecessor at its own stop time.
func (p *Pulse) Voltage(t float64) (float64, error) {
	if p.kind == KindMeasurement {
		return 0, fmt.Errorf("%w: %s", ErrNoVoltage, p.FullName())
	}
	if t < p.tStart-timeTolerance || t > p.Stop()+timeTolerance {
		return 0, fmt.Errorf("%w: t=%v not in [%v, %v] (%s)",
			ErrOutsidePulse, t, p.tStart, p.Stop(), p.FullName())
	}
	switch p.kind {
	case KindDC, KindTrigger, KindMarker:
		return p.amplitude, nil
	case KindSine:
		return p.offset + p.amplitude*math.Sin(2*math.Pi*p.frequency*(t-p.tStart)+p.phase), nil
	case KindFrequencyRamp:
		// Instantaneous phase of a linear chirp from frequency to
		// frequencyStop over the pulse duration.
		dt := t - p.tStart
		sweep := 0.0
		if p.duration > 0 {
			sweep = (p.frequencyStop - p.frequency) / (2 * p.duration)
		}
		return p.offset + p.amplitude*math.Sin(2*math.Pi*(p.frequency+sweep*dt)*dt+p.phase), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoVoltage, p.FullName())
	}
}

// String renders the pulse with its timing and binding.
func (p *Pulse) String() string {
	name := p.FullName()
	if name == "" {
		name = p.kind.String()
	}
	timing := "t_start unset"
	if p.hasTStart {
		timing = fmt.Sprintf("t=[%g, %g)", p.tStart, p.Stop())
	}
	s := fmt.Sprintf("%s(%s, %s", name, p.kind, timing)
	if p.connection != nil {
		s += ", " + p.connection.String()
	} else if p.connectionLabel != "" {
		s += ", label=" + p.connectionLabel
	}
	if !p.enabled {
		s += ", disabled"
	}
	return s + ")"
}

// attribute returns the named numeric attribute for requirement checks.
func (p *Pulse) attribute(name string) (float64, bool) {
	switch name {
	case "amplitude":
		return p.amplitude, true
	case "frequency":
		return p.frequency, true
	case "frequency_stop":
		return p.frequencyStop, true
	case "phase":
		return p.phase, true
	case "offset":
		return p.offset, true
	case "duration":
		return p.duration, p.hasDuration
	case "t_start":
		return p.tStart, p.hasTStart
	case "t_stop":
		return p.Stop(), p.hasTStart && p.hasDuration
	default:
		return 0, false
	}
}
