package layout

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MorelloLab/SilQ/pkg/instrument"
	"github.com/MorelloLab/SilQ/pkg/log"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

var (
	ErrDuplicateInstrument     = errors.New("instrument already registered")
	ErrUnknownInstrument       = errors.New("instrument not registered")
	ErrUnknownChannel          = errors.New("channel not found on instrument")
	ErrChannelDirection        = errors.New("channel direction does not match connection role")
	ErrNoImplementation        = errors.New("no interface implements pulse")
	ErrAmbiguousImplementation = errors.New("multiple interfaces implement pulse")
	ErrNoConnection            = errors.New("no connection satisfies criteria")
	ErrAmbiguousConnection     = errors.New("multiple connections satisfy criteria")
	ErrNoTriggerInstrument     = errors.New("no trigger instrument designated")
	ErrTriggerLoop             = errors.New("trigger chain does not reach the trigger instrument")
	ErrNoAcquisitionInstrument = errors.New("no acquisition instrument designated")
	ErrNotTargeted             = errors.New("layout has no targeted sequence")
	ErrNotSetUp                = errors.New("layout has not been set up")
)

// Layout is the targeting engine. It owns the registered instrument
// interfaces and the declared connections between their channels, and
// distributes a whole-system pulse sequence across the interfaces.
//
// Layout is not safe for concurrent use; the compilation pipeline is
// synchronous by design.
type Layout struct {
	interfaces map[string]instrument.Interface
	order      []string

	connections []wiring.Connection

	triggerInstrument     string
	acquisitionInstrument string
	samples               int

	logger log.Logger

	compileID  string
	duration   float64
	finalDelay float64
	targeted   bool
	ready      bool
	started    bool

	postStart []func() error
}

// New creates an empty layout. A nil logger disables event logging.
func New(logger log.Logger) *Layout {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Layout{
		interfaces: make(map[string]instrument.Interface),
		samples:    1,
		logger:     logger,
	}
}

// AddInterface registers an instrument interface. Interface names must be
// unique within the layout.
func (l *Layout) AddInterface(iface instrument.Interface) error {
	name := iface.Name()
	if _, ok := l.interfaces[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateInstrument, name)
	}
	l.interfaces[name] = iface
	l.order = append(l.order, name)
	return nil
}

// Interface looks up a registered interface by instrument name.
func (l *Layout) Interface(name string) (instrument.Interface, bool) {
	iface, ok := l.interfaces[name]
	return iface, ok
}

// Interfaces returns the registered interfaces in registration order.
func (l *Layout) Interfaces() []instrument.Interface {
	out := make([]instrument.Interface, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.interfaces[name])
	}
	return out
}

// SetTriggerInstrument designates the root clock, the instrument every
// trigger chain must terminate at. It must be registered.
func (l *Layout) SetTriggerInstrument(name string) error {
	if _, ok := l.interfaces[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	l.triggerInstrument = name
	return nil
}

// TriggerInstrument returns the designated root clock name.
func (l *Layout) TriggerInstrument() string { return l.triggerInstrument }

// SetAcquisitionInstrument designates the instrument that records
// acquire-flagged pulses. It must be registered.
func (l *Layout) SetAcquisitionInstrument(name string) error {
	if _, ok := l.interfaces[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	l.acquisitionInstrument = name
	return nil
}

// AcquisitionInstrument returns the designated acquisition instrument name.
func (l *Layout) AcquisitionInstrument() string { return l.acquisitionInstrument }

// SetSamples sets the number of acquisition records per setup.
func (l *Layout) SetSamples(n int) {
	if n < 1 {
		n = 1
	}
	l.samples = n
}

// Samples returns the number of acquisition records per setup.
func (l *Layout) Samples() int { return l.samples }

// AddConnection declares a directed link between an output channel and an
// input channel, given as "instrument.channel" endpoints. Both endpoints
// must name registered interfaces and existing channels with matching
// directions; trigger connections additionally require a trigger-capable
// input channel.
func (l *Layout) AddConnection(output, input string, flags wiring.Flags) (*wiring.SingleConnection, error) {
	out, err := l.resolveEndpoint(output)
	if err != nil {
		return nil, err
	}
	in, err := l.resolveEndpoint(input)
	if err != nil {
		return nil, err
	}
	outIface := l.interfaces[out.Instrument]
	outCh, _ := outIface.Channel(out.Channel)
	if !outCh.Output {
		return nil, fmt.Errorf("%w: %s is not an output", ErrChannelDirection, output)
	}
	inIface := l.interfaces[in.Instrument]
	inCh, _ := inIface.Channel(in.Channel)
	if !inCh.Input && !inCh.InputTrigger {
		return nil, fmt.Errorf("%w: %s is not an input", ErrChannelDirection, input)
	}
	if flags.Trigger && !inCh.InputTrigger {
		return nil, fmt.Errorf("%w: %s cannot receive triggers", ErrChannelDirection, input)
	}
	conn := wiring.NewSingleConnection(out, in, flags)
	l.connections = append(l.connections, conn)
	return conn, nil
}

// CombineConnections declares a combined connection mixing several output
// channels into one input, with per-part scaling factors. The parts must
// already be declared via AddConnection.
func (l *Layout) CombineConnections(parts []*wiring.SingleConnection, scalingFactors []float64, flags wiring.Flags) (*wiring.CombinedConnection, error) {
	for _, part := range parts {
		if !l.hasConnection(part) {
			return nil, fmt.Errorf("%w: %s", ErrNoConnection, part)
		}
	}
	conn, err := wiring.NewCombinedConnection(parts, scalingFactors, flags)
	if err != nil {
		return nil, err
	}
	l.connections = append(l.connections, conn)
	return conn, nil
}

// Connections returns the declared connections matching the criteria.
func (l *Layout) Connections(cr wiring.Criteria) []wiring.Connection {
	return wiring.Filter(l.connections, cr)
}

// GetConnection returns the single connection matching the criteria.
// It fails when no or more than one connection matches.
func (l *Layout) GetConnection(cr wiring.Criteria) (wiring.Connection, error) {
	matches := wiring.Filter(l.connections, cr)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %+v", ErrNoConnection, cr)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %+v", ErrAmbiguousConnection, cr)
	}
}

// CompileID returns the identifier of the most recent Target run.
func (l *Layout) CompileID() string { return l.compileID }

// Duration returns the sequence duration of the most recent Target run.
func (l *Layout) Duration() float64 { return l.duration }

// FinalDelay returns the trailing quiet time of the most recent Target run.
func (l *Layout) FinalDelay() float64 { return l.finalDelay }

// Target distributes the sequence across the registered interfaces. Every
// enabled pulse is assigned to the unique interface that implements it,
// bound to a connection, and followed by the trigger pulses each downstream
// instrument needs from the root clock. Interfaces are then asked for
// auxiliary pulses of their own, which are routed the same way. Previous
// targeting results are discarded first, so targeting the same sequence
// twice yields identical partitions.
func (l *Layout) Target(seq *pulses.Sequence) error {
	l.compileID = uuid.NewString()
	l.targeted = false
	l.ready = false
	for _, name := range l.order {
		l.interfaces[name].ClearPulses()
	}

	l.duration = seq.Duration()
	l.finalDelay = seq.FinalDelay()

	for _, p := range seq.EnabledPulses() {
		if err := l.targetPulse(p); err != nil {
			l.logError(log.StageTarget, err, p.FullName())
			return err
		}
	}

	opts := l.setupOptions()
	for _, name := range l.order {
		iface := l.interfaces[name]
		if iface.Sequence().Empty() {
			continue
		}
		for _, ap := range iface.AdditionalPulses(opts) {
			if err := l.targetAdditionalPulse(ap, name); err != nil {
				l.logError(log.StageTarget, err, ap.FullName())
				return err
			}
		}
	}

	for _, name := range l.order {
		iface := l.interfaces[name]
		if err := iface.Sequence().FinishQuickAdd(); err != nil {
			err = fmt.Errorf("finalize %s: %w", name, err)
			l.logError(log.StageTarget, err, "")
			return err
		}
		if err := iface.InputSequence().FinishQuickAdd(); err != nil {
			err = fmt.Errorf("finalize %s inputs: %w", name, err)
			l.logError(log.StageTarget, err, "")
			return err
		}
	}

	l.targeted = true
	return nil
}

// targetPulse routes one system pulse: resolve its connection, bind a copy
// to the owning interface, record the acquisition copy, and insert the
// upstream trigger chain.
func (l *Layout) targetPulse(p *pulses.Pulse) error {
	conn, err := l.resolveConnection(p)
	if err != nil {
		return fmt.Errorf("pulse %s: %w", p.FullName(), err)
	}

	iface, ok := l.interfaces[conn.OutputInstrument()]
	if !ok {
		return fmt.Errorf("pulse %s: %w: %s", p.FullName(), ErrUnknownInstrument, conn.OutputInstrument())
	}
	impl := iface.PulseImplementation(p)
	if impl == nil {
		return fmt.Errorf("pulse %s: %w: %s", p.FullName(), ErrNoImplementation, iface.Name())
	}

	targeted := p.Copy()
	targeted.SetConnection(conn)
	targeted.SetImplementation(impl)
	if err := iface.AddPulse(targeted); err != nil {
		return fmt.Errorf("pulse %s: add to %s: %w", p.FullName(), iface.Name(), err)
	}
	if err := l.registerInput(conn, targeted); err != nil {
		return fmt.Errorf("pulse %s: %w", p.FullName(), err)
	}

	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		CompileID:  l.compileID,
		Stage:      log.StageTarget,
		Category:   log.CategoryPulse,
		Instrument: iface.Name(),
		Pulse:      p.FullName(),
		Connection: conn.String(),
		Target: &log.TargetEvent{
			Kind:     p.Kind().String(),
			TStart:   p.Start(),
			Duration: p.Duration(),
		},
	})

	if targeted.Acquires() {
		if err := l.routeAcquisition(targeted, iface.Name()); err != nil {
			return fmt.Errorf("pulse %s: %w", p.FullName(), err)
		}
	}

	return l.walkTriggers(iface.Name(), p.Start())
}

// targetAdditionalPulse routes an interface-requested auxiliary pulse using
// its embedded connection requirements.
func (l *Layout) targetAdditionalPulse(p *pulses.Pulse, requester string) error {
	conn, err := l.resolveConnection(p)
	if err != nil {
		return fmt.Errorf("additional pulse %s from %s: %w", p.FullName(), requester, err)
	}

	iface, ok := l.interfaces[conn.OutputInstrument()]
	if !ok {
		return fmt.Errorf("additional pulse %s: %w: %s", p.FullName(), ErrUnknownInstrument, conn.OutputInstrument())
	}
	impl := iface.PulseImplementation(p)
	if impl == nil {
		return fmt.Errorf("additional pulse %s: %w: %s", p.FullName(), ErrNoImplementation, iface.Name())
	}

	targeted := p.Copy()
	targeted.SetConnection(conn)
	targeted.SetImplementation(impl)

	// Interfaces may request the same edge; an identical pulse already on
	// the upstream sequence satisfies the new request.
	if l.hasEqualPulse(iface, targeted) {
		return nil
	}
	if err := iface.AddPulse(targeted); err != nil {
		return fmt.Errorf("additional pulse %s: add to %s: %w", p.FullName(), iface.Name(), err)
	}
	if err := l.registerInput(conn, targeted); err != nil {
		return fmt.Errorf("additional pulse %s: %w", p.FullName(), err)
	}

	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		CompileID:  l.compileID,
		Stage:      log.StageTarget,
		Category:   log.CategoryPulse,
		Instrument: iface.Name(),
		Pulse:      p.FullName(),
		Connection: conn.String(),
		Target: &log.TargetEvent{
			Kind:     p.Kind().String(),
			TStart:   p.Start(),
			Duration: p.Duration(),
		},
	})

	return l.walkTriggers(iface.Name(), p.Start())
}

// resolveConnection picks the connection a pulse is emitted on. A pulse
// carrying an explicit connection keeps it; a connection label selects the
// unique connection so labeled; otherwise the pulse is dispatched to the
// unique interface implementing it and bound to that interface's unique
// default outbound connection.
func (l *Layout) resolveConnection(p *pulses.Pulse) (wiring.Connection, error) {
	if conn := p.Connection(); conn != nil {
		return conn, nil
	}
	if label := p.ConnectionLabel(); label != "" {
		return l.GetConnection(wiring.Criteria{Label: label})
	}
	if cr := p.ConnectionRequirements(); !cr.IsZero() {
		return l.GetConnection(cr)
	}

	var candidate instrument.Interface
	for _, name := range l.order {
		iface := l.interfaces[name]
		if iface.PulseImplementation(p) == nil {
			continue
		}
		if candidate != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousImplementation, candidate.Name(), name)
		}
		candidate = iface
	}
	if candidate == nil {
		return nil, ErrNoImplementation
	}

	return l.GetConnection(wiring.Criteria{
		OutputInstrument: candidate.Name(),
		Default:          wiring.Flag(true),
	})
}

// routeAcquisition copies an acquire-flagged targeted pulse to the
// acquisition instrument so the digitizer backend knows what to record.
func (l *Layout) routeAcquisition(targeted *pulses.Pulse, owner string) error {
	if l.acquisitionInstrument == "" {
		return ErrNoAcquisitionInstrument
	}
	if owner == l.acquisitionInstrument {
		return nil
	}
	acq := l.interfaces[l.acquisitionInstrument]
	record := targeted.Copy()
	if err := acq.AddPulse(record); err != nil {
		return fmt.Errorf("add to %s: %w", l.acquisitionInstrument, err)
	}
	return nil
}

// walkTriggers inserts the trigger chain that lets the instrument at `from`
// react at time t: while the current instrument is not the root clock, the
// unique inbound trigger connection is found and a zero-duration trigger
// pulse at t is added to the upstream instrument, deduplicated against
// triggers already present there.
func (l *Layout) walkTriggers(from string, t float64) error {
	current := from
	for hops := 0; current != l.triggerInstrument; hops++ {
		if l.triggerInstrument == "" {
			return ErrNoTriggerInstrument
		}
		if hops > len(l.interfaces) {
			return fmt.Errorf("%w: from %s", ErrTriggerLoop, from)
		}
		// A passive instrument with no trigger input cannot react to
		// triggers and needs no synchronization.
		if !hasTriggerInput(l.interfaces[current]) {
			return nil
		}

		conn, err := l.GetConnection(wiring.Criteria{
			InputInstrument: current,
			Trigger:         wiring.Flag(true),
		})
		if err != nil {
			return fmt.Errorf("trigger connection feeding %s: %w", current, err)
		}

		upstream, ok := l.interfaces[conn.OutputInstrument()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstrument, conn.OutputInstrument())
		}

		existing := upstream.Sequence().GetPulses(
			pulses.OfKind(pulses.KindTrigger),
			pulses.StartingAt(t),
			pulses.ConnectedTo(conn),
		)
		if len(existing) == 0 {
			trig := pulses.NewTrigger("trigger",
				pulses.Start(t),
				pulses.Duration(0),
				pulses.Amplitude(l.triggerAmplitude(upstream, conn)),
			)
			impl := upstream.PulseImplementation(trig)
			if impl == nil {
				return fmt.Errorf("trigger on %s: %w", upstream.Name(), ErrNoImplementation)
			}
			trig.SetConnection(conn)
			trig.SetImplementation(impl)
			if err := upstream.AddPulse(trig); err != nil {
				return fmt.Errorf("trigger on %s: %w", upstream.Name(), err)
			}
			if err := l.registerInput(conn, trig); err != nil {
				return fmt.Errorf("trigger on %s: %w", upstream.Name(), err)
			}
		}

		l.logger.Log(log.Event{
			Timestamp:  time.Now(),
			CompileID:  l.compileID,
			Stage:      log.StageTarget,
			Category:   log.CategoryTrigger,
			Instrument: upstream.Name(),
			Connection: conn.String(),
			Trigger: &log.TriggerEvent{
				Source:       current,
				TStart:       t,
				Deduplicated: len(existing) > 0,
			},
		})

		current = conn.OutputInstrument()
	}
	return nil
}

// Setup compiles every non-empty interface partition into device
// instructions. Post-start actions returned by the interfaces are collected
// and run by Start after every instrument is running.
func (l *Layout) Setup() error {
	if !l.targeted {
		return ErrNotTargeted
	}
	l.postStart = nil
	opts := l.setupOptions()

	for _, name := range l.order {
		iface := l.interfaces[name]
		if iface.Sequence().Empty() {
			continue
		}
		result, err := iface.Setup(opts)
		if err != nil {
			err = fmt.Errorf("setup %s: %w", name, err)
			l.logError(log.StageSetup, err, "")
			return err
		}
		l.postStart = append(l.postStart, result.PostStartActions...)
		l.logStateChange(log.StageSetup, name, "targeted", "ready", "")
	}

	l.ready = true
	return nil
}

// Start arms every non-empty interface, the root trigger instrument last,
// then runs the collected post-start actions in setup order.
func (l *Layout) Start() error {
	if !l.ready {
		return ErrNotSetUp
	}

	for _, name := range l.order {
		if name == l.triggerInstrument {
			continue
		}
		if err := l.startInterface(name); err != nil {
			return err
		}
	}
	if l.triggerInstrument != "" {
		if err := l.startInterface(l.triggerInstrument); err != nil {
			return err
		}
	}

	for _, action := range l.postStart {
		if err := action(); err != nil {
			err = fmt.Errorf("post-start action: %w", err)
			l.logError(log.StageStart, err, "")
			return err
		}
	}

	l.started = true
	return nil
}

func (l *Layout) startInterface(name string) error {
	iface := l.interfaces[name]
	if iface.Sequence().Empty() {
		return nil
	}
	if err := iface.Start(); err != nil {
		err = fmt.Errorf("start %s: %w", name, err)
		l.logError(log.StageStart, err, "")
		return err
	}
	l.logStateChange(log.StageStart, name, "ready", "running", "")
	return nil
}

// Stop halts every running interface, the root trigger instrument first so
// no further triggers are emitted while downstream instruments wind down.
// All interfaces are attempted even when one fails.
func (l *Layout) Stop() error {
	var errs []error
	stop := func(name string) {
		iface := l.interfaces[name]
		if iface.Sequence().Empty() {
			return
		}
		if err := iface.Stop(); err != nil {
			err = fmt.Errorf("stop %s: %w", name, err)
			l.logError(log.StageStop, err, "")
			errs = append(errs, err)
			return
		}
		l.logStateChange(log.StageStop, name, "running", "stopped", "")
	}

	if l.triggerInstrument != "" {
		stop(l.triggerInstrument)
	}
	for _, name := range l.order {
		if name == l.triggerInstrument {
			continue
		}
		stop(name)
	}

	l.started = false
	return errors.Join(errs...)
}

// Started reports whether Start completed without a subsequent Stop.
func (l *Layout) Started() bool { return l.started }

func (l *Layout) setupOptions() instrument.SetupOptions {
	return instrument.SetupOptions{
		Duration:   l.duration,
		FinalDelay: l.finalDelay,
		Samples:    l.samples,
	}
}

func (l *Layout) resolveEndpoint(s string) (wiring.Endpoint, error) {
	ep, err := wiring.ParseEndpoint(s)
	if err != nil {
		return wiring.Endpoint{}, err
	}
	iface, ok := l.interfaces[ep.Instrument]
	if !ok {
		return wiring.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, ep.Instrument)
	}
	if _, ok := iface.Channel(ep.Channel); !ok {
		return wiring.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownChannel, s)
	}
	return ep, nil
}

// registerInput mirrors a targeted pulse to the input sequence of the
// instrument on the receiving end of its connection, when that instrument is
// registered. Digitizer-style backends read their trigger levels from it.
func (l *Layout) registerInput(conn wiring.Connection, targeted *pulses.Pulse) error {
	receiver, ok := l.interfaces[conn.InputInstrument()]
	if !ok {
		return nil
	}
	if err := receiver.AddInputPulse(targeted.Copy()); err != nil {
		return fmt.Errorf("input of %s: %w", receiver.Name(), err)
	}
	return nil
}

// triggerAmplitude picks the trigger level from the emitting channel's TTL
// high level, defaulting to 1V when the channel declares none.
func (l *Layout) triggerAmplitude(upstream instrument.Interface, conn wiring.Connection) float64 {
	single, ok := conn.(*wiring.SingleConnection)
	if !ok {
		return 1
	}
	ch, ok := upstream.Channel(single.Output().Channel)
	if !ok || ch.OutputTTL == nil {
		return 1
	}
	return ch.OutputTTL.High
}

func hasTriggerInput(iface instrument.Interface) bool {
	for _, ch := range iface.Channels() {
		if ch.InputTrigger {
			return true
		}
	}
	return false
}

func (l *Layout) hasConnection(conn wiring.Connection) bool {
	for _, c := range l.connections {
		if c.Equal(conn) {
			return true
		}
	}
	return false
}

func (l *Layout) hasEqualPulse(iface instrument.Interface, p *pulses.Pulse) bool {
	for _, existing := range iface.Sequence().Pulses() {
		if existing.Equal(p) {
			return true
		}
	}
	return false
}

func (l *Layout) logError(stage log.Stage, err error, pulse string) {
	l.logger.Log(log.Event{
		Timestamp: time.Now(),
		CompileID: l.compileID,
		Stage:     stage,
		Category:  log.CategoryError,
		Pulse:     pulse,
		Error: &log.ErrorEventData{
			Stage:   stage,
			Message: err.Error(),
		},
	})
}

func (l *Layout) logStateChange(stage log.Stage, instrumentName, oldState, newState, reason string) {
	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		CompileID:  l.compileID,
		Stage:      stage,
		Category:   log.CategoryState,
		Instrument: instrumentName,
		StateChange: &log.StateChangeEvent{
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
