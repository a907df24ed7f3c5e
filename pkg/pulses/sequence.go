package pulses

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Sequence errors.
var (
	ErrPulseOverlap         = errors.New("pulses overlap")
	ErrUntargetedNotAllowed = errors.New("sequence does not allow untargeted pulses")
	ErrTargetedNotAllowed   = errors.New("sequence does not allow targeted pulses")
	ErrNoUniquePulse        = errors.New("no unique pulse matches")
	ErrAmbiguousPulse       = errors.New("more than one pulse matches")
	ErrNoUniqueConnection   = errors.New("no unique connection matches")
	ErrNoTransitionVoltage  = errors.New("cannot determine transition voltage")
)

// DefaultFinalDelay is the quiet time appended after the last pulse unless
// configured otherwise. The root clock interface always honors it.
const DefaultFinalDelay = 0.5e-3

// SequenceConfig holds the validation switches of a Sequence.
type SequenceConfig struct {
	// AllowUntargetedPulses admits pulses without an implementation.
	AllowUntargetedPulses bool

	// AllowTargetedPulses admits pulses bound to an implementation.
	// Interface-owned sequences typically allow only targeted pulses.
	AllowTargetedPulses bool

	// AllowPulseOverlap admits enabled pulses overlapping in time on one
	// connection. When false, overlapping adds are rejected.
	AllowPulseOverlap bool

	// FinalDelay is the trailing quiet time after the last pulse.
	FinalDelay float64
}

// DefaultSequenceConfig permits everything and applies DefaultFinalDelay.
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		AllowUntargetedPulses: true,
		AllowTargetedPulses:   true,
		AllowPulseOverlap:     true,
		FinalDelay:            DefaultFinalDelay,
	}
}

// Sequence is an ordered, mutually consistent collection of pulses with
// derived aggregate timing. Pulses are stored sorted by start time; derived
// views update synchronously on every mutation, so later pipeline stages can
// read them without revalidation.
type Sequence struct {
	cfg SequenceConfig

	pulses   []*Pulse
	enabled  []*Pulse
	disabled []*Pulse

	// chains maps a pulse to the predecessor whose t_stop drives its
	// t_start. The dependency is live: moving the predecessor shifts the
	// chained pulse and everything chained after it.
	chains map[*Pulse]*Pulse

	duration       float64
	durationPinned bool
}

// NewSequence creates an empty sequence with the given configuration.
func NewSequence(cfg SequenceConfig) *Sequence {
	return &Sequence{cfg: cfg, chains: make(map[*Pulse]*Pulse)}
}

// Config returns the sequence configuration.
func (s *Sequence) Config() SequenceConfig { return s.cfg }

// Len returns the number of enabled pulses.
func (s *Sequence) Len() int { return len(s.enabled) }

// Empty reports whether the sequence contains no enabled pulses.
func (s *Sequence) Empty() bool { return len(s.enabled) == 0 }

// Pulses returns all pulses sorted by start time.
func (s *Sequence) Pulses() []*Pulse {
	out := make([]*Pulse, len(s.pulses))
	copy(out, s.pulses)
	return out
}

// EnabledPulses returns the enabled pulses sorted by start time.
func (s *Sequence) EnabledPulses() []*Pulse {
	out := make([]*Pulse, len(s.enabled))
	copy(out, s.enabled)
	return out
}

// DisabledPulses returns the disabled pulses.
func (s *Sequence) DisabledPulses() []*Pulse {
	out := make([]*Pulse, len(s.disabled))
	copy(out, s.disabled)
	return out
}

// Contains reports whether an attribute-equal pulse is present.
func (s *Sequence) Contains(p *Pulse) bool {
	for _, q := range s.pulses {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// Duration returns the pinned duration if set, otherwise the largest stop
// time over enabled pulses.
func (s *Sequence) Duration() float64 {
	if s.durationPinned {
		return s.duration
	}
	return s.derivedDuration()
}

func (s *Sequence) derivedDuration() float64 {
	d := 0.0
	for _, p := range s.enabled {
		if p.Stop() > d {
			d = p.Stop()
		}
	}
	return roundTime(d)
}

// SetDuration pins the sequence duration. Adding or removing pulses resets
// the pin unless re-applied.
func (s *Sequence) SetDuration(d float64) {
	s.duration = roundTime(d)
	s.durationPinned = true
}

// ResetDuration reverts to the derived duration.
func (s *Sequence) ResetDuration() {
	s.durationPinned = false
	s.duration = s.derivedDuration()
}

// FinalDelay returns the trailing quiet time.
func (s *Sequence) FinalDelay() float64 { return s.cfg.FinalDelay }

// SetFinalDelay changes the trailing quiet time.
func (s *Sequence) SetFinalDelay(d float64) { s.cfg.FinalDelay = d }

// Add validates and appends copies of the given pulses, returning the
// copies. Ids are assigned when names collide, and a pulse without a start
// time is chained live to the latest stop on its connection. A failed add
// leaves the sequence unchanged.
func (s *Sequence) Add(ps ...*Pulse) ([]*Pulse, error) {
	for _, p := range ps {
		if err := s.admissible(p); err != nil {
			return nil, err
		}
	}

	// Stage copies with resolved starts so every check happens before any
	// state is committed.
	staged := make([]*Pulse, 0, len(ps))
	parents := make([]*Pulse, 0, len(ps))
	for _, orig := range ps {
		p := orig.Copy()
		p.setID(-1)

		var parent *Pulse
		if !p.hasTStart {
			parent = s.latestRelated(p, staged)
			if parent != nil {
				p.tStart = parent.Stop()
			} else {
				p.tStart = 0
			}
			p.hasTStart = true
		}

		if !s.cfg.AllowPulseOverlap && p.enabled {
			if other := s.findOverlap(p, staged); other != nil {
				return nil, fmt.Errorf("%w: %s and %s", ErrPulseOverlap, p, other)
			}
		}

		staged = append(staged, p)
		parents = append(parents, parent)
	}

	for i, p := range staged {
		s.assignID(p)
		if parents[i] != nil {
			s.chains[p] = parents[i]
		}
		p.onChange = s.pulseChanged
		s.pulses = append(s.pulses, p)
	}
	s.durationPinned = false
	s.refresh()
	return staged, nil
}

// QuickAdd appends copies of the given pulses without overlap checking or
// id assignment. It is the fast path used by the targeting engine, which
// queries interface sequences between adds; derived views are therefore
// rebuilt immediately, and only the overlap sweep and id pass are deferred
// to FinishQuickAdd.
func (s *Sequence) QuickAdd(ps ...*Pulse) ([]*Pulse, error) {
	for _, p := range ps {
		if err := s.admissible(p); err != nil {
			return nil, err
		}
	}

	added := make([]*Pulse, 0, len(ps))
	for _, orig := range ps {
		p := orig.Copy()

		if !p.hasTStart {
			if parent := s.latestRelated(p, nil); parent != nil {
				p.tStart = parent.Stop()
				s.chains[p] = parent
			} else {
				p.tStart = 0
			}
			p.hasTStart = true
		}

		p.onChange = s.pulseChanged
		s.pulses = append(s.pulses, p)
		added = append(added, p)
	}
	s.durationPinned = false
	s.refresh()
	return added, nil
}

// FinishQuickAdd sorts, overlap-checks, and id-disambiguates pulses added
// through QuickAdd. On an overlap violation the sequence is cleared and the
// error returned, matching the all-or-nothing contract of targeting.
func (s *Sequence) FinishQuickAdd() error {
	s.refresh()

	if !s.cfg.AllowPulseOverlap {
		// Sweep enabled pulses in start order, retiring pulses that
		// stopped before the current start.
		var active []*Pulse
		for _, p := range s.enabled {
			next := active[:0]
			for _, a := range active {
				if a.Stop() <= p.Start()+timeTolerance {
					continue
				}
				if pulsesOverlap(p, a) {
					s.Clear()
					return fmt.Errorf("%w: %s and %s", ErrPulseOverlap, p, a)
				}
				next = append(next, a)
			}
			active = append(next, p)
		}
	}

	// Ensure unique full names: pulses sharing a name get sequential ids.
	byName := make(map[string][]*Pulse)
	for _, p := range s.pulses {
		if p.Name() != "" {
			byName[p.Name()] = append(byName[p.Name()], p)
		}
	}
	for _, group := range byName {
		if len(group) > 1 {
			for k, p := range group {
				p.setID(k)
			}
		}
	}
	return nil
}

// Remove removes the unique pulse equal to p. It fails when no pulse or
// more than one pulse matches.
func (s *Sequence) Remove(p *Pulse) error {
	var matches []*Pulse
	for _, q := range s.pulses {
		if q.Equal(p) {
			matches = append(matches, q)
		}
	}
	return s.removeMatches(matches, p.FullName())
}

// RemoveNamed removes the unique pulse with the given full name.
func (s *Sequence) RemoveNamed(fullName string) error {
	var matches []*Pulse
	for _, q := range s.pulses {
		if q.FullName() == fullName {
			matches = append(matches, q)
		}
	}
	return s.removeMatches(matches, fullName)
}

func (s *Sequence) removeMatches(matches []*Pulse, desc string) error {
	if len(matches) == 0 {
		return fmt.Errorf("%w: %s", ErrNoUniquePulse, desc)
	}
	if len(matches) > 1 {
		return fmt.Errorf("%w: %s matches %d pulses", ErrAmbiguousPulse, desc, len(matches))
	}
	target := matches[0]
	for i, q := range s.pulses {
		if q == target {
			s.pulses = append(s.pulses[:i], s.pulses[i+1:]...)
			break
		}
	}
	target.onChange = nil
	delete(s.chains, target)
	// Pulses chained to the removed one keep their last computed start.
	for child, parent := range s.chains {
		if parent == target {
			delete(s.chains, child)
		}
	}
	s.durationPinned = false
	s.refresh()
	return nil
}

// Clear removes all pulses.
func (s *Sequence) Clear() {
	for _, p := range s.pulses {
		p.onChange = nil
	}
	s.pulses = nil
	s.enabled = nil
	s.disabled = nil
	s.chains = make(map[*Pulse]*Pulse)
	s.durationPinned = false
	s.duration = 0
}

// GetPulses returns the pulses satisfying all conditions. Disabled pulses
// are excluded unless IncludeDisabled is given.
func (s *Sequence) GetPulses(conds ...Condition) []*Pulse {
	q := &query{}
	for _, c := range conds {
		c(q)
	}
	source := s.enabled
	if q.includeDisabled {
		source = s.pulses
	}
	var out []*Pulse
	for _, p := range source {
		if q.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// GetPulse returns the unique pulse satisfying the conditions, nil when
// nothing matches, and an error when the match is ambiguous.
func (s *Sequence) GetPulse(conds ...Condition) (*Pulse, error) {
	matches := s.GetPulses(conds...)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d matches", ErrAmbiguousPulse, len(matches))
	}
}

// GetConnection returns the unique connection shared by the pulses
// satisfying the conditions.
func (s *Sequence) GetConnection(conds ...Condition) (wiring.Connection, error) {
	var found wiring.Connection
	for _, p := range s.GetPulses(conds...) {
		c := p.Connection()
		if c == nil {
			continue
		}
		if found == nil {
			found = c
		} else if !found.Equal(c) {
			return nil, fmt.Errorf("%w: %s and %s", ErrNoUniqueConnection, found, c)
		}
	}
	if found == nil {
		return nil, ErrNoUniqueConnection
	}
	return found, nil
}

// TStartList returns the distinct start instants of enabled pulses, sorted.
func (s *Sequence) TStartList() []float64 {
	ts := make([]float64, 0, len(s.enabled))
	for _, p := range s.enabled {
		ts = append(ts, roundTime(p.Start()))
	}
	return uniqueSorted(ts)
}

// TStopList returns the distinct stop instants of enabled pulses, sorted.
func (s *Sequence) TStopList() []float64 {
	ts := make([]float64, 0, len(s.enabled))
	for _, p := range s.enabled {
		ts = append(ts, roundTime(p.Stop()))
	}
	return uniqueSorted(ts)
}

// TList returns the distinct timing breakpoints: every start and stop, the
// sequence duration, and the end of the final delay.
func (s *Sequence) TList() []float64 {
	ts := append(s.TStartList(), s.TStopList()...)
	d := s.Duration()
	ts = append(ts, d, roundTime(d+s.cfg.FinalDelay))
	return uniqueSorted(ts)
}

// TransitionVoltages computes the voltages immediately before and after the
// boundary at time t on the given connection. A boundary at t=0 wraps to
// the sequence end, treating the sequence as periodic. When no predecessor
// pulse exists, the output channel's TTL low level is used; outputChannel
// may be nil when no such fallback applies.
func (s *Sequence) TransitionVoltages(conn wiring.Connection, outputChannel *wiring.Channel, t float64) (pre, post float64, err error) {
	postPulse, err := s.GetPulse(ConnectedTo(conn), StartingAt(t))
	if err != nil {
		return 0, 0, err
	}
	if postPulse == nil {
		return 0, 0, fmt.Errorf("%w: no pulse starts at t=%v on %s", ErrNoTransitionVoltage, t, conn)
	}

	// The pulse preceding a boundary at t=0 is the one ending at the
	// sequence duration (previous period).
	preT := t
	if t == 0 {
		preT = s.Duration()
	}
	// A zero-duration pulse stops at its own start; it is the transition
	// itself, not the predecessor.
	var prePulse *Pulse
	for _, c := range s.GetPulses(ConnectedTo(conn), StoppingAt(preT)) {
		if c == postPulse {
			continue
		}
		if prePulse != nil {
			return 0, 0, fmt.Errorf("%w: multiple pulses stop at t=%v on %s", ErrAmbiguousPulse, preT, conn)
		}
		prePulse = c
	}

	switch {
	case prePulse != nil:
		pre, err = prePulse.Voltage(preT)
		if err != nil {
			return 0, 0, err
		}
	case outputChannel != nil && outputChannel.OutputTTL != nil:
		pre = outputChannel.OutputTTL.Low
	default:
		return 0, 0, fmt.Errorf("%w: no predecessor at t=%v on %s and no idle level",
			ErrNoTransitionVoltage, t, conn)
	}

	post, err = postPulse.Voltage(t)
	if err != nil {
		return 0, 0, err
	}
	return pre, post, nil
}

// Copy returns an independent deep copy, preserving chains, ids, and any
// pinned duration.
func (s *Sequence) Copy() *Sequence {
	c := NewSequence(s.cfg)
	mapping := make(map[*Pulse]*Pulse, len(s.pulses))
	for _, p := range s.pulses {
		cp := p.Copy()
		cp.onChange = c.pulseChanged
		c.pulses = append(c.pulses, cp)
		mapping[p] = cp
	}
	for child, parent := range s.chains {
		if cc, ok := mapping[child]; ok {
			if cp, ok := mapping[parent]; ok {
				c.chains[cc] = cp
			}
		}
	}
	c.duration = s.duration
	c.durationPinned = s.durationPinned
	c.refresh()
	return c
}

// Equal reports whether both sequences hold pairwise attribute-equal pulses
// under the same configuration and timing.
func (s *Sequence) Equal(other *Sequence) bool {
	if other == nil {
		return false
	}
	if s.cfg != other.cfg || len(s.pulses) != len(other.pulses) {
		return false
	}
	if math.Abs(s.Duration()-other.Duration()) > timeTolerance {
		return false
	}
	for i := range s.pulses {
		if !s.pulses[i].Equal(other.pulses[i]) {
			return false
		}
	}
	return true
}

// String summarizes the sequence.
func (s *Sequence) String() string {
	return fmt.Sprintf("PulseSequence(%d pulses, duration %gs)", len(s.pulses), s.Duration())
}

func (s *Sequence) admissible(p *Pulse) error {
	if !p.HasDuration() {
		return fmt.Errorf("%w: %s", ErrNoDuration, p)
	}
	if p.Connection() != nil && p.ConnectionLabel() != "" {
		return fmt.Errorf("%w: %s", ErrConflictingConnection, p)
	}
	if !p.Targeted() && !s.cfg.AllowUntargetedPulses {
		return fmt.Errorf("%w: %s", ErrUntargetedNotAllowed, p)
	}
	if p.Targeted() && !s.cfg.AllowTargetedPulses {
		return fmt.Errorf("%w: %s", ErrTargetedNotAllowed, p)
	}
	return nil
}

// latestRelated finds the pulse with the largest stop time sharing the
// candidate's connection or label, considering staged pulses as well.
func (s *Sequence) latestRelated(p *Pulse, staged []*Pulse) *Pulse {
	q := &query{}
	sameRouting(p)(q)

	var last *Pulse
	consider := func(c *Pulse) {
		if !c.hasTStart || !c.hasDuration || !q.matches(c) {
			return
		}
		if last == nil || c.Stop() > last.Stop() {
			last = c
		}
	}
	for _, c := range s.pulses {
		consider(c)
	}
	for _, c := range staged {
		consider(c)
	}
	return last
}

func (s *Sequence) findOverlap(p *Pulse, staged []*Pulse) *Pulse {
	for _, q := range s.enabled {
		if pulsesOverlap(p, q) {
			return q
		}
	}
	for _, q := range staged {
		if q.enabled && pulsesOverlap(p, q) {
			return q
		}
	}
	return nil
}

func (s *Sequence) assignID(p *Pulse) {
	if p.Name() == "" {
		return
	}
	var sameName []*Pulse
	for _, q := range s.pulses {
		if q.Name() == p.Name() {
			sameName = append(sameName, q)
		}
	}
	if len(sameName) == 0 {
		return
	}
	if sameName[0].ID() < 0 {
		sameName[0].setID(0)
		p.setID(1)
		return
	}
	maxID := sameName[0].ID()
	for _, q := range sameName[1:] {
		if q.ID() > maxID {
			maxID = q.ID()
		}
	}
	p.setID(maxID + 1)
}

// pulseChanged is the observer installed on owned pulses: any timing or
// enable mutation recomputes chained starts and derived views before the
// mutator returns.
func (s *Sequence) pulseChanged(*Pulse) {
	s.recomputeChains()
	s.refresh()
}

func (s *Sequence) recomputeChains() {
	// Chains form a forest; a bounded fixpoint pass settles nested chains
	// regardless of map iteration order.
	for range s.chains {
		changed := false
		for child, parent := range s.chains {
			want := parent.Stop()
			if math.Abs(child.tStart-want) > timeTolerance {
				child.tStart = want
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// refresh re-sorts pulses and rebuilds every derived view.
func (s *Sequence) refresh() {
	sort.SliceStable(s.pulses, func(i, j int) bool {
		return s.pulses[i].Start() < s.pulses[j].Start()
	})
	s.enabled = s.enabled[:0]
	s.disabled = s.disabled[:0]
	for _, p := range s.pulses {
		if p.Enabled() {
			s.enabled = append(s.enabled, p)
		} else {
			s.disabled = append(s.disabled, p)
		}
	}
	if !s.durationPinned {
		s.duration = s.derivedDuration()
	}
}

// pulsesOverlap tests whether two pulses overlap in time on the same
// connection. Pulses without connection information overlap on time alone.
// A zero-duration pulse occupies no time under the half-open convention and
// never overlaps; trigger edges land inside other pulses' windows.
func pulsesOverlap(p1, p2 *Pulse) bool {
	if p1.Duration() == 0 || p2.Duration() == 0 {
		return false
	}
	if p1.Stop() <= p2.Start()+timeTolerance || p1.Start() >= p2.Stop()-timeTolerance {
		return false
	}
	switch {
	case p1.Connection() != nil:
		if p2.Connection() != nil {
			return p1.Connection().Equal(p2.Connection())
		}
		if p2.ConnectionLabel() != "" {
			return p1.Connection().Label() == p2.ConnectionLabel()
		}
		return false
	case p1.ConnectionLabel() != "":
		if p2.ConnectionLabel() == p1.ConnectionLabel() {
			return true
		}
		return p2.Connection() != nil && p2.Connection().Label() == p1.ConnectionLabel()
	default:
		return true
	}
}

func roundTime(t float64) float64 {
	return math.Round(t*1e11) / 1e11
}

func uniqueSorted(ts []float64) []float64 {
	sort.Float64s(ts)
	out := ts[:0]
	for _, t := range ts {
		if len(out) == 0 || t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
