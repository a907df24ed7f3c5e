package pulses

import (
	"math"

	"github.com/MorelloLab/SilQ/pkg/wiring"
)

// Condition filters pulses in Sequence.GetPulses / GetPulse. Conditions
// compose as a conjunction: a pulse must satisfy all of them.
type Condition func(*query)

type query struct {
	includeDisabled bool
	preds           []func(*Pulse) bool
}

func predicate(f func(*Pulse) bool) Condition {
	return func(q *query) { q.preds = append(q.preds, f) }
}

// Named matches the pulse name or full name ("read" or "read[1]").
func Named(name string) Condition {
	return predicate(func(p *Pulse) bool {
		return p.Name() == name || p.FullName() == name
	})
}

// WithID matches the disambiguating id.
func WithID(id int) Condition {
	return predicate(func(p *Pulse) bool { return p.ID() == id })
}

// OfKind matches the pulse kind.
func OfKind(k Kind) Condition {
	return predicate(func(p *Pulse) bool { return p.Kind() == k })
}

// StartingAt matches pulses starting at t (within timing tolerance).
func StartingAt(t float64) Condition {
	return predicate(func(p *Pulse) bool {
		return p.HasStart() && math.Abs(p.Start()-t) <= timeTolerance
	})
}

// StoppingAt matches pulses stopping at t (within timing tolerance).
func StoppingAt(t float64) Condition {
	return predicate(func(p *Pulse) bool {
		return p.HasStart() && p.HasDuration() && math.Abs(p.Stop()-t) <= timeTolerance
	})
}

// Acquiring matches pulses flagged for acquisition.
func Acquiring() Condition {
	return predicate(func(p *Pulse) bool { return p.Acquires() })
}

// IncludeDisabled widens the query to disabled pulses. By default only
// enabled pulses are returned.
func IncludeDisabled() Condition {
	return func(q *query) { q.includeDisabled = true }
}

// ConnectedTo matches pulses bound to the given connection, either directly
// or through a matching connection label.
func ConnectedTo(c wiring.Connection) Condition {
	return predicate(func(p *Pulse) bool {
		if p.Connection() != nil {
			return p.Connection().Equal(c)
		}
		return c.Label() != "" && p.ConnectionLabel() == c.Label()
	})
}

// Labeled matches pulses bound to the given connection label, either
// symbolically or through their resolved connection's label.
func Labeled(label string) Condition {
	return predicate(func(p *Pulse) bool {
		if p.ConnectionLabel() == label {
			return true
		}
		return p.Connection() != nil && p.Connection().Label() == label
	})
}

// MatchingConnection matches pulses whose resolved connection satisfies the
// criteria. Pulses without a resolved connection never match.
func MatchingConnection(cr wiring.Criteria) Condition {
	return predicate(func(p *Pulse) bool {
		return p.Connection() != nil && p.Connection().Satisfies(cr)
	})
}

// sameRouting matches pulses sharing a connection or connection label with
// the given pulse; used to find chaining predecessors.
func sameRouting(of *Pulse) Condition {
	return predicate(func(p *Pulse) bool {
		if of.Connection() != nil {
			if p.Connection() != nil {
				return p.Connection().Equal(of.Connection())
			}
			return of.Connection().Label() != "" && p.ConnectionLabel() == of.Connection().Label()
		}
		if of.ConnectionLabel() != "" {
			if p.ConnectionLabel() == of.ConnectionLabel() {
				return true
			}
			return p.Connection() != nil && p.Connection().Label() == of.ConnectionLabel()
		}
		// Unrouted pulses chain to any predecessor.
		return true
	})
}

func (q *query) matches(p *Pulse) bool {
	for _, pred := range q.preds {
		if !pred(p) {
			return false
		}
	}
	return true
}
