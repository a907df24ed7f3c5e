package pulses

import "fmt"

// Implementation binds one pulse kind to one instrument interface, with
// requirements bounding which pulses of that kind the interface accepts.
// Implementations are registered once per interface and treated as
// immutable; targeted pulses reference the registered instance.
type Implementation struct {
	kind         Kind
	requirements []Requirement
}

// NewImplementation declares that an interface can realize pulses of the
// given kind, subject to the requirements.
func NewImplementation(kind Kind, requirements ...Requirement) *Implementation {
	return &Implementation{kind: kind, requirements: requirements}
}

// Kind returns the pulse kind this implementation realizes.
func (im *Implementation) Kind() Kind { return im.kind }

// Requirements returns the registered requirements.
func (im *Implementation) Requirements() []Requirement { return im.requirements }

// Accepts reports whether the pulse matches the kind and satisfies every
// requirement. A requirement naming an unknown attribute rejects the pulse.
func (im *Implementation) Accepts(p *Pulse) bool {
	if p.Kind() != im.kind {
		return false
	}
	for _, r := range im.requirements {
		ok, err := r.Satisfied(p)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// String renders the implementation and its requirements.
func (im *Implementation) String() string {
	return fmt.Sprintf("Implementation(%s, %d requirements)", im.kind, len(im.requirements))
}
