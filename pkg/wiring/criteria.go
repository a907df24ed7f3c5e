package wiring

// Criteria filters connections by their declared attributes. Zero-valued
// fields are ignored; flag fields use *bool so that "must be false" can be
// expressed distinctly from "don't care".
type Criteria struct {
	OutputInstrument string
	OutputChannel    string
	InputInstrument  string
	InputChannel     string
	Label            string
	Trigger          *bool
	Acquire          *bool
	Default          *bool
}

// Flag returns a *bool for use in Criteria flag fields.
func Flag(v bool) *bool { return &v }

// IsZero reports whether no criteria fields are set.
func (cr Criteria) IsZero() bool {
	return cr == Criteria{}
}

func (cr Criteria) matchCommon(c Connection) bool {
	if cr.OutputInstrument != "" && c.OutputInstrument() != cr.OutputInstrument {
		return false
	}
	if cr.InputInstrument != "" && c.InputInstrument() != cr.InputInstrument {
		return false
	}
	if cr.Label != "" && c.Label() != cr.Label {
		return false
	}
	if cr.Trigger != nil && c.Trigger() != *cr.Trigger {
		return false
	}
	if cr.Acquire != nil && c.Acquire() != *cr.Acquire {
		return false
	}
	if cr.Default != nil && c.Default() != *cr.Default {
		return false
	}
	return true
}

func (cr Criteria) matchEndpoint(want, got string) bool {
	return want == "" || want == got
}

// Filter returns the connections satisfying the criteria.
func Filter(connections []Connection, cr Criteria) []Connection {
	var out []Connection
	for _, c := range connections {
		if c.Satisfies(cr) {
			out = append(out, c)
		}
	}
	return out
}
