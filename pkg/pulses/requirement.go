package pulses

import (
	"errors"
	"fmt"
	"strings"
)

// Requirement errors.
var (
	ErrUnknownAttribute = errors.New("unknown pulse attribute")
	ErrEmptyRequirement = errors.New("requirement constrains nothing")
)

// Requirement constrains one numeric pulse attribute. Either a min/max
// range or an enumerated value set applies; interfaces register
// requirements alongside an Implementation to bound what they accept.
type Requirement struct {
	attribute string
	min, max  *float64
	oneOf     []float64
}

// AtLeast requires attribute >= v.
func AtLeast(attribute string, v float64) Requirement {
	return Requirement{attribute: attribute, min: &v}
}

// AtMost requires attribute <= v.
func AtMost(attribute string, v float64) Requirement {
	return Requirement{attribute: attribute, max: &v}
}

// Between requires min <= attribute <= max.
func Between(attribute string, min, max float64) Requirement {
	return Requirement{attribute: attribute, min: &min, max: &max}
}

// OneOf requires the attribute to be an element of values.
func OneOf(attribute string, values ...float64) Requirement {
	return Requirement{attribute: attribute, oneOf: values}
}

// Validate checks that the requirement is well-formed.
func (r Requirement) Validate() error {
	if r.min == nil && r.max == nil && len(r.oneOf) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyRequirement, r.attribute)
	}
	return nil
}

// Satisfied reports whether the pulse meets the requirement. Unknown
// attributes are an error: a misspelled requirement must fail loudly
// instead of silently admitting every pulse.
func (r Requirement) Satisfied(p *Pulse) (bool, error) {
	v, ok := p.attribute(r.attribute)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownAttribute, r.attribute)
	}
	if len(r.oneOf) > 0 {
		for _, allowed := range r.oneOf {
			if v == allowed {
				return true, nil
			}
		}
		return false, nil
	}
	if r.min != nil && v < *r.min {
		return false, nil
	}
	if r.max != nil && v > *r.max {
		return false, nil
	}
	return true, nil
}

// String renders the requirement, e.g. "frequency in [0, 1.5e+09]".
func (r Requirement) String() string {
	if len(r.oneOf) > 0 {
		parts := make([]string, len(r.oneOf))
		for i, v := range r.oneOf {
			parts[i] = fmt.Sprintf("%g", v)
		}
		return fmt.Sprintf("%s in {%s}", r.attribute, strings.Join(parts, ", "))
	}
	switch {
	case r.min != nil && r.max != nil:
		return fmt.Sprintf("%s in [%g, %g]", r.attribute, *r.min, *r.max)
	case r.min != nil:
		return fmt.Sprintf("%s >= %g", r.attribute, *r.min)
	case r.max != nil:
		return fmt.Sprintf("%s <= %g", r.attribute, *r.max)
	default:
		return r.attribute + " unconstrained"
	}
}
