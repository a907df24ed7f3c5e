package pulses

// Defaults carries configured fallback values for pulse attributes. A nil
// field means "no default". Defaults are resolved once, at construction or
// via ApplyDefaults, never re-queried later; explicitly set attributes
// always win.
type Defaults struct {
	Start     *float64
	Stop      *float64
	Duration  *float64
	Amplitude *float64
	Frequency *float64
	Phase     *float64
	Offset    *float64
}

// Merge overlays o on top of d: set fields of o take precedence.
func (d Defaults) Merge(o Defaults) Defaults {
	out := d
	if o.Start != nil {
		out.Start = o.Start
	}
	if o.Stop != nil {
		out.Stop = o.Stop
	}
	if o.Duration != nil {
		out.Duration = o.Duration
	}
	if o.Amplitude != nil {
		out.Amplitude = o.Amplitude
	}
	if o.Frequency != nil {
		out.Frequency = o.Frequency
	}
	if o.Phase != nil {
		out.Phase = o.Phase
	}
	if o.Offset != nil {
		out.Offset = o.Offset
	}
	return out
}

// ApplyDefaults fills unset attributes from d. Timing, amplitude, and
// frequency track whether they were explicitly set; phase and offset are
// treated as unset while zero.
func (p *Pulse) ApplyDefaults(d Defaults) {
	if !p.hasTStart && d.Start != nil {
		p.tStart = *d.Start
		p.hasTStart = true
	}
	if !p.hasDuration {
		switch {
		case d.Duration != nil:
			p.duration = *d.Duration
			p.hasDuration = true
		case d.Stop != nil && p.hasTStart:
			p.duration = *d.Stop - p.tStart
			p.hasDuration = true
		}
	}
	if !p.hasAmplitude && d.Amplitude != nil {
		p.amplitude = *d.Amplitude
		p.hasAmplitude = true
	}
	if !p.hasFrequency && d.Frequency != nil {
		p.frequency = *d.Frequency
		p.hasFrequency = true
	}
	if p.phase == 0 && d.Phase != nil {
		p.phase = *d.Phase
	}
	if p.offset == 0 && d.Offset != nil {
		p.offset = *d.Offset
	}
}
