package pulses

// PulseSnapshot is a flattened, serialization-friendly view of a pulse.
type PulseSnapshot struct {
	Name            string  `json:"name,omitempty"`
	ID              int     `json:"id"`
	Kind            string  `json:"kind"`
	TStart          float64 `json:"t_start"`
	Duration        float64 `json:"duration"`
	TStop           float64 `json:"t_stop"`
	Enabled         bool    `json:"enabled"`
	Acquire         bool    `json:"acquire,omitempty"`
	Amplitude       float64 `json:"amplitude,omitempty"`
	Offset          float64 `json:"offset,omitempty"`
	Frequency       float64 `json:"frequency,omitempty"`
	FrequencyStop   float64 `json:"frequency_stop,omitempty"`
	Phase           float64 `json:"phase,omitempty"`
	Connection      string  `json:"connection,omitempty"`
	ConnectionLabel string  `json:"connection_label,omitempty"`
}

// SequenceSnapshot is the serializable state of a sequence.
type SequenceSnapshot struct {
	Duration   float64         `json:"duration"`
	FinalDelay float64         `json:"final_delay"`
	Pulses     []PulseSnapshot `json:"pulses"`
}

// Snapshot returns the current sequence state for persistence or display.
func (s *Sequence) Snapshot() SequenceSnapshot {
	snap := SequenceSnapshot{
		Duration:   s.Duration(),
		FinalDelay: s.FinalDelay(),
		Pulses:     make([]PulseSnapshot, 0, len(s.pulses)),
	}
	for _, p := range s.pulses {
		ps := PulseSnapshot{
			Name:            p.Name(),
			ID:              p.ID(),
			Kind:            p.Kind().String(),
			TStart:          p.Start(),
			Duration:        p.Duration(),
			TStop:           p.Stop(),
			Enabled:         p.Enabled(),
			Acquire:         p.Acquires(),
			Amplitude:       p.Amplitude(),
			Offset:          p.Offset(),
			Frequency:       p.Frequency(),
			FrequencyStop:   p.FrequencyStop(),
			Phase:           p.Phase(),
			ConnectionLabel: p.ConnectionLabel(),
		}
		if p.Connection() != nil {
			ps.Connection = p.Connection().String()
		}
		snap.Pulses = append(snap.Pulses, ps)
	}
	return snap
}
