package awg

import (
	"fmt"
	"math"

	"github.com/MorelloLab/SilQ/pkg/pulses"
)

// segment is the synthesized form of one contiguous pulse: a main buffer
// replayed loops times, optionally preceded by an initial buffer (first
// sample fixed up later) and followed by a phase-matched tail buffer.
type segment struct {
	main    Waveform
	loops   int
	initial Waveform
	tail    Waveform
}

// buildChannel compiles one output channel's pulse timeline into waveform
// buffers and sequence steps. The timeline must be gap-consistent: a pulse
// may not start before the running cursor, and any gap must be long enough
// to bridge with a constant buffer.
func (a *Interface) buildChannel(channel string, duration float64) (*ChannelPlan, error) {
	rate := a.cfg.SampleRate
	minWaveformDuration := float64(MinPoints) / rate

	plan := &ChannelPlan{Channel: channel, initial: -1}

	// The device waits for its trigger on an all-zero buffer.
	plan.addWaveform(constant(0, MinPoints))

	cursor := 0.0
	for _, p := range a.channelPulses(channel) {
		switch {
		case p.Start()+timeTolerance < cursor:
			return nil, fmt.Errorf("%w: pulse %s at %.9g s, cursor %.9g s",
				ErrPulseBeforeCursor, p.FullName(), p.Start(), cursor)
		case p.Start()-cursor > timeTolerance && p.Start()-cursor < minWaveformDuration+timeTolerance:
			return nil, fmt.Errorf("%w: %.9g s between cursor %.9g s and pulse %s, minimum %.9g s",
				ErrGapTooShort, p.Start()-cursor, cursor, p.FullName(), minWaveformDuration)
		case p.Start()-cursor >= minWaveformDuration+timeTolerance:
			if err := a.addDCSegment(plan, cursor, p.Start(), 0, "DC"); err != nil {
				return nil, err
			}
		}

		seg, err := a.implement(p)
		if err != nil {
			return nil, err
		}
		if err := plan.addSegment(seg, p.Name(), a.cfg.MaxWaveforms); err != nil {
			return nil, fmt.Errorf("pulse %s: %w", p.FullName(), err)
		}
		cursor = p.Stop()
	}

	// Hold 0V up to the sequence duration.
	if duration-cursor >= minWaveformDuration+timeTolerance {
		if err := a.addDCSegment(plan, cursor, duration, 0, "final_DC"); err != nil {
			return nil, err
		}
	}

	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: channel %s has no pulses", ErrWaveformTooShort, channel)
	}

	// The last replayed sample is the voltage held through the final delay.
	lastStep := plan.Steps[len(plan.Steps)-1]
	lastWaveform := plan.Waveforms[lastStep.WaveformIndex-1]
	lastVoltage := lastWaveform[len(lastWaveform)-1]

	// Replay starts with a hardware ramp; overwriting the first sample of
	// the first buffer with the final voltage keeps the trailing quiet
	// period at the sequence's true last value.
	if plan.initial >= 0 {
		plan.Waveforms[plan.initial][0] = lastVoltage
	}

	// Some firmware revisions refuse to arm with fewer than three steps.
	for len(plan.Steps) < 3 {
		idx, err := plan.addWaveformChecked(constant(lastVoltage, MinPoints), a.cfg.MaxWaveforms)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, SequenceStep{WaveformIndex: idx, Loops: 1, Label: "final_filler_pulse"})
	}

	return plan, nil
}

// addDCSegment bridges [tStart, tStop) with a constant buffer at the given
// amplitude.
func (a *Interface) addDCSegment(plan *ChannelPlan, tStart, tStop, amplitude float64, label string) error {
	seg, err := a.implementDC(amplitude, tStart, tStop-tStart)
	if err != nil {
		return fmt.Errorf("bridge [%.9g, %.9g) s: %w", tStart, tStop, err)
	}
	return plan.addSegment(seg, label, a.cfg.MaxWaveforms)
}

// implement synthesizes one targeted pulse.
func (a *Interface) implement(p *pulses.Pulse) (segment, error) {
	switch p.Kind() {
	case pulses.KindDC:
		seg, err := a.implementDC(p.Amplitude(), p.Start(), p.Duration())
		if err != nil {
			return segment{}, fmt.Errorf("pulse %s: %w", p.FullName(), err)
		}
		return seg, nil
	case pulses.KindSine:
		seg, err := a.implementSine(p)
		if err != nil {
			return segment{}, fmt.Errorf("pulse %s: %w", p.FullName(), err)
		}
		return seg, nil
	default:
		return segment{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedPulse, p.FullName(), p.Kind())
	}
}

// implementDC folds a constant region into one short buffer plus a loop
// count via the divisor search. When the region opens the whole timeline
// and is long enough, a separate 320-point initial buffer is split off as
// the first-sample fixup target.
func (a *Interface) implementDC(amplitude, tStart, duration float64) (segment, error) {
	n := granular(duration * a.cfg.SampleRate)
	if n < MinPoints {
		return segment{}, fmt.Errorf("%w: %d points for %.9g s at %.6g S/s",
			ErrWaveformTooShort, n, duration, a.cfg.SampleRate)
	}

	var initial Waveform
	if tStart < timeTolerance && n > 2*MinPoints {
		n -= MinPoints
		initial = constant(amplitude, MinPoints)
	}

	points, cycles, remaining, ok := findDivisor(n, a.cfg.MaxPointsDC)
	if !ok {
		return segment{}, fmt.Errorf("%w: %d points", ErrNoDivisor, n)
	}

	seg := segment{
		main:    constant(amplitude, points),
		loops:   cycles,
		initial: initial,
	}
	if remaining > 0 {
		seg.tail = constant(amplitude, remaining)
	}
	return seg, nil
}

// implementSine folds a sine pulse into a buffer holding an integer number
// of periods, nudging the frequency within the configured budget, with any
// leftover duration emitted as a phase-matched tail. Pulses spanning too few
// periods are unrolled into a single buffer instead.
func (a *Interface) implementSine(p *pulses.Pulse) (segment, error) {
	rate := a.cfg.SampleRate

	fit, ok := a.fitSine(p.Frequency(), p.Duration())
	if !ok {
		n := granular(p.Duration() * rate)
		if n < MinPoints {
			return segment{}, fmt.Errorf("%w: %d points", ErrWaveformTooShort, n)
		}
		if n > a.cfg.MaxPointsSine {
			return segment{}, fmt.Errorf("%w: unrolled sine needs %d points, limit %d",
				ErrNoDivisor, n, a.cfg.MaxPointsSine)
		}
		return segment{main: sampleSine(p, p.Frequency(), p.Start(), n, rate), loops: 1}, nil
	}

	loops := fit.repetitions
	if loops < 1 {
		loops = 1
	}

	main := sampleSine(p, fit.frequency, p.Start(), fit.points, rate)

	bufferDuration := float64(fit.points) / rate
	tailPoints := int((p.Duration() - float64(loops)*bufferDuration) * rate)
	var tail Waveform
	if tailPoints >= PointsGranularity {
		// A tail below the buffer minimum borrows whole loops from the
		// main waveform until it is long enough.
		subtract := 0
		if tailPoints < MinPoints {
			subtract = int(math.Ceil(float64(MinPoints-tailPoints) / float64(fit.points)))
		}
		if loops-subtract > 0 {
			loops -= subtract
			tailStart := p.Start() + float64(loops)*bufferDuration
			n := granular((p.Stop() - tailStart) * rate)
			if n >= MinPoints {
				tail = sampleSine(p, fit.frequency, tailStart, n, rate)
			}
		}
	}

	return segment{main: main, loops: loops, tail: tail}, nil
}

// sineFit is a periodic buffer satisfying the hardware constraints: points
// samples hold an integer number of periods at the nudged frequency.
type sineFit struct {
	points      int
	frequency   float64
	repetitions int
}

// fitSine searches for the buffer size whose nudged frequency stays within
// the relative error budget. Returns ok=false when the pulse spans too few
// periods for looping to pay off or no admissible fit exists.
func (a *Interface) fitSine(frequency, duration float64) (sineFit, bool) {
	rate := a.cfg.SampleRate
	if frequency <= 0 {
		return sineFit{}, false
	}
	if frequency*duration < a.cfg.FrequencyThreshold {
		return sineFit{}, false
	}

	best := sineFit{}
	bestErr := math.Inf(1)
	for cycles := 1; ; cycles++ {
		ideal := float64(cycles) * rate / frequency
		points := int(math.Round(ideal/PointsGranularity)) * PointsGranularity
		if points < MinPoints {
			continue
		}
		if points > a.cfg.MaxPointsSine {
			break
		}
		nudged := float64(cycles) * rate / float64(points)
		relErr := math.Abs(nudged-frequency) / frequency
		if relErr < bestErr {
			bestErr = relErr
			best = sineFit{points: points, frequency: nudged}
			if relErr == 0 {
				break
			}
		}
	}
	if bestErr > a.cfg.MaxFrequencyError {
		return sineFit{}, false
	}
	best.repetitions = int(duration * rate / float64(best.points))
	return best, true
}

// findDivisor searches for (points, cycles, remaining) with points a
// granularity multiple in [MinPoints, maxPoints], cycles bounded, and
// cycles*points+remaining == n where remaining is zero or itself a valid
// short tail. Smaller buffers are preferred since they free device memory.
func findDivisor(n, maxPoints int) (points, cycles, remaining int, ok bool) {
	for points = MinPoints; points <= maxPoints; points += PointsGranularity {
		cycles = n / points
		if cycles == 0 {
			break
		}
		if cycles > maxCycles {
			continue
		}
		remaining = n - cycles*points
		if remaining == 0 || (remaining >= MinPoints && remaining <= maxRemainingPoints) {
			return points, cycles, remaining, true
		}
		// Giving one cycle back to the tail may lift it above the minimum.
		if cycles > 1 && remaining+points >= MinPoints && remaining+points <= maxRemainingPoints {
			return points, cycles - 1, remaining + points, true
		}
	}
	return 0, 0, 0, false
}

// addSegment appends a synthesized segment's buffers and steps to the plan.
func (plan *ChannelPlan) addSegment(seg segment, label string, maxWaveforms int) error {
	if seg.initial != nil {
		// Reserve the slot now; its first sample is rewritten once the
		// final voltage of the timeline is known, so it must not be
		// deduplicated against other buffers.
		plan.Waveforms = append(plan.Waveforms, seg.initial)
		plan.initial = len(plan.Waveforms) - 1
		if len(plan.Waveforms) > maxWaveforms {
			return fmt.Errorf("%w: %d buffers, limit %d", ErrTooManyWaveforms, len(plan.Waveforms), maxWaveforms)
		}
		plan.Steps = append(plan.Steps, SequenceStep{
			WaveformIndex: plan.initial + 1,
			Loops:         1,
			Label:         label + "_pre",
		})
	}

	idx, err := plan.addWaveformChecked(seg.main, maxWaveforms)
	if err != nil {
		return err
	}
	plan.Steps = append(plan.Steps, SequenceStep{WaveformIndex: idx, Loops: seg.loops, Label: label})

	if seg.tail != nil {
		idx, err := plan.addWaveformChecked(seg.tail, maxWaveforms)
		if err != nil {
			return err
		}
		plan.Steps = append(plan.Steps, SequenceStep{WaveformIndex: idx, Loops: 1, Label: label + "_tail"})
	}
	return nil
}

// addWaveform stores a buffer, reusing an existing near-equal buffer when
// one is already loaded. Returns the 1-based waveform index.
func (plan *ChannelPlan) addWaveform(w Waveform) int {
	for i, existing := range plan.Waveforms {
		if i == plan.initial {
			continue
		}
		if waveformsClose(existing, w) {
			return i + 1
		}
	}
	plan.Waveforms = append(plan.Waveforms, w)
	return len(plan.Waveforms)
}

func (plan *ChannelPlan) addWaveformChecked(w Waveform, maxWaveforms int) (int, error) {
	idx := plan.addWaveform(w)
	if len(plan.Waveforms) > maxWaveforms {
		return 0, fmt.Errorf("%w: %d buffers, limit %d", ErrTooManyWaveforms, len(plan.Waveforms), maxWaveforms)
	}
	return idx, nil
}

// waveformsClose reports near-equality within the amplitude tolerance.
func waveformsClose(a, b Waveform) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > amplitudeTolerance {
			return false
		}
	}
	return true
}

// granular rounds a sample count down to the granularity multiple.
func granular(samples float64) int {
	return int(math.Floor(samples/PointsGranularity)) * PointsGranularity
}

// constant builds an n-point buffer at a fixed voltage.
func constant(amplitude float64, n int) Waveform {
	w := make(Waveform, n)
	for i := range w {
		w[i] = amplitude
	}
	return w
}

// sampleSine evaluates n samples of the pulse's tone from tStart at the
// nudged frequency, keeping the pulse's own amplitude, offset, and phase so
// buffer boundaries stay phase continuous.
func sampleSine(p *pulses.Pulse, frequency, tStart float64, n int, rate float64) Waveform {
	w := make(Waveform, n)
	for i := range w {
		t := tStart + float64(i)/rate
		w[i] = p.Offset() + p.Amplitude()*math.Sin(2*math.Pi*frequency*(t-p.Start())+p.Phase())
	}
	return w
}
