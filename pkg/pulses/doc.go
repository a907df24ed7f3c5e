// Package pulses implements the timed-pulse data model: individual pulses,
// the validated PulseSequence container, and the capability types
// (Requirement, Implementation) instrument backends use to declare which
// pulses they can realize.
//
// # Pulses
//
// A Pulse is an abstract timed instruction for one logical channel: a
// constant level, a sine tone, a trigger edge, a marker, a frequency ramp,
// or a measurement-only window. Timing follows one invariant everywhere:
//
//	t_stop == t_start + duration
//
// Exactly one of duration or t_stop is given at construction; the other is
// derived and kept consistent through any later mutation. Pulses use value
// semantics: adding a pulse to a sequence stores a copy, so sequence
// operations never mutate the caller's pulse.
//
// # Sequences
//
// A Sequence keeps its pulses sorted by start time and maintains derived
// state (enabled/disabled views, distinct start/stop instants, duration)
// synchronously on every mutation. A pulse added without a start time is
// chained to the latest stop time on the same connection; the chain is live,
// so moving an earlier pulse shifts everything chained after it.
//
// Sequences reject inconsistent mutations: depending on configuration,
// overlapping pulses on one connection, untargeted pulses, or targeted
// pulses fail at add time and leave the sequence unchanged. The targeting
// engine uses the unchecked QuickAdd fast path and defers validation to a
// single FinishQuickAdd call.
package pulses
