// Package awg implements the arbitrary-waveform-generator backend: it
// compiles a channel's targeted pulse timeline into a short list of
// hardware-resident waveform buffers replayed with integer loop counts.
//
// The instrument imposes hard limits the synthesizer must respect: a buffer
// holds at least 320 samples and a multiple of 32, only a bounded number of
// distinct buffers fit in memory, and replay begins with a ramp quirk that
// the first sample of the first buffer compensates for. Long constant or
// periodic regions are folded into one short buffer plus a loop count by an
// integer divisor search; sine content additionally keeps an integer number
// of periods per buffer, nudging the frequency within a small budget so
// looping never breaks phase.
package awg
