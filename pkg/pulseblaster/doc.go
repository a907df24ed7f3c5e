// Package pulseblaster implements the root trigger instrument: a digital
// pulse generator that compiles trigger and marker pulses into a flat
// instruction list of (channel flags, opcode, tick count) tuples clocked at
// the board's core clock.
//
// As the system's root clock it honors the sequence's final delay before
// branching back, so every downstream instrument sees the full quiet period
// between repetitions.
package pulseblaster
