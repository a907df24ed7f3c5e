// Package persistence provides compile plan persistence.
//
// This package handles the JSON serialization of a compile run's output
// (targeted per-instrument sequences, AWG waveform programs, pulse blaster
// instruction lists, digitizer trigger and acquisition settings) so a plan
// can be inspected or reloaded after the process that compiled it exits.
package persistence
