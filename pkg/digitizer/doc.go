// Package digitizer implements the acquisition backend: it receives the
// acquire-flagged pulses of a targeted sequence, derives the per-pulse trace
// shapes for the configured sample rate and record count, and configures its
// hardware trigger from the transition voltage at the first acquisition
// instant.
package digitizer
