// Package log provides structured event logging for the compilation pipeline.
//
// Events are captured as a sequence compiles through targeting, instrument
// setup, and start/stop, and are encoded as CBOR with integer keys for
// compact trace files. Applications implement the Logger interface (or use
// FileLogger, SlogAdapter, MultiLogger) to receive events; NoopLogger
// disables logging entirely.
//
// Trace files written by FileLogger can be read back with Reader, optionally
// filtered by compile run, stage, instrument, or time range.
package log
