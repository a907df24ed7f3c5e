// Package wiring describes the physical signal routing of a measurement
// setup: instrument channels and the declared connections between them.
//
// A Connection is a directed link from an output channel on one instrument
// to an input channel on another. Connections are declared once by the
// operator before compilation and are immutable afterwards. Each connection
// carries three flags consumed by the layout engine:
//
//   - trigger: the output channel triggers the input instrument
//   - acquire: the connection feeds the acquisition instrument
//   - default: pulses targeted at the output instrument use this connection
//     unless they specify otherwise
//
// A CombinedConnection groups several single connections that feed one
// logical signal, with a per-input scaling factor used to mix contributions.
package wiring
