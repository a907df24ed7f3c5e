// Package layout implements the targeting engine: it takes a whole-system
// pulse sequence, decides which instrument interface realizes each pulse,
// binds pulses to declared connections, and inserts the chain of trigger
// pulses needed to synchronize every instrument to the root trigger
// instrument.
//
// A Layout is built once per experiment rack: register interfaces, declare
// connections between their channels, designate the trigger and acquisition
// instruments. Target distributes a sequence across the interfaces, Setup
// compiles each partition into device instructions, and Start/Stop control
// the instruments with the root clock started last.
package layout
