// Package instrument defines the contract between the layout engine and
// per-device backends, plus a shared Base type backends embed.
//
// An Interface owns a targeted pulse sequence, declares which pulse kinds
// it can realize through registered implementations, and compiles its
// sequence into device instructions during Setup. Setup returns deferred
// post-start actions instead of touching other instruments directly; the
// layout runs them after every interface has started, with the root clock
// started last.
package instrument
