// Package veilcall implements the client-side voice engine for encrypted
// pairwise voice rooms: per-peer transport negotiation over a signaling
// relay, session-key exchange on top of the opened data channel, and
// encrypted audio frame fan-out.
package veilcall
