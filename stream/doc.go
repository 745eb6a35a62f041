// Package stream turns engine node results into the ordered event stream of a
// turn and moves that stream over the wire.
//
// Publisher maps each NodeResult to at most one event in arrival order and
// always finishes with exactly one complete event. Encoder writes events in
// the server-sent events framing; Decoder is its incremental inverse and
// tolerates arbitrary chunk boundaries.
package stream
