// Package hub fans inbound upstream frames out to downstream subscribers and
// relays their subscription intents back to the single upstream connection.
//
// Frames are forwarded verbatim and in arrival order. The hub never buffers
// for absent or slow subscribers: a handle that is not open is skipped, and a
// relay attempted without an open upstream connection fails immediately.
// Account frames (margins, positions, orders) are additionally folded into
// the state reconciler before broadcast.
package hub
