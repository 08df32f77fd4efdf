// Package connection owns the single outbound streaming connection to the
// upstream exchange.
//
// The Manager drives an explicit state machine: Disconnected → Connecting →
// Authenticating → Open, with every terminal transition returning to
// Disconnected. Lost connections are re-established with a linearly growing
// delay up to a fixed attempt ceiling; once the ceiling is reached the
// manager stops and surfaces a terminal condition to its owner. The desired
// subscription set is tracked in the manager and replayed in full after every
// successful reconnect, because the upstream does not preserve subscriptions
// across connections.
package connection
