// Package state reconciles incremental account updates into normalized
// latest-value tables for balances, positions, and orders.
//
// Tables are keyed by asset, symbol, and order id respectively; an update for
// an existing key fully replaces the prior value. Positions whose size reaches
// zero and orders entering a terminal status are removed, never stored.
package state
