// Package model defines the normalized value records shared between the
// gateway's components: tickers from the market data path and balances,
// positions, and orders from the account data path.
package model
