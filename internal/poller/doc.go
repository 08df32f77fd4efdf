// Package poller keeps the ticker cache warm. It refreshes the all-tickers
// snapshot on a fixed interval so dashboard polls are usually served from a
// live cache entry instead of waiting on the upstream REST API.
package poller
