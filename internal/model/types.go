package model

import "time"

// Order lifecycle states as reported by the upstream feed.
const (
	OrderStatusNew       = "new"
	OrderStatusOpen      = "open"
	OrderStatusCancelled = "cancelled"
	OrderStatusClosed    = "closed"
)

// Ticker is a point-in-time market snapshot for one symbol.
type Ticker struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume_24h"`

	// ReceivedAt is the local accept time, not the upstream event time.
	ReceivedAt time.Time `json:"received_at"`
}

// Balance is the latest margin balance for one asset.
type Balance struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`

	ReceivedAt time.Time `json:"received_at"`
}

// Position is the latest open position for one symbol.
type Position struct {
	Symbol     string  `json:"symbol"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`

	ReceivedAt time.Time `json:"received_at"`
}

// Order is the latest state of one working order.
type Order struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Filled float64 `json:"filled_size"`
	Status string  `json:"status"`

	ReceivedAt time.Time `json:"received_at"`
}

// Terminal reports whether the order has left the working set. Terminal
// orders are removed from the reconciled table, never stored.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusCancelled || o.Status == OrderStatusClosed
}
