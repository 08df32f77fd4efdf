package api

import (
	"context"
	"fmt"
	"time"

	"github.com/avelar/feedgate/internal/model"
)

// tickersResponse from GET /tickers
type tickersResponse struct {
	Success bool        `json:"success"`
	Result  []apiTicker `json:"result"`
}

// singleTickerResponse from GET /tickers/{symbol}
type singleTickerResponse struct {
	Success bool      `json:"success"`
	Result  apiTicker `json:"result"`
}

// apiTicker is the wire shape of one market snapshot.
type apiTicker struct {
	Name      string  `json:"name"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Volume24h float64 `json:"volume_usd_24h"`
}

// toModel converts a wire ticker, stamping the local accept time.
func (t apiTicker) toModel(receivedAt time.Time) model.Ticker {
	return model.Ticker{
		Symbol:     t.Name,
		Bid:        t.Bid,
		Ask:        t.Ask,
		Last:       t.Last,
		Volume:     t.Volume24h,
		ReceivedAt: receivedAt,
	}
}

// GetTickers fetches snapshots for all markets.
func (c *Client) GetTickers(ctx context.Context) ([]model.Ticker, error) {
	var resp tickersResponse
	if err := c.get(ctx, "/tickers", nil, &resp); err != nil {
		return nil, fmt.Errorf("get tickers: %w", err)
	}

	receivedAt := time.Now()
	tickers := make([]model.Ticker, 0, len(resp.Result))
	for _, t := range resp.Result {
		tickers = append(tickers, t.toModel(receivedAt))
	}

	return tickers, nil
}

// GetTicker fetches the snapshot for a single symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	var resp singleTickerResponse
	if err := c.get(ctx, "/tickers/"+symbol, nil, &resp); err != nil {
		return model.Ticker{}, fmt.Errorf("get ticker %s: %w", symbol, err)
	}

	return resp.Result.toModel(time.Now()), nil
}
