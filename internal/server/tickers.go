package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avelar/feedgate/internal/metrics"
	"github.com/avelar/feedgate/internal/model"
)

const tickerCacheKey = "tickers"

// tickersReply is the REST ticker response envelope. Cached and Stale
// describe which tier served the data; Fallback marks the static last-resort
// records.
type tickersReply struct {
	Success  bool           `json:"success"`
	Result   []model.Ticker `json:"result"`
	Cached   bool           `json:"cached"`
	Stale    bool           `json:"stale,omitempty"`
	Fallback bool           `json:"fallback,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// fallbackTickers are served when the upstream is down and the cache is
// empty, so the endpoint always answers with a body.
func fallbackTickers() []model.Ticker {
	now := time.Now()
	return []model.Ticker{
		{Symbol: "BTCUSD", Bid: 0, Ask: 0, Last: 0, Volume: 0, ReceivedAt: now},
		{Symbol: "ETHUSD", Bid: 0, Ask: 0, Last: 0, Volume: 0, ReceivedAt: now},
	}
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(s.logger, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if v := q.Get("symbols"); v != "" {
		s.serveSymbols(w, r, strings.Split(v, ","), limit)
		return
	}

	res, err := s.cache.Get(r.Context(), tickerCacheKey, s.tickerTTL, s.source.GetTickers)
	switch {
	case err != nil:
		// Nothing cached and the fetch failed: static records, error status.
		metrics.UpstreamFetchErrors.Inc()
		metrics.TickerServes.WithLabelValues(metrics.TierFallback).Inc()
		s.logger.Error("ticker fetch failed with empty cache", "error", err)
		writeJSON(s.logger, w, http.StatusInternalServerError, tickersReply{
			Success:  false,
			Result:   clip(fallbackTickers(), limit),
			Fallback: true,
			Error:    "upstream unavailable",
		})
	case res.Stale:
		metrics.UpstreamFetchErrors.Inc()
		metrics.TickerServes.WithLabelValues(metrics.TierStale).Inc()
		s.logger.Warn("serving stale tickers", "captured_at", res.CapturedAt, "error", res.Err)
		writeJSON(s.logger, w, http.StatusOK, tickersReply{
			Success: true,
			Result:  clip(res.Value, limit),
			Cached:  true,
			Stale:   true,
		})
	default:
		tier := metrics.TierFresh
		if res.Cached {
			tier = metrics.TierCached
		}
		metrics.TickerServes.WithLabelValues(tier).Inc()
		writeJSON(s.logger, w, http.StatusOK, tickersReply{
			Success: true,
			Result:  clip(res.Value, limit),
			Cached:  res.Cached,
		})
	}
}

// serveSymbols fetches the named symbols directly, bypassing the cache.
// Symbols that fail are skipped; the response succeeds if any survive.
func (s *Server) serveSymbols(w http.ResponseWriter, r *http.Request, symbols []string, limit int) {
	result := make([]model.Ticker, 0, len(symbols))
	var lastErr error

	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		ticker, err := s.source.GetTicker(r.Context(), symbol)
		if err != nil {
			metrics.UpstreamFetchErrors.Inc()
			s.logger.Warn("symbol fetch failed", "symbol", symbol, "error", err)
			lastErr = err
			continue
		}
		result = append(result, ticker)
	}

	if len(result) == 0 {
		msg := "no symbols requested"
		status := http.StatusBadRequest
		if lastErr != nil {
			msg = "upstream unavailable"
			status = http.StatusBadGateway
		}
		writeError(s.logger, w, status, msg)
		return
	}

	metrics.TickerServes.WithLabelValues(metrics.TierFresh).Inc()
	writeJSON(s.logger, w, http.StatusOK, tickersReply{
		Success: true,
		Result:  clip(result, limit),
	})
}

func clip(tickers []model.Ticker, limit int) []model.Ticker {
	if limit > 0 && len(tickers) > limit {
		return tickers[:limit]
	}
	return tickers
}
