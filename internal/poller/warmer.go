package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avelar/feedgate/internal/cache"
	"github.com/avelar/feedgate/internal/model"
)

// Config holds warmer configuration.
type Config struct {
	Interval time.Duration // Refresh cadence (default: 5s)
	Key      string        // Cache key to keep warm
	Timeout  time.Duration // Per-refresh timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Key:      "tickers",
		Timeout:  10 * time.Second,
	}
}

// Warmer periodically refreshes one cache key from the upstream REST API.
// Failed refreshes leave the existing entry untouched, so a flapping
// upstream degrades to stale serves instead of evictions.
type Warmer struct {
	cfg    Config
	cache  *cache.Cache[[]model.Ticker]
	fetch  cache.FetchFunc[[]model.Ticker]
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a warmer.
func New(cfg Config, c *cache.Cache[[]model.Ticker], fetch cache.FetchFunc[[]model.Ticker], logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Warmer{
		cfg:    cfg,
		cache:  c,
		fetch:  fetch,
		logger: logger,
	}
}

// Start begins the refresh loop.
func (w *Warmer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("cache warmer started", "key", w.cfg.Key, "interval", w.cfg.Interval)
	return nil
}

// Stop shuts the warmer down, waiting for an in-flight refresh.
func (w *Warmer) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("cache warmer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Warmer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	w.refresh()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *Warmer) refresh() {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	if err := w.cache.Refresh(ctx, w.cfg.Key, w.fetch); err != nil {
		w.logger.Warn("warm refresh failed", "key", w.cfg.Key, "error", err)
	}
}
