package config

import "time"

// Known upstream environments.
const (
	EnvProduction = "production"
	EnvTest       = "test"
)

// Default values for optional configuration fields.
const (
	DefaultProductionWSURL   = "wss://api.meridian.exchange/live"
	DefaultProductionRestURL = "https://api.meridian.exchange/v1"
	DefaultTestWSURL         = "wss://api.staging.meridian.exchange/live"
	DefaultTestRestURL       = "https://api.staging.meridian.exchange/v1"

	DefaultAPITimeout = 30 * time.Second
	DefaultMaxRetries = 3

	DefaultConnectTimeout       = 15 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1000

	DefaultTickerTTL    = 10 * time.Second
	DefaultWarmInterval = 5 * time.Second

	DefaultServerPort       = 8080
	DefaultSendBuffer       = 256
	DefaultFanoutWriteLimit = 5 * time.Second

	DefaultMetricsPath = "/metrics"
)

func (c *GatewayConfig) applyDefaults() {
	// Upstream defaults
	if c.Upstream.Environment == "" {
		c.Upstream.Environment = EnvProduction
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultAPITimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Cache defaults
	if c.Cache.TickerTTL == 0 {
		c.Cache.TickerTTL = DefaultTickerTTL
	}
	if c.Cache.WarmInterval == 0 {
		c.Cache.WarmInterval = DefaultWarmInterval
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultFanoutWriteLimit
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
