package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Connection ConnectionConfig `yaml:"connection"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// UpstreamConfig holds exchange endpoint and credential settings.
type UpstreamConfig struct {
	Environment string `yaml:"environment"` // "production" or "test"

	// Explicit URLs override the environment-selected defaults.
	WSURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`

	// Credentials. Both empty is valid (public-data-only mode); malformed
	// values are only detected at the protocol level.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ResolveWSURL returns the streaming endpoint for the selected environment.
func (u UpstreamConfig) ResolveWSURL() string {
	if u.WSURL != "" {
		return u.WSURL
	}
	if u.Environment == EnvTest {
		return DefaultTestWSURL
	}
	return DefaultProductionWSURL
}

// ResolveRestURL returns the REST endpoint for the selected environment.
func (u UpstreamConfig) ResolveRestURL() string {
	if u.RestURL != "" {
		return u.RestURL
	}
	if u.Environment == EnvTest {
		return DefaultTestRestURL
	}
	return DefaultProductionRestURL
}

// ConnectionConfig holds upstream connection manager settings.
type ConnectionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// CacheConfig holds snapshot cache settings.
type CacheConfig struct {
	TickerTTL time.Duration `yaml:"ticker_ttl"`

	// WarmTickers enables the background warmer that refreshes the
	// all-tickers key ahead of dashboard polls.
	WarmTickers  bool          `yaml:"warm_tickers"`
	WarmInterval time.Duration `yaml:"warm_interval"`
}

// ServerConfig holds the exposed HTTP/WebSocket server settings.
type ServerConfig struct {
	Port int `yaml:"port"`

	// SendBuffer is the per-subscriber outbound frame buffer.
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}
