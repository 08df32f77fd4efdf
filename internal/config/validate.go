package config

import "fmt"

// Validate checks the configuration for missing or inconsistent fields.
// It assumes defaults have already been applied.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id is required")
	}

	if c.Upstream.Environment != EnvProduction && c.Upstream.Environment != EnvTest {
		return fmt.Errorf("upstream.environment must be %q or %q, got %q",
			EnvProduction, EnvTest, c.Upstream.Environment)
	}

	// One half of a key pair is a configuration mistake, not public mode.
	if (c.Upstream.APIKey == "") != (c.Upstream.APISecret == "") {
		return fmt.Errorf("upstream.api_key and upstream.api_secret must be set together")
	}

	if c.Connection.ConnectTimeout <= 0 {
		return fmt.Errorf("connection.connect_timeout must be positive")
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("connection.reconnect_base_delay must be positive")
	}
	if c.Connection.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connection.max_reconnect_attempts must be positive")
	}

	if c.Cache.TickerTTL <= 0 {
		return fmt.Errorf("cache.ticker_ttl must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}
