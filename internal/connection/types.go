package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/avelar/feedgate/internal/auth"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrStaleConnection     = errors.New("connection stale (no ping)")
	ErrConnectInProgress   = errors.New("connect already in progress")
	ErrNoUpstream          = errors.New("no upstream connection")
	ErrUpstreamUnavailable = errors.New("upstream unavailable: reconnect attempts exhausted")
)

// State is the connection lifecycle state. Exactly one connection exists per
// upstream target, so the manager holds exactly one State.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Frame is the envelope of every message on the upstream stream.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is the payload of the outbound auth control frame.
type AuthPayload struct {
	APIKey    string `json:"api_key"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// AuthResult is the payload of the inbound auth response frame.
type AuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Channel names one upstream channel with an optional symbol filter.
type Channel struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols,omitempty"`
}

// SubscribePayload is the payload of subscribe/unsubscribe control frames.
type SubscribePayload struct {
	Channels []Channel `json:"channels"`
}

// Subscription is a downstream subscription intent: a channel plus the
// symbols it covers. Subscriptions are idempotent upstream.
type Subscription struct {
	Channel string
	Symbols []string
}

// TimestampedMessage wraps raw frame bytes with the local receive time.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Dispatch receives every well-formed inbound frame, in arrival order,
// together with its raw bytes.
type Dispatch func(frame Frame, raw TimestampedMessage)

// ClientConfig configures a streaming client.
type ClientConfig struct {
	URL          string        // Streaming URL (e.g. wss://api.meridian.exchange/live)
	PingInterval time.Duration // Keepalive ping cadence
	PingTimeout  time.Duration // Max silence before the connection is considered stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel buffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	WSURL       string            // Streaming URL
	Credentials *auth.Credentials // nil or empty = public-data-only mode

	ConnectTimeout       time.Duration // Abort attempts that do not reach Open in time
	ReconnectBaseDelay   time.Duration // Delay before attempt N is base × N
	MaxReconnectAttempts int           // Consecutive-failure ceiling

	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:       15 * time.Second,
		ReconnectBaseDelay:   5 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         15 * time.Second,
		PingTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
	}
}

// ManagerStats is a point-in-time view of the manager.
type ManagerStats struct {
	State                State
	Authenticated        bool
	ConsecutiveFailures  int
	DesiredSubscriptions int
}
