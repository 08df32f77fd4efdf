// Package auth provides upstream API authentication using HMAC-SHA256
// signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptySecret is returned when signing is attempted without a secret.
// Callers treat it as fatal for the current auth attempt only, not for the
// process.
var ErrEmptySecret = errors.New("api secret is empty")

// Sign computes the lowercase hex HMAC-SHA256 digest of message under secret.
func Sign(secret, message string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Credentials holds the API key pair for authenticating with the upstream.
type Credentials struct {
	APIKey    string // API key ID, sent in the auth payload
	APISecret string // HMAC signing secret, never sent on the wire
}

// Configured reports whether both halves of the key pair are present.
// An unconfigured pair is not an error: the gateway runs in
// public-data-only mode.
func (c *Credentials) Configured() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// StreamPath is the path used for streaming handshake signatures.
const StreamPath = "/live"

// SignRequest creates a signature over method + timestamp + path + body.
func (c *Credentials) SignRequest(timestampMs int64, method, path, body string) (string, error) {
	message := fmt.Sprintf("%s%d%s%s", method, timestampMs, path, body)
	return Sign(c.APISecret, message)
}

// SignStream creates the signature for the streaming auth handshake:
// "GET" + timestamp + "/live" + "".
func (c *Credentials) SignStream(timestampMs int64) (string, error) {
	return c.SignRequest(timestampMs, "GET", StreamPath, "")
}
