// Package api provides a client for the upstream exchange REST API.
//
// The client retries transient failures with exponential backoff and jitter,
// and converts wire payloads into the gateway's model types. It is consumed
// by the snapshot cache fetch path and the per-symbol bypass path; streaming
// data never flows through here.
package api
