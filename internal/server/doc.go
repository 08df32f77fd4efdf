// Package server exposes the gateway's downstream surface: the REST ticker
// endpoint backed by the polling cache, the streaming endpoint that attaches
// subscribers to the fanout hub, and the health, debug, and metrics
// endpoints.
package server
