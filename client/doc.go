// Package client is the Go REST producer client for farmd. It wraps the
// /v1/submit and /v1/status endpoints with retries on connection failures
// and carries correlation identifiers from context into request headers.
package client
