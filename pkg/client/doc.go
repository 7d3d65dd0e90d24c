// Package client is a typed HTTP client for the orchestrator API, used by
// the CLI and by programmatic consumers.
package client
