//go:build integration

// Package integration provides env-gated backend fixtures for integration
// tests. Each helper connects to a backend named by an environment variable
// and fails the test immediately when the backend is unreachable, so a
// misconfigured CI job surfaces as a loud failure rather than silent skips.
package integration

import "os"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
