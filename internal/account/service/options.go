package service

import (
	"log/slog"

	accountmetrics "relaypool/internal/account/metrics"
)

// serviceConfig holds optional dependencies for services.
type serviceConfig struct {
	logger      *slog.Logger
	metrics     *accountmetrics.Metrics
	invalidator PoolInvalidator
}

// Option configures a service.
type Option func(c *serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithMetrics(m *accountmetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

func WithInvalidator(invalidator PoolInvalidator) Option {
	return func(c *serviceConfig) {
		c.invalidator = invalidator
	}
}
