package db

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy         bool
	Driver          Driver
	Latency         time.Duration
	OpenConnections int
	InUse           int
	Idle            int
	Error           error
}

// Ping checks if the database is reachable.
func Ping(ctx context.Context, d *DB) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is nil")
	}
	return d.PingContext(ctx)
}

// Check performs a health check and returns detailed status.
func Check(ctx context.Context, d *DB) *HealthStatus {
	status := &HealthStatus{}

	if d == nil || d.DB == nil {
		status.Error = fmt.Errorf("database is nil")
		return status
	}
	status.Driver = d.driver

	start := time.Now()
	err := d.PingContext(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		return status
	}

	stats := d.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle

	return status
}
