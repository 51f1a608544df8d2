package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector exposes database/sql pool statistics as Prometheus metrics.
// Stats are read from the handle on each collection.
type StatsCollector struct {
	db *DB

	openConns *prometheus.Desc
	inUse     *prometheus.Desc
	idle      *prometheus.Desc
	waitCount *prometheus.Desc
}

// NewStatsCollector creates a new collector for the given handle.
func NewStatsCollector(d *DB, namespace string) *StatsCollector {
	constLabels := prometheus.Labels{"driver": string(d.driver)}

	return &StatsCollector{
		db: d,
		openConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state_db", "open_connections"),
			"Number of established connections to the state database",
			nil, constLabels,
		),
		inUse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state_db", "in_use_connections"),
			"Number of state database connections currently in use",
			nil, constLabels,
		),
		idle: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state_db", "idle_connections"),
			"Number of idle state database connections",
			nil, constLabels,
		),
		waitCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state_db", "wait_count_total"),
			"Total number of connections waited for",
			nil, constLabels,
		),
	}
}

// Describe sends all metric descriptors to the channel.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConns
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitCount
}

// Collect gathers current pool statistics and sends them as metrics.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.db == nil || c.db.DB == nil {
		return
	}
	stats := c.db.Stats()

	ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(stats.OpenConnections))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle))
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount))
}

// RegisterStatsCollector creates and registers a stats collector with reg.
// An already registered collector is not an error.
func RegisterStatsCollector(d *DB, namespace string, reg prometheus.Registerer) (*StatsCollector, error) {
	collector := NewStatsCollector(d, namespace)
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}
	return collector, nil
}
