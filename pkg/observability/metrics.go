// Package observability provides metrics and tracing for sync runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for meetings seen during a platform pass.
const (
	OutcomeSaved         = "saved"
	OutcomeAlreadySynced = "already_synced"
	OutcomeNoSummary     = "no_summary"
	OutcomeBeforeWindow  = "before_window"
	OutcomeDryRun        = "dry_run"
	OutcomeFailed        = "failed"
)

// Platform pass status labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SyncMetrics holds the Prometheus metrics for sync runs.
type SyncMetrics struct {
	MeetingsTotal       *prometheus.CounterVec
	PlatformRunsTotal   *prometheus.CounterVec
	PlatformSeconds     *prometheus.HistogramVec
	PlatformErrorsTotal *prometheus.CounterVec
	Watermark           *prometheus.GaugeVec

	LastRunSuccess   prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewSyncMetrics creates sync metrics registered with reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)

	return &SyncMetrics{
		MeetingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetsync_meetings_total",
				Help: "Meetings seen per platform by outcome",
			},
			[]string{"platform", "outcome"},
		),
		PlatformRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetsync_platform_runs_total",
				Help: "Platform passes by status",
			},
			[]string{"platform", "status"},
		),
		PlatformSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetsync_platform_duration_seconds",
				Help:    "Duration of a platform pass",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"platform"},
		),
		PlatformErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetsync_platform_errors_total",
				Help: "Platform-level failures by error code",
			},
			[]string{"platform", "code"},
		),
		Watermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetsync_watermark_timestamp_seconds",
				Help: "Unix time of the last successful sync per platform",
			},
			[]string{"platform"},
		),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsync_last_run_success",
			Help: "1 if the last run completed every platform, 0 otherwise",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsync_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// RecordMeeting counts one meeting outcome.
func (m *SyncMetrics) RecordMeeting(platform, outcome string) {
	if m == nil {
		return
	}
	m.MeetingsTotal.WithLabelValues(platform, outcome).Inc()
}

// RecordPlatform records a finished platform pass. code is empty on success.
func (m *SyncMetrics) RecordPlatform(platform, code string, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if code != "" {
		status = StatusFailed
		m.PlatformErrorsTotal.WithLabelValues(platform, code).Inc()
	}
	m.PlatformRunsTotal.WithLabelValues(platform, status).Inc()
	m.PlatformSeconds.WithLabelValues(platform).Observe(d.Seconds())
}

// SetWatermark exports a platform's watermark.
func (m *SyncMetrics) SetWatermark(platform string, at time.Time) {
	if m == nil || at.IsZero() {
		return
	}
	m.Watermark.WithLabelValues(platform).Set(float64(at.Unix()))
}

// RecordRun records the end of a run.
func (m *SyncMetrics) RecordRun(success bool, finished time.Time) {
	if m == nil {
		return
	}
	v := 0.0
	if success {
		v = 1
	}
	m.LastRunSuccess.Set(v)
	m.LastRunTimestamp.Set(float64(finished.Unix()))
}
