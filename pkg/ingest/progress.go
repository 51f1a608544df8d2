package ingest

import (
	"sync"
	"time"

	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// Progress tracks a running sync for status reporting.
type Progress struct {
	mu sync.RWMutex

	runID    string
	platform meeting.Platform
	status   string
	current  string

	seen    int
	saved   int
	skipped int
	failed  int

	startedAt time.Time
	updatedAt time.Time
	now       func() time.Time

	onUpdate func(ProgressSnapshot)
}

// NewProgress returns a tracker for runID. onUpdate, when set, receives a
// snapshot after every change, synchronously.
func NewProgress(runID string, now func() time.Time, onUpdate func(ProgressSnapshot)) *Progress {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Progress{
		runID:     runID,
		status:    "pending",
		startedAt: t,
		updatedAt: t,
		now:       now,
		onUpdate:  onUpdate,
	}
}

// StartPlatform marks p as the platform being synced.
func (p *Progress) StartPlatform(platform meeting.Platform) {
	p.update(func() {
		p.status = "running"
		p.platform = platform
		p.current = ""
	})
}

// SetCurrent records the meeting being processed.
func (p *Progress) SetCurrent(title string) {
	p.update(func() {
		p.current = title
		p.seen++
	})
}

// RecordSaved counts a written note.
func (p *Progress) RecordSaved() {
	p.update(func() { p.saved++ })
}

// RecordSkipped counts a meeting that needed no write.
func (p *Progress) RecordSkipped() {
	p.update(func() { p.skipped++ })
}

// RecordFailed counts a failed meeting.
func (p *Progress) RecordFailed() {
	p.update(func() { p.failed++ })
}

// Complete marks the run finished.
func (p *Progress) Complete(success bool) {
	p.update(func() {
		p.current = ""
		if success {
			p.status = "completed"
		} else {
			p.status = "failed"
		}
	})
}

func (p *Progress) update(fn func()) {
	p.mu.Lock()
	fn()
	p.updatedAt = p.now()
	snap := p.snapshotLocked()
	cb := p.onUpdate
	p.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	return ProgressSnapshot{
		RunID:          p.runID,
		Platform:       p.platform,
		Status:         p.status,
		Current:        p.current,
		Seen:           p.seen,
		Saved:          p.saved,
		Skipped:        p.skipped,
		Failed:         p.failed,
		StartedAt:      p.startedAt,
		UpdatedAt:      p.updatedAt,
		ElapsedSeconds: p.updatedAt.Sub(p.startedAt).Seconds(),
	}
}

// ProgressSnapshot is an immutable view of a Progress.
type ProgressSnapshot struct {
	RunID          string           `json:"run_id"`
	Platform       meeting.Platform `json:"platform,omitempty"`
	Status         string           `json:"status"`
	Current        string           `json:"current,omitempty"`
	Seen           int              `json:"seen"`
	Saved          int              `json:"saved"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
	StartedAt      time.Time        `json:"started_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
}

// IsSuccess reports whether the run completed with no failed meetings.
func (s ProgressSnapshot) IsSuccess() bool {
	return s.Status == "completed" && s.Failed == 0
}
