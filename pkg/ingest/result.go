package ingest

import (
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// ItemError records a meeting that failed without aborting its platform.
type ItemError struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Code       string `json:"code" yaml:"code"`
	Error      string `json:"error" yaml:"error"`
}

// PlatformResult summarizes one platform pass.
type PlatformResult struct {
	Platform      meeting.Platform `json:"platform" yaml:"platform"`
	Since         time.Time        `json:"since,omitempty" yaml:"since,omitempty"`
	Fetched       int              `json:"fetched" yaml:"fetched"`
	Saved         int              `json:"saved" yaml:"saved"`
	AlreadySynced int              `json:"already_synced" yaml:"already_synced"`
	NoSummary     int              `json:"no_summary" yaml:"no_summary"`
	BeforeWindow  int              `json:"before_window" yaml:"before_window"`
	Failed        int              `json:"failed" yaml:"failed"`
	DryRun        int              `json:"dry_run" yaml:"dry_run"`
	Limited       bool             `json:"limited,omitempty" yaml:"limited,omitempty"`
	// WatermarkAdvanced is set when the pass moved the platform's watermark.
	WatermarkAdvanced bool          `json:"watermark_advanced" yaml:"watermark_advanced"`
	Files             []string      `json:"files,omitempty" yaml:"files,omitempty"`
	Items             []ItemError   `json:"item_errors,omitempty" yaml:"item_errors,omitempty"`
	Duration          time.Duration `json:"duration" yaml:"duration"`

	// Err is the platform-level failure, nil when the pass completed.
	Err        error  `json:"-" yaml:"-"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// OK reports whether the pass completed without a platform-level failure.
func (r *PlatformResult) OK() bool {
	return r.Err == nil
}

func (r *PlatformResult) fail(err error) {
	r.Err = err
	code := syncerr.CodeOf(err)
	r.Error = err.Error()
	r.ErrorCode = string(code)
	r.Suggestion = syncerr.GetSuggestedAction(code)
}

func (r *PlatformResult) itemFailed(m *meeting.Meeting, err error) {
	r.Failed++
	r.Items = append(r.Items, ItemError{
		ExternalID: m.ExternalID,
		Title:      m.Title,
		Code:       string(syncerr.CodeOf(err)),
		Error:      err.Error(),
	})
}

// RunResult aggregates every platform pass of one run.
type RunResult struct {
	RunID      string            `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time         `json:"finished_at" yaml:"finished_at"`
	DryRun     bool              `json:"dry_run" yaml:"dry_run"`
	Platforms  []*PlatformResult `json:"platforms" yaml:"platforms"`
}

// Success is true only when every platform completed.
func (r *RunResult) Success() bool {
	for _, p := range r.Platforms {
		if !p.OK() {
			return false
		}
	}
	return true
}

// Saved returns the number of notes written across platforms.
func (r *RunResult) Saved() int {
	n := 0
	for _, p := range r.Platforms {
		n += p.Saved
	}
	return n
}

// Failed returns the platforms that did not complete.
func (r *RunResult) Failed() []*PlatformResult {
	var out []*PlatformResult
	for _, p := range r.Platforms {
		if !p.OK() {
			out = append(out, p)
		}
	}
	return out
}
