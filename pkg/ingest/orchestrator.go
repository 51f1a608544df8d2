// Package ingest drives platform sources into the vault. Platforms run one
// after another; a failing platform is recorded and the rest still run.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/observability"
	"github.com/otherjamesbrown/meetsync/pkg/sources"
	"github.com/otherjamesbrown/meetsync/pkg/vault"
)

// StateStore is the part of the state ledger the orchestrator needs.
type StateStore interface {
	IsDownloaded(ctx context.Context, externalID string, p meeting.Platform) (bool, error)
	Record(ctx context.Context, m *meeting.Meeting, filePath string) (bool, error)
	Watermark(ctx context.Context, p meeting.Platform) (time.Time, bool, error)
	SetWatermark(ctx context.Context, p meeting.Platform, at time.Time) error
}

// LegacyLookup is implemented by stores that can match a meeting recorded
// under an id older tooling shared across a meeting series.
type LegacyLookup interface {
	IsDownloadedAt(ctx context.Context, externalID string, p meeting.Platform, at time.Time) (bool, error)
}

// NoteWriter stores a rendered note and returns its path. Remove deletes a
// note written in the same pass whose ledger entry could not be recorded.
type NoteWriter interface {
	Write(filename, content string) (string, error)
	Remove(path string) error
}

// Options tune a run.
type Options struct {
	// DryRun logs what would be saved and writes nothing, watermarks included.
	DryRun bool
	// Since narrows the window when it is later than the stored watermark.
	Since time.Time
	// Limit stops a platform after this many saved meetings. Zero is unlimited.
	Limit int
	// Lookbacks is the window used for platforms with no watermark and no
	// override. A missing or zero entry fetches everything.
	Lookbacks map[meeting.Platform]time.Duration
	// Location is the zone for note dates and window truncation.
	Location *time.Location
	Now      func() time.Time

	Metrics    *observability.SyncMetrics
	Tracer     *observability.Tracer
	OnProgress func(ProgressSnapshot)
}

// Orchestrator runs sources against the state store and the vault.
type Orchestrator struct {
	store  StateStore
	writer NoteWriter
	logger logging.Logger
	opts   Options
}

// New returns an Orchestrator.
func New(store StateStore, writer NoteWriter, logger logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewTracer()
	}
	return &Orchestrator{
		store:  store,
		writer: writer,
		logger: logger.With(logging.F("component", "orchestrator")),
		opts:   opts,
	}
}

// Run syncs each source in order and returns the aggregated result.
func (o *Orchestrator) Run(ctx context.Context, srcs []sources.Source) *RunResult {
	res := &RunResult{
		RunID:     uuid.New().String(),
		StartedAt: o.opts.Now(),
		DryRun:    o.opts.DryRun,
	}
	ctx = logging.ContextWithRunID(ctx, res.RunID)
	ctx, span := o.opts.Tracer.StartRunSpan(ctx, res.RunID, o.opts.DryRun)
	defer span.End()

	log := o.logger.WithContext(ctx)
	progress := NewProgress(res.RunID, o.opts.Now, o.opts.OnProgress)
	log.Info("Starting sync", logging.F("platforms", len(srcs)), logging.F("dry_run", o.opts.DryRun))

	for _, src := range srcs {
		p := src.Platform()
		if err := ctx.Err(); err != nil {
			pr := &PlatformResult{Platform: p}
			pr.fail(syncerr.ClassifyError(err, string(p), "start"))
			res.Platforms = append(res.Platforms, pr)
			continue
		}
		progress.StartPlatform(p)
		res.Platforms = append(res.Platforms, o.runPlatform(ctx, src, res.StartedAt, progress))
	}

	res.FinishedAt = o.opts.Now()
	success := res.Success()
	progress.Complete(success)
	o.opts.Metrics.RecordRun(success, res.FinishedAt)

	if success {
		observability.NewSpanHelper(span).SetSuccess()
		log.Info("Sync complete", logging.F("saved", res.Saved()), logging.F("duration", res.FinishedAt.Sub(res.StartedAt)))
	} else {
		for _, f := range res.Failed() {
			log.Error("Platform failed",
				logging.F("platform", string(f.Platform)),
				logging.F("code", f.ErrorCode),
				logging.F("action", f.Suggestion),
				logging.Err(f.Err),
			)
		}
	}
	return res
}

// window returns the earliest occurred_at this pass accepts. The zero time
// accepts everything.
func (o *Orchestrator) window(ctx context.Context, p meeting.Platform) (time.Time, error) {
	wm, ok, err := o.store.Watermark(ctx, p)
	if err != nil {
		return time.Time{}, err
	}

	var since time.Time
	override := o.opts.Since
	switch {
	case ok && !override.IsZero():
		since = wm
		if override.After(wm) {
			since = override
		}
	case ok:
		since = wm
	case !override.IsZero():
		since = override
	default:
		if lb := o.opts.Lookbacks[p]; lb > 0 {
			since = o.opts.Now().Add(-lb)
		}
	}
	if since.IsZero() {
		return since, nil
	}
	return startOfDay(since, o.opts.Location), nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func (o *Orchestrator) runPlatform(ctx context.Context, src sources.Source, runStart time.Time, progress *Progress) *PlatformResult {
	p := src.Platform()
	started := o.opts.Now()
	res := &PlatformResult{Platform: p}

	ctx = logging.ContextWithPlatform(ctx, string(p))
	ctx, span := o.opts.Tracer.StartPlatformSpan(ctx, string(p))
	defer span.End()
	log := o.logger.WithContext(ctx)

	defer func() {
		res.Duration = o.opts.Now().Sub(started)
		code := ""
		if res.Err != nil {
			code = res.ErrorCode
			observability.NewSpanHelper(span).SetError(res.Err, code, syncerr.IsRetryable(syncerr.CodeOf(res.Err)))
		} else {
			observability.NewSpanHelper(span).SetSuccess()
		}
		o.opts.Metrics.RecordPlatform(string(p), code, res.Duration)
	}()

	since, err := o.window(ctx, p)
	if err != nil {
		res.fail(syncerr.Persistence(string(p), "watermark", err))
		return res
	}
	res.Since = since
	if since.IsZero() {
		log.Info("Syncing platform", logging.F("since", "all"))
	} else {
		log.Info("Syncing platform", logging.F("since", since))
	}

	var platformErr error
	for m, err := range src.Fetch(ctx, since) {
		if err != nil {
			platformErr = err
			break
		}
		res.Fetched++
		progress.SetCurrent(m.Title)

		outcome, ierr := o.handle(ctx, m, since, res)
		o.opts.Metrics.RecordMeeting(string(p), outcome)
		switch outcome {
		case observability.OutcomeSaved, observability.OutcomeDryRun:
			progress.RecordSaved()
		case observability.OutcomeFailed:
			progress.RecordFailed()
			res.itemFailed(m, ierr)
			log.Error("Failed to save meeting",
				logging.F("external_id", m.ExternalID),
				logging.F("title", m.Title),
				logging.Err(ierr),
			)
		default:
			progress.RecordSkipped()
		}

		if o.opts.Limit > 0 && res.Saved+res.DryRun >= o.opts.Limit {
			res.Limited = true
			log.Info("Reached meeting limit", logging.F("limit", o.opts.Limit))
			break
		}
	}
	if platformErr == nil && ctx.Err() != nil {
		platformErr = ctx.Err()
	}
	if platformErr != nil {
		res.fail(syncerr.ClassifyError(platformErr, string(p), "fetch"))
		log.Warn("Platform pass aborted; watermark unchanged", logging.Err(res.Err))
		return res
	}

	switch {
	case o.opts.DryRun:
		log.Info("Dry run; watermark unchanged")
	case res.Limited:
		log.Info("Limited pass; watermark unchanged")
	case res.Failed > 0:
		log.Warn("Meetings failed to save; watermark unchanged so they are retried", logging.F("failed", res.Failed))
	default:
		if err := o.store.SetWatermark(ctx, p, runStart); err != nil {
			res.fail(syncerr.Persistence(string(p), "watermark", err))
			return res
		}
		res.WatermarkAdvanced = true
		o.opts.Metrics.SetWatermark(string(p), runStart)
	}

	log.Info("Platform complete",
		logging.F("fetched", res.Fetched),
		logging.F("saved", res.Saved),
		logging.F("already_synced", res.AlreadySynced),
		logging.F("no_summary", res.NoSummary),
		logging.F("failed", res.Failed),
	)
	return res
}

// handle processes one meeting and returns its outcome. The error is set
// only for OutcomeFailed.
func (o *Orchestrator) handle(ctx context.Context, m *meeting.Meeting, since time.Time, res *PlatformResult) (string, error) {
	p := string(m.Platform)
	ctx, span := o.opts.Tracer.StartMeetingSpan(ctx, p, m.ExternalID)
	defer span.End()
	h := observability.NewSpanHelper(span)
	log := o.logger.WithContext(ctx).With(logging.F("external_id", m.ExternalID))

	outcome, err := o.process(ctx, m, since, res, log)
	h.SetOutcome(outcome)
	if err != nil {
		h.SetError(err, string(syncerr.CodeOf(err)), false)
	}
	return outcome, err
}

func (o *Orchestrator) process(ctx context.Context, m *meeting.Meeting, since time.Time, res *PlatformResult, log logging.Logger) (string, error) {
	p := string(m.Platform)

	if !since.IsZero() && m.OccurredAt.Before(since) {
		res.BeforeWindow++
		log.Debug("Meeting before sync window", logging.F("occurred_at", m.OccurredAt))
		return observability.OutcomeBeforeWindow, nil
	}

	done, err := o.store.IsDownloaded(ctx, m.ExternalID, m.Platform)
	if err != nil {
		return observability.OutcomeFailed, syncerr.Persistence(p, "lookup", err)
	}
	if legacy, ok := o.store.(LegacyLookup); ok && !done && m.LegacyID != "" {
		done, err = legacy.IsDownloadedAt(ctx, m.LegacyID, m.Platform, m.OccurredAt)
		if err != nil {
			return observability.OutcomeFailed, syncerr.Persistence(p, "lookup", err)
		}
	}
	if done {
		res.AlreadySynced++
		log.Debug("Already synced", logging.F("title", m.Title))
		return observability.OutcomeAlreadySynced, nil
	}

	if !m.HasSummary() {
		res.NoSummary++
		log.Info("No summary available; skipping", logging.F("title", m.Title))
		return observability.OutcomeNoSummary, nil
	}

	note, err := vault.Format(m, o.opts.Location)
	if err != nil {
		return observability.OutcomeFailed, fmt.Errorf("format note: %w", err)
	}
	content, err := note.Render()
	if err != nil {
		return observability.OutcomeFailed, fmt.Errorf("render note: %w", err)
	}

	if o.opts.DryRun {
		res.DryRun++
		log.Info("Would save meeting", logging.F("title", m.Title), logging.F("file", note.Filename))
		return observability.OutcomeDryRun, nil
	}

	path, err := o.writer.Write(note.Filename, content)
	if err != nil {
		return observability.OutcomeFailed, syncerr.Persistence(p, "write", err)
	}
	inserted, err := o.store.Record(ctx, m, path)
	if err != nil {
		if rerr := o.writer.Remove(path); rerr != nil {
			log.Warn("Could not remove unrecorded note", logging.F("file", path), logging.Err(rerr))
		}
		return observability.OutcomeFailed, syncerr.Persistence(p, "record", err)
	}
	if !inserted {
		res.AlreadySynced++
		log.Warn("Meeting was recorded concurrently; note kept", logging.F("file", path))
		return observability.OutcomeAlreadySynced, nil
	}

	res.Saved++
	res.Files = append(res.Files, path)
	log.Info("Saved meeting", logging.F("title", m.Title), logging.F("file", path))
	return observability.OutcomeSaved, nil
}
