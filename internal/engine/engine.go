package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stevetools/calsync/internal/caldav"
	"github.com/stevetools/calsync/internal/ics"
	"github.com/stevetools/calsync/internal/provider"
	"github.com/stevetools/calsync/internal/store"
)

// Client is the protocol surface the engine needs. Implemented by
// *caldav.Client; tests inject fakes.
type Client interface {
	Login(ctx context.Context) error
	FindCalendars(ctx context.Context) ([]caldav.Calendar, error)
	FetchObjects(ctx context.Context, cal caldav.Calendar, start, end time.Time) ([]caldav.Object, error)
	CreateObject(ctx context.Context, cal caldav.Calendar, name, payload string) (href, etag string, err error)
	UpdateObject(ctx context.Context, href, etag, payload string) (string, error)
	DeleteObject(ctx context.Context, href string) error
}

// Engine runs one reconciliation for one account: pull, then push. It is
// created per run and holds no state across runs beyond the injected store.
type Engine struct {
	store    store.Store
	client   Client
	strategy *provider.Strategy
	logger   *slog.Logger

	// now is the clock; tests override it.
	now func() time.Time
}

// New creates an Engine for a single run.
func New(st store.Store, client Client, strategy *provider.Strategy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    st,
		client:   client,
		strategy: strategy,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one full sync: authenticate, select the collection, pull,
// push, then persist the store snapshot. Pull always completes before push
// begins, so a push never races a pull within a run. A non-nil error means
// the run aborted at run level; per-object failures land in the summary's
// Errors list instead.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}

	if err := e.client.Login(ctx); err != nil {
		return summary, fmt.Errorf("login: %w", err)
	}

	cals, err := e.client.FindCalendars(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing calendars: %w", err)
	}

	if len(cals) == 0 {
		return summary, fmt.Errorf("listing calendars: %w", caldav.ErrNoCalendars)
	}

	cal := e.strategy.SelectCalendar(cals)
	e.logger.Info("syncing calendar",
		"provider", e.strategy.Name,
		"calendar", cal.DisplayName,
		"path", cal.Path,
	)

	if err := e.pull(ctx, cal, summary); err != nil {
		return summary, err
	}

	e.push(ctx, cal, summary)

	if err := e.store.Persist(ctx); err != nil {
		return summary, fmt.Errorf("persisting store: %w", err)
	}

	summary.finalize(e.strategy.Name)

	return summary, nil
}

// pull merges the remote event set into the local store and sweeps local
// mirror events that disappeared remotely. Remote is authoritative: a
// changed version tag replaces the local copy wholesale, preserving only the
// local-only completed flag.
func (e *Engine) pull(ctx context.Context, cal caldav.Calendar, summary *RunSummary) error {
	start, end := SyncWindow(e.now())

	objects, err := e.client.FetchObjects(ctx, cal, start, end)
	if err != nil {
		return fmt.Errorf("fetching objects: %w", err)
	}

	tag := e.strategy.SourceTag
	seen := make(map[string]bool)

	for _, obj := range objects {
		records, err := ics.Decode(obj.Data)
		if err != nil {
			// Malformed payloads skip the object, never the run.
			e.logger.Warn("skipping undecodable object", "href", obj.Href, "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("decode %s: %v", obj.Href, err))

			continue
		}

		for _, rec := range records {
			if rec.UID == "" {
				rec.UID = obj.Href
			}

			id := rec.DerivedID()
			seen[id] = true

			local, err := e.store.Get(ctx, id)

			switch {
			case errors.Is(err, store.ErrNotFound):
				ev := ics.ToEvent(rec, tag, e.now())
				ev.RemoteURL = obj.Href
				ev.RemoteETag = obj.ETag

				if err := e.store.Put(ctx, ev); err != nil {
					return fmt.Errorf("inserting pulled event %s: %w", id, err)
				}

				summary.Pulled++

			case err != nil:
				return fmt.Errorf("looking up event %s: %w", id, err)

			case local.RemoteETag != obj.ETag:
				ev := ics.ToEvent(rec, tag, e.now())
				ev.RemoteURL = obj.Href
				ev.RemoteETag = obj.ETag
				// Local-only state survives remote refreshes: Completed, and
				// a pending deletion, which would otherwise be resurrected by
				// a remote edit racing it.
				ev.Completed = local.Completed
				ev.NeedsDelete = local.NeedsDelete

				if err := e.store.Put(ctx, ev); err != nil {
					return fmt.Errorf("updating pulled event %s: %w", id, err)
				}

				e.logger.Debug("updated local event from server", "id", id, "etag", obj.ETag)
				summary.Updated++

			default:
				// Version tags match: no-op.
			}
		}
	}

	// Deletion sweep: the local mirror of this provider's calendar tracks
	// the latest full pull exactly. Events with any other source are never
	// touched.
	all, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing events for sweep: %w", err)
	}

	for _, ev := range all {
		if ev.Source != tag || seen[ev.ID] {
			continue
		}

		if err := e.store.Delete(ctx, ev.ID); err != nil {
			return fmt.Errorf("sweeping event %s: %w", ev.ID, err)
		}

		e.logger.Info("removed local event no longer on server", "id", ev.ID)
		summary.Removed++
	}

	return nil
}

// push reconciles local changes to the server: remote deletions first, then
// creates and updates, strictly one at a time and in order. A single event's
// failure is recorded and the batch continues.
func (e *Engine) push(ctx context.Context, cal caldav.Calendar, summary *RunSummary) {
	e.backfill(ctx, summary)

	all, err := e.store.List(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("listing push candidates: %v", err))
		return
	}

	tag := e.strategy.SourceTag

	for _, ev := range all {
		if !ev.NeedsDelete || ev.RemoteURL == "" || ev.Source != tag {
			continue
		}

		e.pushDelete(ctx, ev, summary)
	}

	for _, ev := range all {
		// Events freshly pulled this run carry this provider's tag and are
		// never re-pushed in the same run.
		if !ev.NeedsPush || ev.NeedsDelete || ev.Source == tag {
			continue
		}

		e.pushOne(ctx, cal, ev, summary)
	}
}

// backfill marks recent local events without remote linkage for push, when
// the strategy asks for it.
func (e *Engine) backfill(ctx context.Context, summary *RunSummary) {
	window := e.strategy.BackfillWindow
	if window == 0 {
		return
	}

	all, err := e.store.List(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("listing backfill candidates: %v", err))
		return
	}

	cutoff := e.now().Add(-window)

	for _, ev := range all {
		if ev.NeedsPush || ev.NeedsDelete || ev.RemoteURL != "" {
			continue
		}

		if strings.HasSuffix(ev.Source, "-sync") || ev.CreatedAt.Before(cutoff) {
			continue
		}

		ev.NeedsPush = true
		if err := e.store.Put(ctx, ev); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("backfill %s: %v", ev.ID, err))
			continue
		}

		e.logger.Info("marked local event for backfill push", "id", ev.ID, "title", ev.Title)
	}
}

func (e *Engine) pushDelete(ctx context.Context, ev *store.Event, summary *RunSummary) {
	err := e.client.DeleteObject(ctx, ev.RemoteURL)
	if err != nil && !errors.Is(err, caldav.ErrNotFound) {
		// Kept locally, retried next run.
		e.logger.Warn("remote delete failed", "id", ev.ID, "error", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("delete %s: %v", ev.ID, err))

		return
	}

	if err := e.store.Delete(ctx, ev.ID); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("delete %s locally: %v", ev.ID, err))
		return
	}

	summary.Deleted++
}

func (e *Engine) pushOne(ctx context.Context, cal caldav.Calendar, ev *store.Event, summary *RunSummary) {
	outgoing := ev.Clone()
	if e.strategy.MaxSummaryLen > 0 {
		outgoing.Title = e.strategy.TruncateSummary(sanitizeText(outgoing.Title))
		outgoing.Description = e.strategy.TruncateDescription(sanitizeText(outgoing.Description))
	}

	encoded, err := ics.Encode(outgoing, e.now())
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("encode %s: %v", ev.ID, err))
		return
	}

	payload := e.strategy.PostProcessPayload(encoded)

	if ev.RemoteURL == "" {
		e.pushCreate(ctx, cal, ev, payload, summary)
		return
	}

	e.pushUpdate(ctx, ev, payload, summary)
}

func (e *Engine) pushCreate(ctx context.Context, cal caldav.Calendar, ev *store.Event, payload string, summary *RunSummary) {
	href, etag, err := e.client.CreateObject(ctx, cal, ev.ID+".ics", payload)
	if err == nil {
		ev.RemoteURL = href
		ev.RemoteUID = ev.ID
		ev.RemoteETag = etag
		ev.NeedsPush = false
		ev.Source = e.strategy.SourceTag
		ev.UpdatedAt = e.now()

		if err := e.store.Put(ctx, ev); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("store %s after create: %v", ev.ID, err))
			return
		}

		if etag == "" {
			e.logger.Warn("server returned no version tag on create, next pull will refresh it", "id", ev.ID)
		}

		summary.Pushed++

		return
	}

	switch e.strategy.ClassifyPushFailure(err) {
	case provider.FailureAlreadyExists:
		if e.strategy.OnConflict == provider.ConflictAccept {
			// Accept the conflict: stop retrying, even though the true
			// remote identity is unknown.
			ev.NeedsPush = false
			if putErr := e.store.Put(ctx, ev); putErr != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("store %s after conflict: %v", ev.ID, putErr))
				return
			}

			e.logger.Warn("create conflict, marked event synced", "id", ev.ID)

			return
		}

		// ConflictRetry: leave needsPush set, attempt again next run.
		e.logger.Warn("create conflict, will retry next run", "id", ev.ID)
		summary.Errors = append(summary.Errors, fmt.Sprintf("create %s: %v", ev.ID, err))

	case provider.FailureTransient:
		e.logger.Warn("transient create failure", "id", ev.ID, "error", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("create %s: %v", ev.ID, err))

	case provider.FailureRejected:
		e.logger.Error("server rejected event payload", "id", ev.ID, "error", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("create %s rejected: %v", ev.ID, err))
	}
}

func (e *Engine) pushUpdate(ctx context.Context, ev *store.Event, payload string, summary *RunSummary) {
	etag, err := e.client.UpdateObject(ctx, ev.RemoteURL, ev.RemoteETag, payload)
	if err == nil {
		ev.RemoteETag = etag
		ev.NeedsPush = false
		ev.Source = e.strategy.SourceTag
		ev.UpdatedAt = e.now()

		if err := e.store.Put(ctx, ev); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("store %s after update: %v", ev.ID, err))
			return
		}

		summary.Pushed++

		return
	}

	if errors.Is(err, caldav.ErrPreconditionFailed) {
		// Stale local version tag. Leave needsPush set: the next run's pull
		// refreshes the tag, then the update is retried. Never overwrite
		// remote content blindly.
		e.logger.Warn("update precondition failed, will retry after next pull", "id", ev.ID)
		summary.Errors = append(summary.Errors, fmt.Sprintf("update %s: %v", ev.ID, err))

		return
	}

	e.logger.Warn("update failed", "id", ev.ID, "error", err)
	summary.Errors = append(summary.Errors, fmt.Sprintf("update %s: %v", ev.ID, err))
}

// sanitizeText flattens line breaks and collapses runs of whitespace;
// multi-line summaries are a known cause of strict-provider rejects.
func sanitizeText(text string) string {
	text = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(text)

	return strings.Join(strings.Fields(text), " ")
}
