// Package cleanup removes pages whose last bookable day is long past.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

const (
	DefaultRetention = 90 * 24 * time.Hour
	maxRetries       = 3
)

type Config struct {
	Retention time.Duration
	// BaseDelay is the first delete retry backoff; it doubles per retry.
	BaseDelay time.Duration
}

type Job struct {
	store     storage.Store
	notifier  outbox.Notifier
	logger    *slog.Logger
	retention time.Duration
	baseDelay time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Result summarizes one run.
type Result struct {
	Scanned int
	Deleted int
	Failed  int
}

func NewJob(store storage.Store, notifier outbox.Notifier, logger *slog.Logger, cfg Config) *Job {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Job{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		retention: cfg.Retention,
		baseDelay: cfg.BaseDelay,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run scans every page and deletes the expired ones. A page that fails to
// delete is logged and skipped.
func (j *Job) Run(ctx context.Context) (Result, error) {
	threshold := timeofday.DateOf(j.now().Add(-j.retention))
	j.logger.InfoContext(ctx, "cleanup started", "threshold", threshold)

	var res Result
	var expired []*model.Page
	err := j.store.Scan(ctx, []string{storage.FieldDateFrom, storage.FieldDateTo}, func(p *model.Page) error {
		res.Scanned++
		if j.isExpired(ctx, p, threshold) {
			expired = append(expired, p)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, p := range expired {
		if err := j.delete(ctx, p); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			j.logger.ErrorContext(ctx, "cleanup delete failed", "reference", p.Reference, "err", err)
			continue
		}
		res.Deleted++
	}
	j.logger.InfoContext(ctx, "cleanup finished", "scanned", res.Scanned, "deleted", res.Deleted, "failed", res.Failed)
	return res, nil
}

// isExpired compares the page's last date, date_to or else date_from, with
// threshold. Pages with neither date are expired; unreadable dates are kept.
func (j *Job) isExpired(ctx context.Context, p *model.Page, threshold timeofday.Date) bool {
	raw := string(p.DateTo)
	if raw == "" {
		raw = string(p.DateFrom)
	}
	if raw == "" {
		return true
	}
	last, err := timeofday.ParseLenientDate(raw)
	if err != nil {
		j.logger.WarnContext(ctx, "cleanup skipped unreadable date", "reference", p.Reference, "date", raw)
		return false
	}
	return last.Before(threshold)
}

func (j *Job) delete(ctx context.Context, p *model.Page) error {
	delay := j.baseDelay
	for retry := 0; ; retry++ {
		err := j.store.Delete(ctx, p.Reference, &storage.Precondition{Version: p.Version})
		switch {
		case err == nil:
			j.logger.InfoContext(ctx, "expired page deleted", "reference", p.Reference, "date_to", p.DateTo)
			j.notifyDeleted(ctx, p.Reference)
			return nil
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case errors.Is(err, storage.ErrConflict):
			// Edited since the scan; the next run looks at it again.
			j.logger.InfoContext(ctx, "expired page changed, skipping", "reference", p.Reference)
			return nil
		case retry >= maxRetries:
			return err
		}
		j.logger.WarnContext(ctx, "cleanup delete retry", "reference", p.Reference, "delay", delay.String(), "err", err)
		if err := j.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

func (j *Job) notifyDeleted(ctx context.Context, reference string) {
	if j.notifier == nil {
		return
	}
	evt, err := outbox.PageDeleted(reference, j.now())
	if err == nil {
		err = j.notifier.Notify(ctx, evt)
	}
	if err != nil {
		j.logger.ErrorContext(ctx, "notification enqueue failed", "reference", reference, "err", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
