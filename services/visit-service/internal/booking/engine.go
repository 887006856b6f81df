// Package booking validates and commits visit requests, owner blocks and
// cancellations against a page, and manages the page lifecycle.
//
// Every mutation is a fetch, validate, conditional-write cycle. When the write
// loses to a concurrent writer the whole cycle is repeated, up to maxAttempts.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/visitwindow/libs/auth"
	otelx "github.com/md-rashed-zaman/visitwindow/libs/otel"
	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/tokens"
)

const (
	DefaultMaxAttempts   = 3
	DefaultNotifyTimeout = 2 * time.Second
)

type Options struct {
	MaxAttempts int
	Notifier    outbox.Notifier
	// NotifyTimeout bounds handing an event to the notifier once the write
	// has committed. The request context's cancellation does not apply.
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

type Engine struct {
	store       storage.Store
	tokens      *tokens.Service
	notifier    outbox.Notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	maxAttempts int

	notifyTimeout time.Duration

	now          func() time.Time
	newNonce     func() (string, error)
	newReference func() (string, error)
}

func NewEngine(store storage.Store, tok *tokens.Service, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = runtime.Discard()
	}
	if opts.Notifier == nil {
		opts.Notifier = outbox.LogNotifier{Logger: opts.Logger}
	}
	return &Engine{
		store:         store,
		tokens:        tok,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		tracer:        otelx.Tracer("visit-service/booking"),
		maxAttempts:   opts.MaxAttempts,
		notifyTimeout: opts.NotifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		newNonce:      auth.NewNonce,
		newReference:  func() (string, error) { return auth.RandomBase36(ReferenceLength) },
	}
}

// Receipt is a committed slot, stripped of its nonce, with the ownership
// token that proves who created it.
type Receipt struct {
	Slot           model.Slot `json:"slot"`
	OwnershipToken string     `json:"ownership_token"`
}

// Proof authorizes a cancellation. Either token is sufficient.
type Proof struct {
	ManageToken    string
	OwnershipToken string
}

// BlockRequest is an owner's manual booking or block.
type BlockRequest struct {
	Date     timeofday.Date
	Time     timeofday.Time
	Duration int
	Type     model.SlotType
	Name     string
}

// Grid computes the display grid of a page.
func (e *Engine) Grid(ctx context.Context, reference string) (availability.Grid, error) {
	page, err := e.fetch(ctx, reference)
	if err != nil {
		return availability.Grid{}, err
	}
	return availability.ComputeGrid(page), nil
}

// RequestVisit books a guest visit of the page's default duration.
func (e *Engine) RequestVisit(ctx context.Context, reference string, date timeofday.Date, at timeofday.Time, name string) (Receipt, error) {
	ctx, span := e.startSpan(ctx, "booking.RequestVisit", reference)
	defer span.End()

	name, err := guestName(name)
	if err != nil {
		return Receipt{}, err
	}

	var slot model.Slot
	page, err := e.mutate(ctx, reference, func(page *model.Page) (storage.Attributes, error) {
		w := availability.WindowsFor(page)
		if _, reason := availability.Check(page, w, date, at, page.Duration, false); reason != availability.ReasonNone {
			return nil, rejected(reason)
		}
		nonce, err := e.newNonce()
		if err != nil {
			return nil, err
		}
		slot = model.Slot{Date: date, Time: at, Duration: page.Duration, Type: model.SlotTaken, Name: name, Nonce: nonce}
		page.Slots = append(page.Slots, slot)
		return storage.Attributes{storage.FieldSlots: page.Slots}, nil
	})
	if errors.Is(err, ErrConflict) {
		err = &RejectedError{Reason: ReasonStale}
	}
	if err != nil {
		recordError(span, err)
		return Receipt{}, err
	}

	e.notify(ctx, outbox.VisitBooked, page, slot)
	e.logger.InfoContext(ctx, "visit booked", "reference", reference, "date", slot.Date, "time", slot.Time)
	return Receipt{Slot: slot.Public(), OwnershipToken: e.tokens.OwnershipToken(reference, slot)}, nil
}

// RequestBlock lets a verified owner add a slot regardless of capacity. Window
// fit, date range and overlap still apply.
func (e *Engine) RequestBlock(ctx context.Context, reference, manageToken string, req BlockRequest) (Receipt, error) {
	ctx, span := e.startSpan(ctx, "booking.RequestBlock", reference)
	defer span.End()

	if req.Type == "" {
		req.Type = model.SlotBlocked
	}
	switch req.Type {
	case model.SlotBlocked:
		req.Name = ""
	case model.SlotTaken:
		name, err := guestName(req.Name)
		if err != nil {
			return Receipt{}, err
		}
		req.Name = name
	default:
		return Receipt{}, invalid("unknown slot type %q", req.Type)
	}
	if req.Duration < 0 {
		return Receipt{}, invalid("duration must be positive")
	}

	var slot model.Slot
	_, err := e.mutate(ctx, reference, func(page *model.Page) (storage.Attributes, error) {
		if !e.tokens.VerifyManage(reference, page.Nonce, manageToken) {
			return nil, e.unauthorized(ctx, reference, "manage")
		}
		duration := req.Duration
		if duration == 0 {
			duration = page.Duration
		}
		w := availability.WindowsFor(page)
		if _, reason := availability.Check(page, w, req.Date, req.Time, duration, true); reason != availability.ReasonNone {
			return nil, rejected(reason)
		}
		nonce, err := e.newNonce()
		if err != nil {
			return nil, err
		}
		slot = model.Slot{Date: req.Date, Time: req.Time, Duration: duration, Type: req.Type, Name: req.Name, Nonce: nonce}
		page.Slots = append(page.Slots, slot)
		return storage.Attributes{storage.FieldSlots: page.Slots}, nil
	})
	if errors.Is(err, ErrConflict) {
		err = &RejectedError{Reason: ReasonStale}
	}
	if err != nil {
		recordError(span, err)
		return Receipt{}, err
	}
	e.logger.InfoContext(ctx, "slot added by owner", "reference", reference, "type", slot.Type, "date", slot.Date, "time", slot.Time)
	return Receipt{Slot: slot.Public(), OwnershipToken: e.tokens.OwnershipToken(reference, slot)}, nil
}

// Cancel removes the slot matching id. It reports false without error when no
// such slot exists, and false with ErrUnauthorized when neither token proves
// the right to remove it.
func (e *Engine) Cancel(ctx context.Context, reference string, id model.SlotIdentity, proof Proof) (model.Slot, bool, error) {
	ctx, span := e.startSpan(ctx, "booking.Cancel", reference)
	defer span.End()

	var (
		removed model.Slot
		found   bool
	)
	page, err := e.mutate(ctx, reference, func(page *model.Page) (storage.Attributes, error) {
		found = false
		idx := model.FindSlot(page.Slots, id)
		if idx < 0 {
			return nil, nil
		}
		slot := page.Slots[idx]
		if !e.tokens.VerifyManage(reference, page.Nonce, proof.ManageToken) &&
			!e.tokens.VerifyOwnership(reference, slot, proof.OwnershipToken) {
			return nil, e.unauthorized(ctx, reference, "cancel")
		}
		removed, found = slot, true
		page.Slots = append(page.Slots[:idx:idx], page.Slots[idx+1:]...)
		return storage.Attributes{storage.FieldSlots: page.Slots}, nil
	})
	if err != nil {
		recordError(span, err)
		return model.Slot{}, false, err
	}
	if !found {
		return model.Slot{}, false, nil
	}

	e.notify(ctx, outbox.VisitCancelled, page, removed)
	e.logger.InfoContext(ctx, "slot cancelled", "reference", reference, "date", removed.Date, "time", removed.Time)
	return removed.Public(), true, nil
}

// mutate runs fetch, fn, conditional write until the write lands or the
// attempts run out (ErrConflict). fn edits the fetched page in place and
// returns the attributes to persist; nil attributes skip the write.
func (e *Engine) mutate(ctx context.Context, reference string, fn func(*model.Page) (storage.Attributes, error)) (*model.Page, error) {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		page, err := e.fetch(ctx, reference)
		if err != nil {
			return nil, err
		}
		attrs, err := fn(page)
		if err != nil {
			return nil, err
		}
		if attrs == nil {
			return page, nil
		}
		version, err := e.store.ConditionalUpdate(ctx, reference, attrs, storage.Precondition{Version: page.Version})
		switch {
		case err == nil:
			page.Version = version
			return page, nil
		case errors.Is(err, storage.ErrConflict):
			e.logger.DebugContext(ctx, "conditional write lost, retrying", "reference", reference, "attempt", attempt)
			continue
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}
	e.logger.WarnContext(ctx, "giving up after concurrent writes", "reference", reference, "attempts", e.maxAttempts)
	return nil, ErrConflict
}

func (e *Engine) fetch(ctx context.Context, reference string, fields ...string) (*model.Page, error) {
	page, err := e.store.Fetch(ctx, reference, fields...)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (e *Engine) unauthorized(ctx context.Context, reference, action string) error {
	e.logger.WarnContext(ctx, "token rejected", "reference", reference, "action", action)
	return ErrUnauthorized
}

func (e *Engine) notify(ctx context.Context, build func(*model.Page, model.Slot, time.Time) (outbox.Event, error), page *model.Page, slot model.Slot) {
	evt, err := build(page, slot, e.now())
	if err == nil {
		err = e.deliver(ctx, evt)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "notification enqueue failed", "reference", page.Reference, "err", err)
	}
}

// deliver hands evt to the notifier under its own deadline. A slow or failing
// notifier never fails the committed mutation.
func (e *Engine) deliver(ctx context.Context, evt outbox.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	return e.notifier.Notify(ctx, evt)
}

func (e *Engine) startSpan(ctx context.Context, name, reference string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("page.reference", reference)))
}

func recordError(span trace.Span, err error) {
	if _, ok := IsRejected(err); ok {
		span.SetAttributes(attribute.String("booking.rejected", err.Error()))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
