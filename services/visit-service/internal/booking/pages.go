package booking

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

const (
	ReferenceLength = 8
	// referenceAttempts bounds the search for an unused reference.
	referenceAttempts = 6
	maxDuration       = 8 * 60
)

// PageInput carries the owner editable fields of a page.
type PageInput struct {
	Name        string                            `json:"name"`
	Email       string                            `json:"email"`
	Description string                            `json:"description"`
	DateFrom    string                            `json:"date_from"`
	DateTo      string                            `json:"date_to"`
	Windows     map[model.Period]model.WindowRule `json:"windows"`
	Capacities  map[model.Period]int              `json:"capacities"`
	Duration    int                               `json:"duration"`
}

// normalize validates in and returns the page fields it describes.
func (in PageInput) normalize() (*model.Page, error) {
	from, err := timeofday.ParseDate(in.DateFrom)
	if err != nil {
		return nil, invalid("date_from: %v", err)
	}
	to := from.AddDays(model.DefaultRangeDays)
	if strings.TrimSpace(in.DateTo) != "" {
		if to, err = timeofday.ParseDate(in.DateTo); err != nil {
			return nil, invalid("date_to: %v", err)
		}
		if to.Before(from) {
			return nil, invalid("date_to is before date_from")
		}
	}
	if in.Duration <= 0 || in.Duration > maxDuration {
		return nil, invalid("duration must be between 1 and %d minutes", maxDuration)
	}
	email := strings.TrimSpace(in.Email)
	if email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return nil, invalid("email is not a plain address")
		}
	}
	if len(in.Windows) == 0 {
		return nil, invalid("at least one window is required")
	}

	windows := make(map[model.Period]model.WindowRule, len(in.Windows))
	for period, rule := range in.Windows {
		if !period.Valid() {
			return nil, invalid("unknown period %q", period)
		}
		start, err := timeofday.Parse(rule.From)
		if err != nil {
			return nil, invalid("%s.from: %v", period, err)
		}
		end, err := timeofday.Parse(rule.To)
		if err != nil {
			return nil, invalid("%s.to: %v", period, err)
		}
		if !start.Before(end) {
			return nil, invalid("%s window must start before it ends", period)
		}
		windows[period] = model.WindowRule{From: string(start), To: string(end)}
	}

	var capacities map[model.Period]int
	if len(in.Capacities) > 0 {
		capacities = make(map[model.Period]int, len(in.Capacities))
		for period, c := range in.Capacities {
			if !period.Valid() {
				return nil, invalid("unknown period %q", period)
			}
			if c < 0 {
				return nil, invalid("%s capacity must not be negative", period)
			}
			capacities[period] = c
		}
	}

	return &model.Page{
		Name:        strings.TrimSpace(in.Name),
		Email:       email,
		Description: strings.TrimSpace(in.Description),
		DateFrom:    from,
		DateTo:      to,
		Windows:     windows,
		Capacities:  capacities,
		Duration:    in.Duration,
	}, nil
}

// CreatePage stores a new page under a fresh reference and returns it
// together with its manage token.
func (e *Engine) CreatePage(ctx context.Context, in PageInput) (*model.Page, string, error) {
	ctx, span := e.startSpan(ctx, "booking.CreatePage", "")
	defer span.End()

	page, err := in.normalize()
	if err != nil {
		return nil, "", err
	}
	if page.Nonce, err = e.newNonce(); err != nil {
		return nil, "", err
	}
	page.Slots = []model.Slot{}

	for attempt := 0; attempt < referenceAttempts; attempt++ {
		if page.Reference, err = e.newReference(); err != nil {
			return nil, "", err
		}
		err = e.store.Insert(ctx, page)
		if errors.Is(err, storage.ErrExists) {
			continue
		}
		if err != nil {
			recordError(span, err)
			return nil, "", err
		}
		e.logger.InfoContext(ctx, "page created", "reference", page.Reference)
		return page.Redacted(true), e.tokens.ManageToken(page.Reference, page.Nonce), nil
	}
	return nil, "", errors.New("booking: could not allocate a unique reference")
}

// UpdatePage replaces the owner editable fields. Reference, nonce and slots
// are kept; rules that an existing slot would violate are rejected with
// ReasonStrandedSlots.
func (e *Engine) UpdatePage(ctx context.Context, reference, manageToken string, in PageInput) (*model.Page, error) {
	ctx, span := e.startSpan(ctx, "booking.UpdatePage", reference)
	defer span.End()

	next, err := in.normalize()
	if err != nil {
		return nil, err
	}
	page, err := e.mutate(ctx, reference, func(page *model.Page) (storage.Attributes, error) {
		if !e.tokens.VerifyManage(reference, page.Nonce, manageToken) {
			return nil, e.unauthorized(ctx, reference, "update")
		}
		page.Name, page.Email, page.Description = next.Name, next.Email, next.Description
		page.DateFrom, page.DateTo = next.DateFrom, next.DateTo
		page.Windows, page.Capacities, page.Duration = next.Windows, next.Capacities, next.Duration
		if stranded := availability.Stranded(page); len(stranded) > 0 {
			e.logger.InfoContext(ctx, "update would strand slots", "reference", reference, "slots", len(stranded))
			return nil, &RejectedError{Reason: ReasonStrandedSlots}
		}
		return storage.Attributes{
			"name":        page.Name,
			"email":       page.Email,
			"description": page.Description,
			"date_from":   page.DateFrom,
			"date_to":     page.DateTo,
			"windows":     page.Windows,
			"capacities":  page.Capacities,
			"duration":    page.Duration,
		}, nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return page.Redacted(true), nil
}

// DeletePage removes a page and all of its slots.
func (e *Engine) DeletePage(ctx context.Context, reference, manageToken string) error {
	ctx, span := e.startSpan(ctx, "booking.DeletePage", reference)
	defer span.End()

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		page, err := e.fetch(ctx, reference, storage.FieldNonce)
		if err != nil {
			return err
		}
		if !e.tokens.VerifyManage(reference, page.Nonce, manageToken) {
			return e.unauthorized(ctx, reference, "delete")
		}
		err = e.store.Delete(ctx, reference, &storage.Precondition{Version: page.Version})
		switch {
		case err == nil:
			e.notifyDeleted(ctx, reference)
			e.logger.InfoContext(ctx, "page deleted", "reference", reference)
			return nil
		case errors.Is(err, storage.ErrConflict):
			continue
		case errors.Is(err, storage.ErrNotFound):
			return ErrNotFound
		default:
			recordError(span, err)
			return err
		}
	}
	return ErrConflict
}

// GetPage returns a client safe view of a page. Nonces are always removed;
// guest names and the owner email are only kept for a valid manage token.
func (e *Engine) GetPage(ctx context.Context, reference, manageToken string) (*model.Page, bool, error) {
	page, err := e.fetch(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	owner := manageToken != "" && e.tokens.VerifyManage(reference, page.Nonce, manageToken)
	return page.Redacted(owner), owner, nil
}

// MyVisit returns the slot at id when ownershipToken proves the caller made it.
func (e *Engine) MyVisit(ctx context.Context, reference string, id model.SlotIdentity, ownershipToken string) (model.Slot, bool, error) {
	page, err := e.fetch(ctx, reference, storage.FieldSlots)
	if err != nil {
		return model.Slot{}, false, err
	}
	idx := model.FindSlot(page.Slots, id)
	if idx < 0 || !e.tokens.VerifyOwnership(reference, page.Slots[idx], ownershipToken) {
		return model.Slot{}, false, nil
	}
	return page.Slots[idx].Public(), true, nil
}

// VerifyManageToken checks token against the current page nonce.
func (e *Engine) VerifyManageToken(ctx context.Context, reference, token string) (bool, error) {
	page, err := e.fetch(ctx, reference, storage.FieldNonce)
	if err != nil {
		return false, err
	}
	return e.tokens.VerifyManage(reference, page.Nonce, token), nil
}

// VerifyOwnershipToken looks up the slot at id and checks token against its
// nonce. A missing slot never verifies.
func (e *Engine) VerifyOwnershipToken(ctx context.Context, reference string, id model.SlotIdentity, token string) (bool, error) {
	_, ok, err := e.MyVisit(ctx, reference, id, token)
	return ok, err
}

// RotateNonce replaces the page nonce, and with includeSlots every slot
// nonce, in one conditional write. It returns the new manage token.
func (e *Engine) RotateNonce(ctx context.Context, reference, manageToken string, includeSlots bool) (string, error) {
	return e.rotate(ctx, reference, includeSlots, func(page *model.Page) error {
		if !e.tokens.VerifyManage(reference, page.Nonce, manageToken) {
			return e.unauthorized(ctx, reference, "rotate")
		}
		return nil
	})
}

// ForceRotateNonce rotates without a manage token. It backs the operator
// command used when an owner link has leaked or been lost.
func (e *Engine) ForceRotateNonce(ctx context.Context, reference string, includeSlots bool) (string, error) {
	return e.rotate(ctx, reference, includeSlots, func(*model.Page) error { return nil })
}

func (e *Engine) rotate(ctx context.Context, reference string, includeSlots bool, authorize func(*model.Page) error) (string, error) {
	ctx, span := e.startSpan(ctx, "booking.RotateNonce", reference)
	defer span.End()

	page, err := e.mutate(ctx, reference, func(page *model.Page) (storage.Attributes, error) {
		if err := authorize(page); err != nil {
			return nil, err
		}
		nonce, err := e.newNonce()
		if err != nil {
			return nil, err
		}
		page.Nonce = nonce
		attrs := storage.Attributes{storage.FieldNonce: nonce}
		if includeSlots {
			for i := range page.Slots {
				if page.Slots[i].Nonce, err = e.newNonce(); err != nil {
					return nil, err
				}
			}
			attrs[storage.FieldSlots] = page.Slots
		}
		return attrs, nil
	})
	if err != nil {
		recordError(span, err)
		return "", err
	}
	e.logger.InfoContext(ctx, "page nonce rotated", "reference", reference, "slots", includeSlots)
	return e.tokens.ManageToken(reference, page.Nonce), nil
}

func (e *Engine) notifyDeleted(ctx context.Context, reference string) {
	evt, err := outbox.PageDeleted(reference, e.now())
	if err == nil {
		err = e.deliver(ctx, evt)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "notification enqueue failed", "reference", reference, "err", err)
	}
}
