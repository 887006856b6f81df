package booking

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/availability"
)

var (
	ErrNotFound     = errors.New("page not found")
	ErrUnauthorized = errors.New("token verification failed")
	ErrConflict     = errors.New("page is being modified concurrently")
	ErrInvalidInput = errors.New("invalid input")
)

// Reason is why a slot could not be booked.
type Reason string

const (
	ReasonOutsideWindow    = Reason(availability.ReasonOutsideWindow)
	ReasonOutsideDateRange = Reason(availability.ReasonOutsideDateRange)
	ReasonOverlapping      = Reason(availability.ReasonOverlapping)
	ReasonOverCapacity     = Reason(availability.ReasonOverCapacity)
	// ReasonStale is reported when concurrent writers kept winning and the
	// real cause can no longer be told apart.
	ReasonStale Reason = "over-capacity-or-overlap"
	// ReasonStrandedSlots rejects page rules that existing slots would violate.
	ReasonStrandedSlots Reason = "stranded-slots"
)

// RejectedError is the expected outcome of a request for a slot that is not
// bookable. Callers may re-prompt with another slot.
type RejectedError struct {
	Reason Reason
}

func (e *RejectedError) Error() string {
	return "slot not available: " + string(e.Reason)
}

func rejected(r availability.Reason) error {
	return &RejectedError{Reason: Reason(r)}
}

// IsRejected returns the rejection reason carried by err, if any.
func IsRejected(err error) (Reason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

const maxNameLength = 100

// guestName trims name and rejects values that could not be shown or mailed
// verbatim.
func guestName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", invalid("name is required")
	case len(name) > maxNameLength:
		return "", invalid("name is longer than %d bytes", maxNameLength)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "", invalid("name must not contain control characters")
	}
	return name, nil
}
