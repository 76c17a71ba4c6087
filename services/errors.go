package services

import (
	"errors"
	"fmt"
)

// Rule violations. Each one is surfaced verbatim as the user-facing reason
// for a refused operation and is never retried by the engine; the caller
// has to resubmit with different parameters.
var (
	ErrAlreadyBooked        = errors.New("you already have a booking for this date")
	ErrSeatTaken            = errors.New("seat is already booked by someone else")
	ErrWrongZone            = errors.New("seat is outside the allowed zone for this booking type")
	ErrNotYourDesignatedDay = errors.New("today is not your designated day, book a floating seat instead")
	ErrTooEarly             = errors.New("floating seats unlock only after the cutoff")
	ErrPoolExhausted        = errors.New("no floating seats available")
	ErrHolidayUnavailable   = errors.New("this is a holiday, enjoy at your home")
	ErrNothingToRelease     = errors.New("no booking found to release")
)

// ErrStatsMissing means the aggregate record a rule-governed booking
// depends on is gone: a prior partial write or external tampering.
// Surfaced as a server-side failure, never retried silently.
var ErrStatsMissing = errors.New("daily stats record missing for date with active bookings")

// ErrTxConflict is returned once the bounded in-engine retry of storage
// conflicts is exhausted.
var ErrTxConflict = errors.New("storage transaction conflict, please retry")

var ruleViolations = []error{
	ErrAlreadyBooked,
	ErrSeatTaken,
	ErrWrongZone,
	ErrNotYourDesignatedDay,
	ErrTooEarly,
	ErrPoolExhausted,
	ErrHolidayUnavailable,
	ErrNothingToRelease,
}

// IsRuleViolation reports whether err is one of the booking rule
// violations (as opposed to a validation, consistency or storage error).
func IsRuleViolation(err error) bool {
	for _, rv := range ruleViolations {
		if errors.Is(err, rv) {
			return true
		}
	}
	return false
}

// ValidationError marks malformed or missing caller input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is caller input that can never
// succeed as submitted.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
