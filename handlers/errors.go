package handlers

import (
	"errors"
	"net/http"

	"deskbook/services"

	"github.com/pocketbase/pocketbase/apis"
)

// mapServiceError translates engine errors into API responses. Rule
// violations and validation errors carry their message verbatim so the
// client sees the exact refusal reason.
func mapServiceError(err error) error {
	switch {
	case services.IsValidationError(err), services.IsRuleViolation(err):
		return apis.NewBadRequestError(err.Error(), err)
	case errors.Is(err, services.ErrStatsMissing):
		return apis.NewInternalServerError("Booking records are inconsistent, contact an admin", err)
	case errors.Is(err, services.ErrTxConflict):
		return apis.NewApiError(http.StatusServiceUnavailable, "Too much booking contention, please retry", err)
	default:
		return apis.NewInternalServerError("Something went wrong", err)
	}
}
