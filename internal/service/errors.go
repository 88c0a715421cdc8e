package service

import (
	"errors"
	"fmt"

	"github.com/AdamBeresnev/cuptrack/internal/payload"
)

var (
	// ErrNotInitialized is returned by every operation on a Domain that was
	// never opened or has been closed.
	ErrNotInitialized = errors.New("domain store not initialized")

	ErrTournamentNotFound = errors.New("tournament not found")
)

// ValidationError reports bad input. It is never retried and its message is
// safe to show as is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// payloadFields maps payload wire names onto the input field names callers use.
var payloadFields = map[string]string{
	"start":  "startDate",
	"end":    "endDate",
	"charts": "chartIds",
}

// asValidationError converts a validate-stage payload error. Other errors
// are returned unchanged.
func asValidationError(err error) error {
	var pe *payload.Error
	if !errors.As(err, &pe) || pe.Stage != payload.StageValidate {
		return err
	}
	field := pe.Field
	if mapped, ok := payloadFields[field]; ok {
		field = mapped
	}
	return &ValidationError{Field: field, Reason: pe.Reason}
}
