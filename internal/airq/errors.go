package airq

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks caller mistakes caught before any backend call.
	ErrInput = errors.New("invalid input")
	// ErrSuperseded is returned when a newer request replaced this one.
	ErrSuperseded = errors.New("request superseded by a newer one")
	// ErrIllegalTransition is returned for a view change the state machine forbids.
	ErrIllegalTransition = errors.New("illegal view transition")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrManualInputRequired is returned when a prediction needs readings
	// typed in by the user because the backend has none for the date.
	ErrManualInputRequired = errors.New("manual readings required")
)

func inputError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}
