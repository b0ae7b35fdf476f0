package broker

import (
	"errors"
	"fmt"
)

// AuthenticationError is fatal for a login attempt and is never retried.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransientSessionError covers network blips and expired or forbidden sessions.
type TransientSessionError struct {
	Forbidden bool
	Err       error
}

func (e *TransientSessionError) Error() string {
	if e.Forbidden {
		return fmt.Sprintf("session forbidden: %v", e.Err)
	}

	return fmt.Sprintf("session error: %v", e.Err)
}

func (e *TransientSessionError) Unwrap() error {
	return e.Err
}

// ValidationError is raised locally before any venue call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type VenueRejection struct {
	Code   string
	Reason string
}

func (e *VenueRejection) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rejected by venue: %s", e.Reason)
	}

	return fmt.Sprintf("rejected by venue (%s): %s", e.Code, e.Reason)
}

var (
	ErrCannotTrade            = &ValidationError{Reason: "cannot trade now: adapter is not started"}
	ErrSessionUnavailable     = &ValidationError{Reason: "cannot trade now: session is not available"}
	ErrUnsupportedOrderType   = &ValidationError{Reason: "unsupported order type"}
	ErrInvalidQuantity        = &ValidationError{Reason: "order quantity must be greater than 0"}
	ErrInvalidPrice           = &ValidationError{Reason: "limit and stop orders require a price greater than 0"}
	ErrAmendNotSupported      = &ValidationError{Reason: "venue does not support amending protective orders"}
	ErrOrderNotFound          = &ValidationError{Reason: "order not found"}
	ErrMissingBrokerID        = &ValidationError{Reason: "order has not been acknowledged by the venue"}
	ErrInvalidStateTransition = fmt.Errorf("invalid state transition")
)

func NewAuthenticationError(err error) error {
	return &AuthenticationError{Err: err}
}

func NewTransientSessionError(err error, forbidden bool) error {
	return &TransientSessionError{Err: err, Forbidden: forbidden}
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsAuthentication(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientSessionError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *TransientSessionError
	return errors.As(err, &e) && e.Forbidden
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsVenueRejection(err error) bool {
	var e *VenueRejection
	return errors.As(err, &e)
}

// RejectReason gives the human readable reason carried in an OrderRejected event.
func RejectReason(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}

	var rejection *VenueRejection
	if errors.As(err, &rejection) {
		return rejection.Reason
	}

	return err.Error()
}
