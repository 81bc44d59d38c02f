package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrNotFound            = errors.New("subscription not found")
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrDataGap             = errors.New("forecast does not cover the notification window")
	ErrPermanentEndpoint   = errors.New("push endpoint permanently invalid")
	ErrTransientDelivery   = errors.New("transient delivery failure")

	// ErrInvalidLocation is an ErrInvalidRegistration raised by ParseLocation.
	ErrInvalidLocation = fmt.Errorf("%w: location", ErrInvalidRegistration)
)

// ValidationError represents a field-level validation failure on a
// registration request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRegistration }

// StorageError wraps a fault raised by a SubscriptionRepository. Callers must
// not assume any part of the failed operation was applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
