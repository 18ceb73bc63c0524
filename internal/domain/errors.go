package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrExternalService    = errors.New("external service failure")
	ErrPublish            = errors.New("event publish failed")
	ErrConflict           = errors.New("order version conflict")
)

type ValidationError struct {
	Rule string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Rule
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return "order not found: " + e.OrderID
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError is returned when a state machine rejects a transition.
// Machine is "order" or "payment".
type InvalidTransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition from %s to %s", e.Machine, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type ProductUnavailableError struct {
	ProductID string
	Status    string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product not available: %s (status %s)", e.ProductID, e.Status)
}

func (e *ProductUnavailableError) Is(target error) bool { return target == ErrProductUnavailable }

// ExternalServiceError wraps a collaborator failure. Committed is true when the
// order identified by OrderID had already been persisted when the failure happened.
type ExternalServiceError struct {
	Operation string
	OrderID   string
	Committed bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	msg := e.Operation + " failed"
	if e.Committed {
		msg += " after order " + e.OrderID + " was committed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// PublishError is always raised after the store mutation it reports on.
type PublishError struct {
	Channel    Channel
	RoutingKey string
	OrderID    string
	Err        error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("publish to %s", e.Channel)
	if e.RoutingKey != "" {
		msg += " (" + e.RoutingKey + ")"
	}
	msg += " for order " + e.OrderID
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// ConflictError means the stored order no longer has the version that was read.
type ConflictError struct {
	OrderID string
	Version int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently (read version %d)", e.OrderID, e.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
