package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrGeofenceViolation = errors.New("geofence violation")

	ErrVersionConflict    = fmt.Errorf("%w: stale version", ErrConflict)
	ErrAlreadyExists      = fmt.Errorf("%w: already exists", ErrConflict)
	ErrInvalidTransition  = fmt.Errorf("%w: illegal state transition", ErrConflict)
	ErrDisputeAlreadyOpen = fmt.Errorf("%w: a dispute is already open for this cheque", ErrConflict)
	ErrQuotaExhausted     = fmt.Errorf("%w: site quota or capacity exhausted", ErrConflict)
	ErrSignatureInvalid   = fmt.Errorf("%w: cheque signature does not verify", ErrConflict)
	ErrSiteBusy           = fmt.Errorf("%w: site has pending cheques", ErrConflict)
)

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// TransitionError reports a state change whose precondition does not hold.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s %s from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func ChequeTransitionError(c *Cheque, to ChequeStatus) *TransitionError {
	return &TransitionError{Entity: "cheque", ID: c.ID, From: string(c.Status), To: string(to)}
}

func DisputeTransitionError(d *Dispute, to DisputeStatus) *TransitionError {
	return &TransitionError{Entity: "dispute", ID: d.ID, From: string(d.Status), To: string(to)}
}

type GeofenceError struct {
	SiteID         string
	DistanceMeters float64
	RadiusMeters   float64
	Reason         string
}

func (e *GeofenceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("geofence check failed for site %s: %s", e.SiteID, e.Reason)
	}
	return fmt.Sprintf("position is %.0fm from site %s, allowed radius is %.0fm", e.DistanceMeters, e.SiteID, e.RadiusMeters)
}

func (e *GeofenceError) Unwrap() error {
	return ErrGeofenceViolation
}

type QuotaError struct {
	SiteID    string
	Requested int64
	Available int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("site %s can accept %d pallets, %d requested", e.SiteID, e.Available, e.Requested)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExhausted
}
