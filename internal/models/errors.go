package models

import (
	"errors"
	"fmt"
)

// Error variables shared across the model layer. Persistence and worker code
// matches on these with errors.Is to decide whether a document is skippable.
var (
	ErrMissingField       = errors.New("required field is missing")
	ErrInvalidField       = errors.New("field value is invalid")
	ErrFailingModelUpgrade = errors.New("model upgrade cannot reach current version")
	ErrUnknownObjectType  = errors.New("unknown object type")
	ErrUnknownActionType  = errors.New("unknown action type")
	ErrMissingData        = errors.New("referenced participant data is missing")
)

// FieldError reports a validation failure for one field of one document type.
// It wraps ErrMissingField or ErrInvalidField so callers can errors.Is on the
// category while still logging the precise field.
type FieldError struct {
	ObjectType string
	Field      string
	Reason     string
	kind       error
}

// NewMissingFieldError creates a FieldError wrapping ErrMissingField.
func NewMissingFieldError(objectType, field string) *FieldError {
	return &FieldError{ObjectType: objectType, Field: field, kind: ErrMissingField}
}

// NewInvalidFieldError creates a FieldError wrapping ErrInvalidField.
func NewInvalidFieldError(objectType, field, reason string) *FieldError {
	return &FieldError{ObjectType: objectType, Field: field, Reason: reason, kind: ErrInvalidField}
}

func (e *FieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: field %q of %s: %s", e.kind, e.Field, e.ObjectType, e.Reason)
	}
	return fmt.Sprintf("%s: field %q of %s", e.kind, e.Field, e.ObjectType)
}

func (e *FieldError) Unwrap() error { return e.kind }

// UpgradeError reports a document whose version chain cannot reach the
// current model version.
type UpgradeError struct {
	ObjectType  string
	FromVersion string
	Target      string
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("%s: %s version %q cannot be upgraded to %q", ErrFailingModelUpgrade, e.ObjectType, e.FromVersion, e.Target)
}

func (e *UpgradeError) Unwrap() error { return ErrFailingModelUpgrade }
