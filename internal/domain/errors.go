package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrExternalTransient = errors.New("external transient error")
	ErrExternalPermanent = errors.New("external permanent error")
	ErrChannel           = errors.New("channel error")
)

// ValidationError describes a malformed AnalysisRequest field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError is returned when a lifecycle operation does not apply to the job's status.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ErrorKind separates retryable collaborator failures from terminal ones.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

// ExternalError wraps a failure of a search, scoring, extraction or artifact collaborator.
type ExternalError struct {
	Collaborator string
	Kind         ErrorKind
	Err          error
}

func (e *ExternalError) Error() string {
	kind := "transient"
	if e.Kind == Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s %s failure: %v", e.Collaborator, kind, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func (e *ExternalError) Is(target error) bool {
	switch target {
	case ErrExternalTransient:
		return e.Kind == Transient
	case ErrExternalPermanent:
		return e.Kind == Permanent
	}
	return false
}

// TransientError marks err as retryable for the named collaborator.
func TransientError(collaborator string, err error) error {
	return &ExternalError{Collaborator: collaborator, Kind: Transient, Err: err}
}

// PermanentError marks err as non-retryable for the named collaborator.
func PermanentError(collaborator string, err error) error {
	return &ExternalError{Collaborator: collaborator, Kind: Permanent, Err: err}
}

// IsTransient reports whether err may succeed on retry. Timeouts count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExternalPermanent) {
		return false
	}
	return errors.Is(err, ErrExternalTransient) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorInfo is the aggregated failure attached to a FAILED job.
type ErrorInfo struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Entities map[string]string `json:"entities,omitempty"`
}

const (
	CodeAllEntitiesDegraded = "all_entities_degraded"
	CodeCancelled           = "cancelled"
	CodeInternal            = "internal"
)

// IsPermanent reports whether err must not be retried. Unclassified errors are not permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrExternalPermanent)
}
