package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeRasterization ErrorType = "rasterization"
	ErrorTypeStage         ErrorType = "stage"
	ErrorTypePersistence   ErrorType = "persistence"
	ErrorTypeArchiving     ErrorType = "archiving"
)

// ErrNotFound is returned by stores when a task or page record does not exist.
var ErrNotFound = errors.New("record not found")

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether err (or anything it wraps) is a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Type == errType {
			return true
		}
		err = de.Err
	}
	return false
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func NotFoundError(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, ErrNotFound)
}

// RasterizationError is fatal to the task: no page pipeline can run without a page count.
func RasterizationError(message string, err error) *DomainError {
	return NewError(ErrorTypeRasterization, message, err)
}

// StageInvocationError is isolated to one page and one stage.
func StageInvocationError(message string, err error) *DomainError {
	return NewError(ErrorTypeStage, message, err)
}

// PersistenceError is logged and tolerated by the pipeline.
func PersistenceError(message string, err error) *DomainError {
	return NewError(ErrorTypePersistence, message, err)
}

// ArchivingError is fatal to the task but leaves the per-page artifacts on disk.
func ArchivingError(message string, err error) *DomainError {
	return NewError(ErrorTypeArchiving, message, err)
}

// FailureKind classifies why a stage invocation failed.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureHTTPStatus  FailureKind = "http_status"
	FailureEmptyOutput FailureKind = "empty_output"
	FailureTransport   FailureKind = "transport"
	FailureCanceled    FailureKind = "canceled"
	FailureInput       FailureKind = "input"
	FailureSkipped     FailureKind = "skipped"
	FailureWrite       FailureKind = "write"
	FailurePanic       FailureKind = "panic"
	FailureUnknown     FailureKind = "unknown"
)

// StageError is the single normalized error returned by OCR and Translate clients.
type StageError struct {
	Stage      Stage
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s stage failed (%s)", e.Stage, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError, deriving the kind from err when kind is empty.
func NewStageError(stage Stage, kind FailureKind, statusCode int, err error) *StageError {
	if kind == "" {
		kind = FailureKindOf(err)
	}
	return &StageError{Stage: stage, Kind: kind, StatusCode: statusCode, Err: err}
}

// FailureKindOf maps an arbitrary error onto a FailureKind.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return FailureTimeout
	}

	if IsType(err, ErrorTypeValidation) || IsType(err, ErrorTypeIO) {
		return FailureInput
	}

	return FailureTransport
}
