package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the boundary can tell "try again" from "fix your input".
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindIndexUnavailable ErrorKind = "index_unavailable"
	KindEmbedding        ErrorKind = "embedding"
	KindSynthesis        ErrorKind = "synthesis"
	KindIngest           ErrorKind = "ingest"
	KindNotFound         ErrorKind = "not_found"
	KindInternal         ErrorKind = "internal"
)

// DomainError is a classified error with optional structured details.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches any DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a detail to the error and returns it.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

func NewValidationError(message string) *DomainError {
	return newError(KindValidation, message, nil)
}

func NewIndexUnavailableError(message string, err error) *DomainError {
	return newError(KindIndexUnavailable, message, err)
}

func NewEmbeddingError(message string, err error) *DomainError {
	return newError(KindEmbedding, message, err)
}

func NewSynthesisError(message string, err error) *DomainError {
	return newError(KindSynthesis, message, err)
}

// NewIngestError reports a document that cannot be parsed or tagged. Ingest errors halt a rebuild.
func NewIngestError(path, message string, err error) *DomainError {
	return newError(KindIngest, message, err).WithDetail("path", path)
}

func NewNotFoundError(message string) *DomainError {
	return newError(KindNotFound, message, nil)
}

func WrapInternal(message string, err error) *DomainError {
	return newError(KindInternal, message, err)
}

// KindOf returns the kind of a wrapped DomainError, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// DetailsOf returns the details of a wrapped DomainError.
func DetailsOf(err error) map[string]any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsIndexUnavailable(err error) bool { return KindOf(err) == KindIndexUnavailable }
func IsEmbedding(err error) bool        { return KindOf(err) == KindEmbedding }
func IsSynthesis(err error) bool        { return KindOf(err) == KindSynthesis }
func IsIngest(err error) bool           { return KindOf(err) == KindIngest }
func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }

// Retryable reports whether the caller may reasonably retry the same request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindIndexUnavailable, KindEmbedding, KindSynthesis:
		return true
	}
	return false
}

// IsCanceled reports whether err stems from the caller going away, as opposed to a timeout.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
