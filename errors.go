package vecbench

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig classifies invalid or unsupported configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrEmbedding classifies embedding provider failures.
	ErrEmbedding = errors.New("embedding failed")

	// ErrUnsupportedOperation classifies mutations a backend cannot perform.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUnknownBackend classifies registry misses.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrCorruptIndex classifies load-time structural validation failures.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrDimensionMismatch classifies vectors whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ConfigError indicates an invalid configuration value.
//
// It matches ErrConfig via errors.Is. The original underlying error (if any)
// can be accessed via errors.Unwrap.
type ConfigError struct {
	Field  string
	Reason string
	cause  error
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// WrapConfigError creates a ConfigError carrying cause.
func WrapConfigError(field string, cause error) *ConfigError {
	return &ConfigError{Field: field, Reason: cause.Error(), cause: cause}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error { return unwrapWith(ErrConfig, e.cause) }

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
//
// It matches both ErrDimensionMismatch and ErrConfig via errors.Is.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() []error {
	return []error{ErrDimensionMismatch, ErrConfig}
}

// EmbeddingError indicates an embedding provider failure or an inconsistent
// provider response. Attempts is the number of provider calls made for the
// failing batch.
type EmbeddingError struct {
	Model    string
	Attempts int
	Reason   string
	cause    error
}

// NewEmbeddingError creates an EmbeddingError.
func NewEmbeddingError(model string, attempts int, reason string, cause error) *EmbeddingError {
	return &EmbeddingError{Model: model, Attempts: attempts, Reason: reason, cause: cause}
}

func (e *EmbeddingError) Error() string {
	msg := fmt.Sprintf("embedding: model %q: %s", e.Model, e.Reason)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() []error { return unwrapWith(ErrEmbedding, e.cause) }

// UnsupportedOperationError indicates that a backend cannot perform Op.
type UnsupportedOperationError struct {
	Backend string
	Op      string
	Hint    string
}

func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s: %s is not supported", e.Backend, e.Op)
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

func (e *UnsupportedOperationError) Unwrap() error { return ErrUnsupportedOperation }

// UnknownBackendError indicates that no backend is registered for Kind.
type UnknownBackendError struct {
	Kind string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend %q", e.Kind)
}

func (e *UnknownBackendError) Unwrap() error { return ErrUnknownBackend }

// CorruptIndexError indicates a persisted index that failed validation.
type CorruptIndexError struct {
	Reason string
	cause  error
}

// NewCorruptIndexError creates a CorruptIndexError.
func NewCorruptIndexError(reason string, cause error) *CorruptIndexError {
	return &CorruptIndexError{Reason: reason, cause: cause}
}

func (e *CorruptIndexError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("corrupt index: %s: %v", e.Reason, e.cause)
	}
	return "corrupt index: " + e.Reason
}

func (e *CorruptIndexError) Unwrap() []error { return unwrapWith(ErrCorruptIndex, e.cause) }

func unwrapWith(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
