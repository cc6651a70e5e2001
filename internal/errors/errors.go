// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientData      = errors.New("insufficient data")
	ErrInvalidCandles        = errors.New("invalid candle series")
	ErrUnknownTimeframe      = errors.New("unknown timeframe")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrLibraryLoad           = errors.New("pattern library could not be loaded")
	ErrNotFound              = errors.New("record not found")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	ErrCacheMiss             = errors.New("cache miss")
)

// DetectorError represents a failure inside a single pattern detector.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector error [%s]: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}

// NewDetectorError creates a new DetectorError.
func NewDetectorError(detector string, err error) *DetectorError {
	return &DetectorError{
		Detector: detector,
		Err:      err,
	}
}

// RepositoryError represents a failed call against the pattern repository.
type RepositoryError struct {
	Operation string
	ID        string
	Err       error
}

func (e *RepositoryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("repository error [%s] %s: %v", e.Operation, e.ID, e.Err)
	}
	return fmt.Sprintf("repository error [%s]: %v", e.Operation, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError creates a new RepositoryError.
func NewRepositoryError(operation, id string, err error) *RepositoryError {
	return &RepositoryError{
		Operation: operation,
		ID:        id,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation failures against ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a problem with an input series.
type DataError struct {
	Symbol  string
	Index   int
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] bar %d: %s: %v", e.Symbol, e.Index, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] bar %d: %s", e.Symbol, e.Index, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(symbol string, index int, message string, err error) *DataError {
	return &DataError{
		Symbol:  symbol,
		Index:   index,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
