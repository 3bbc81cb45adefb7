// Package errors provides centralized error handling with categories that
// map the pipeline's failure taxonomy: transient network failures are
// retried, auth failures are surfaced, configuration errors are fatal.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryNetwork       ErrorCategory = "network"        // transient I/O, retried
	CategoryAuth          ErrorCategory = "authentication" // credentials invalid/expired, surfaced
	CategoryConfiguration ErrorCategory = "configuration"  // fatal at startup
	CategoryLimit         ErrorCategory = "limit"          // queue full, resource exhaustion
	CategoryValidation    ErrorCategory = "validation"
	CategoryDatabase      ErrorCategory = "database"
	CategoryAudio         ErrorCategory = "audio-capture"
	CategoryRecognition   ErrorCategory = "recognition"
	CategoryScrobble      ErrorCategory = "scrobble"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryState         ErrorCategory = "state"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with category, component and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches on category when the target is also an EnhancedError,
// otherwise defers to standard unwrapping.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// ErrorCategory implements CategorizedError.
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// ErrorBuilder provides a fluent API for constructing enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new ErrorBuilder wrapping the given error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf creates a new ErrorBuilder from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name for the error.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair to the error context.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// NetworkContext adds common network request metadata.
func (eb *ErrorBuilder) NetworkContext(url string, timeout time.Duration) *ErrorBuilder {
	eb.Context("url", url)
	eb.Context("timeout_seconds", timeout.Seconds())
	return eb
}

// HTTPContext adds URL and response status metadata for HTTP failures.
func (eb *ErrorBuilder) HTTPContext(url string, statusCode int) *ErrorBuilder {
	eb.Context("url", url)
	eb.Context("status_code", statusCode)
	return eb
}

// Timing records how long the failing operation ran.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build finalizes the enhanced error.
func (eb *ErrorBuilder) Build() *EnhancedError {
	component := eb.component
	if component == "" {
		component = ComponentUnknown
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// HasCategory reports whether err (or anything it wraps) carries the
// given category.
func HasCategory(err error, category ErrorCategory) bool {
	for err != nil {
		if ce, ok := err.(CategorizedError); ok && ce.ErrorCategory() == category {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Standard library passthroughs so callers need only one errors import.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// NewStd creates a plain sentinel error.
func NewStd(text string) error { return stderrors.New(text) }
