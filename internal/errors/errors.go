// Package errors provides structured error types for the generation
// pipeline with error categories, stable codes, and template context.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of pipeline errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeCache      ErrorType = "cache"
	ErrorTypeResource   ErrorType = "resource"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Stable error codes surfaced in reports and logs.
const (
	ErrCodeCircularDependency = "CIRCULAR_DEPENDENCY"
	ErrCodeMissingDependency  = "MISSING_DEPENDENCY"
	ErrCodeDuplicateTemplate  = "DUPLICATE_TEMPLATE"
	ErrCodeInvalidTemplate    = "INVALID_TEMPLATE"
	ErrCodeRenderFailed       = "RENDER_FAILED"
	ErrCodeRenderTimeout      = "RENDER_TIMEOUT"
	ErrCodeRunTimeout         = "RUN_TIMEOUT"
	ErrCodeRunCancelled       = "RUN_CANCELLED"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
	ErrCodeCacheDecode        = "CACHE_DECODE"
	ErrCodeCachePersist       = "CACHE_PERSIST"
	ErrCodeConfigInvalid      = "CONFIG_INVALID"
	ErrCodePoolUnhealthy      = "POOL_UNHEALTHY"
)

// PipelineError is a structured error with pipeline context.
type PipelineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	TemplateID  string
	Recoverable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.TemplateID != "" {
		parts = append(parts, "template:"+e.TemplateID)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error { return e.Cause }

// Is implements error comparison by type and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithTemplate attaches template context to the error.
func (e *PipelineError) WithTemplate(id string) *PipelineError {
	e.TemplateID = id
	return e
}

// NewValidationError creates a structural validation error. Structural
// errors are fatal to the whole batch.
func NewValidationError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewRenderError wraps a renderer failure. Render errors are recoverable
// at the item level.
func NewRenderError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewCacheError wraps a cache failure. Cache errors are always treated as
// misses and never abort work.
func NewCacheError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeCache,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTimeoutError creates a timeout error for an item or a whole run.
func NewTimeoutError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeTimeout,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal pipeline error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsFatal reports whether err should abort the whole batch. Unknown error
// values are treated as recoverable.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return !pe.Recoverable
	}
	return false
}

// IsType reports whether err is a PipelineError of the given type.
func IsType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}
