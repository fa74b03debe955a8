package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"gofingerprint/domain/core"
)

// AppError represents a structured pipeline error carrying the numeric
// evidence that triggered it.
type AppError struct {
	Code     string
	Message  string
	Cause    error
	Evidence []core.Evidence
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Evidence) > 0 {
		parts := make([]string, len(e.Evidence))
		for i, ev := range e.Evidence {
			parts[i] = ev.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, evidence ...core.Evidence) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Evidence: evidence,
	}
}

// Wrap wraps an error with additional context, preserving the inner code
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode attaches a code to an error, keeping the original as cause
func WithCode(code string, err error, evidence ...core.Evidence) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:     code,
		Message:  err.Error(),
		Cause:    err,
		Evidence: evidence,
	}
}

// FromFinding converts a fatal finding into an error
func FromFinding(f core.Finding, cause error) *AppError {
	code := f.Code
	if code == "" {
		code = CodeInternalError
	}
	return &AppError{Code: code, Message: f.Message, Cause: cause, Evidence: f.Evidence}
}

// GetCode returns the outermost AppError code, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeInputInvalid       = "INPUT_INVALID"
	CodeNumerical          = "NUMERICAL_ERROR"
	CodeSanityFailed       = "SANITY_FAILED"
	CodeProvenanceMismatch = "PROVENANCE_MISMATCH"
	CodeCancelled          = "CANCELLED"
	CodeStorage            = "STORAGE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InputInvalid(message string, cause error) *AppError {
	return &AppError{Code: CodeInputInvalid, Message: message, Cause: cause}
}

func Numerical(message string, cause error, evidence ...core.Evidence) *AppError {
	return &AppError{Code: CodeNumerical, Message: message, Cause: cause, Evidence: evidence}
}

func SanityFailed(message string, evidence ...core.Evidence) *AppError {
	return &AppError{Code: CodeSanityFailed, Message: message, Cause: core.ErrCatastrophicMismatch, Evidence: evidence}
}

func ProvenanceMismatch(message string, cause error) *AppError {
	return &AppError{Code: CodeProvenanceMismatch, Message: message, Cause: cause}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
