package errors

import (
	"fmt"
)

// AppError represents a structured error raised by the testing pipeline
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code && t.Message == ""
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context, keeping the code of an AppError cause
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
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

// WithCode replaces the code of an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the code of the outermost AppError in the chain, or "UNKNOWN"
func GetCode(err error) string {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "UNKNOWN"
}

// Error codes
const (
	CodeDimensionMismatch    = "DIMENSION_MISMATCH"
	CodeNumericalInstability = "NUMERICAL_INSTABILITY"
	CodeUnsupportedTest      = "UNSUPPORTED_TEST"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConfigInvalid        = "CONFIG_INVALID"
	CodeEstimationFailed     = "ESTIMATION_FAILED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons against a code only.
var (
	ErrDimensionMismatch    = &AppError{Code: CodeDimensionMismatch}
	ErrNumericalInstability = &AppError{Code: CodeNumericalInstability}
	ErrUnsupportedTest      = &AppError{Code: CodeUnsupportedTest}
	ErrInvalidInput         = &AppError{Code: CodeInvalidInput}
)

func DimensionMismatch(format string, args ...interface{}) *AppError {
	return Newf(CodeDimensionMismatch, format, args...)
}

func NumericalInstability(format string, args ...interface{}) *AppError {
	return Newf(CodeNumericalInstability, format, args...)
}

func UnsupportedTest(name string) *AppError {
	return Newf(CodeUnsupportedTest, "unknown test type %q (supported: asym, boot)", name)
}

func InvalidInput(format string, args ...interface{}) *AppError {
	return Newf(CodeInvalidInput, format, args...)
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func EstimationFailed(cause error) *AppError {
	return &AppError{
		Code:    CodeEstimationFailed,
		Message: "null model estimation failed",
		Cause:   cause,
	}
}
