package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified sync error.
type ErrorCode string

const (
	CodeMalformedRecord       ErrorCode = "malformed_record"
	CodeAuthenticationTimeout ErrorCode = "authentication_timeout"
	CodeTransientFetch        ErrorCode = "transient_fetch"
	CodePersistence           ErrorCode = "persistence"
	CodeExtractionExhausted   ErrorCode = "extraction_exhausted"
	CodeConfiguration         ErrorCode = "configuration"
	CodeCancelled             ErrorCode = "cancelled"
	CodeUnknown               ErrorCode = "unknown"
)

// SyncError is a structured error for sync failures.
type SyncError struct {
	Code     ErrorCode
	Platform string
	Stage    string
	Message  string
	Cause    error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Platform != "" {
		b.WriteString(": ")
		b.WriteString(e.Platform)
	}
	if e.Stage != "" {
		b.WriteString(": ")
		b.WriteString(e.Stage)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error's code.
func (e *SyncError) Is(target error) bool {
	sentinel := sentinelFor(e.Code)
	return sentinel != nil && sentinel == target
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeMalformedRecord:
		return ErrMalformedRecord
	case CodeAuthenticationTimeout:
		return ErrAuthenticationTimeout
	case CodeTransientFetch:
		return ErrTransientFetch
	case CodePersistence:
		return ErrPersistence
	case CodeExtractionExhausted:
		return ErrExtractionExhausted
	case CodeConfiguration:
		return ErrConfiguration
	}
	return nil
}

// MalformedRecord reports a source record that cannot become a canonical meeting.
func MalformedRecord(platform, message string) *SyncError {
	return &SyncError{Code: CodeMalformedRecord, Platform: platform, Stage: "normalize", Message: message}
}

// AuthenticationTimeout reports an expired manual login wait.
func AuthenticationTimeout(platform string, waited time.Duration) *SyncError {
	return &SyncError{
		Code:     CodeAuthenticationTimeout,
		Platform: platform,
		Stage:    "login",
		Message:  "no login detected after " + waited.String(),
	}
}

// TransientFetch wraps a fetch failure that exhausted its retries.
func TransientFetch(platform, stage string, cause error) *SyncError {
	return &SyncError{Code: CodeTransientFetch, Platform: platform, Stage: stage, Cause: cause}
}

// Persistence wraps a note write or state store failure.
func Persistence(platform, stage string, cause error) *SyncError {
	return &SyncError{Code: CodePersistence, Platform: platform, Stage: stage, Cause: cause}
}

// ExtractionExhausted reports that every strategy of a cascade failed on a page.
func ExtractionExhausted(platform, url string, tried []string) *SyncError {
	return &SyncError{
		Code:     CodeExtractionExhausted,
		Platform: platform,
		Stage:    "listing",
		Message:  fmt.Sprintf("no strategy matched at %s (tried: %s)", url, strings.Join(tried, ", ")),
	}
}

// Configuration reports invalid configuration.
func Configuration(message string, cause error) *SyncError {
	return &SyncError{Code: CodeConfiguration, Stage: "config", Message: message, Cause: cause}
}

// ClassifyError inspects an error and returns a *SyncError with the appropriate code.
// Errors that already carry a code are returned unchanged. Unrecognized errors
// become CodeUnknown.
func ClassifyError(err error, platform, stage string) *SyncError {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	out := &SyncError{Platform: platform, Stage: stage, Cause: err}

	if errors.Is(err, context.Canceled) {
		out.Code = CodeCancelled
		return out
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Code = CodeTransientFetch
		return out
	}
	if errors.Is(err, ErrReadOnly) {
		out.Code = CodePersistence
		return out
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			out.Code = CodeTransientFetch
			return out
		}
	}

	out.Code = CodeUnknown
	return out
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"service unavailable",
	"bad gateway",
	"eof",
}

// IsRetryableError returns true if the error is likely transient and worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return IsRetryable(ClassifyError(err, "", "").Code)
}

// CodeOf returns the classified code of err.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return ClassifyError(err, "", "").Code
}
