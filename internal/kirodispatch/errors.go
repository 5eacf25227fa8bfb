package kirodispatch

import (
	"fmt"

	"github.com/kirorelay/kirorelay/internal/util"
)

// ErrorCode discriminates the taxonomy of terminal dispatcher errors. All
// codes surface through the single DispatchError type; callers that need to
// branch on cause should switch on Code rather than parse Message.
type ErrorCode string

const (
	AcquireFailure         ErrorCode = "acquire_failure"
	HeaderBuildFailure     ErrorCode = "header_build_failure"
	NetworkFailure         ErrorCode = "network_failure"
	RequestRejected        ErrorCode = "request_rejected"
	AllCredentialsExhausted ErrorCode = "all_credentials_exhausted"
	UpstreamUnavailable    ErrorCode = "upstream_unavailable"
	RetriesExceeded        ErrorCode = "retries_exceeded"
)

// DispatchError is the single error type the dispatcher returns to callers.
// Distinctions between failure modes are carried in Message, not in further
// Go error types, matching the original provider's single anyhow::Error
// surface.
type DispatchError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
}

func (e *DispatchError) Error() string {
	return e.Message
}

// allCredentialsExhaustedError builds the terminal error for the attempt
// that just disabled the last non-disabled credential in the pool.
func allCredentialsExhaustedError(label string, status int, body string) *DispatchError {
	return &DispatchError{
		Code:       AllCredentialsExhausted,
		Message:    fmt.Sprintf("%s request failed (all credentials exhausted): %d %s", label, status, truncate(body)),
		HTTPStatus: status,
	}
}

func requestRejectedError(label string, status int, body string) *DispatchError {
	return &DispatchError{
		Code:       RequestRejected,
		Message:    fmt.Sprintf("%s request failed: %d %s", label, status, truncate(body)),
		HTTPStatus: status,
	}
}

func transientError(label string, status int, body string) *DispatchError {
	return &DispatchError{
		Code:       UpstreamUnavailable,
		Message:    fmt.Sprintf("%s request failed: %d %s", label, status, truncate(body)),
		HTTPStatus: status,
	}
}

// failoverError builds the error recorded for an attempt that failed a
// credential (quota exhaustion or auth failure) but left at least one other
// credential available, so the call continues onto the next attempt. It is
// only ever the value of lastErr going into the next loop iteration; it
// escapes to a caller solely if a later attempt runs out the cap without a
// success, in which case it reports the plain per-attempt failure rather
// than the stronger "all credentials exhausted" claim that only applies to
// the immediate-return branch when no credential remains.
func failoverError(label string, status int, body string) *DispatchError {
	return &DispatchError{
		Code:       UpstreamUnavailable,
		Message:    fmt.Sprintf("%s request failed: %d %s", label, status, truncate(body)),
		HTTPStatus: status,
	}
}

func networkError(label string, err error) *DispatchError {
	return &DispatchError{
		Code:    NetworkFailure,
		Message: fmt.Sprintf("%s request send failed: %v", label, err),
	}
}

func acquireError(label string, err error) *DispatchError {
	return &DispatchError{
		Code:    AcquireFailure,
		Message: fmt.Sprintf("%s could not acquire a usable credential: %v", label, err),
	}
}

func retriesExceededError(label string, attempts int) *DispatchError {
	return &DispatchError{
		Code:    RetriesExceeded,
		Message: fmt.Sprintf("%s request failed: reached max retries (%d)", label, attempts),
	}
}

// maxErrorBodyBytes caps how much of an error body we retain in memory and
// echo back in messages, avoiding unbounded allocation on pathological
// error bodies.
const maxErrorBodyBytes = 64 * 1024

// truncate caps an upstream error body and redacts any field name that
// looks like a credential or secret before the body is echoed into a
// message or log line.
func truncate(s string) string {
	redacted := string(util.RedactSensitiveJSON([]byte(s)))
	if len(redacted) <= maxErrorBodyBytes {
		return redacted
	}
	return redacted[:maxErrorBodyBytes] + "...(truncated)"
}
