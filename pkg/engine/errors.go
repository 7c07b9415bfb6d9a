package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/response"
)

// Standard engine errors
var (
	// ErrConnectionNotFound is returned when a bare name@cluster reference
	// matches no registry entry.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNoCurrentConnection is returned when no descriptor was given and no
	// connection was established yet.
	ErrNoCurrentConnection = errors.New("no current connection set yet")

	// ErrBuilderNotFound is returned when no engine builder is registered
	// for a backend type.
	ErrBuilderNotFound = errors.New("engine builder not found")

	// ErrBackendQuery is returned when the backend rejects a query or the
	// response carries exceptions that the caller did not accept.
	ErrBackendQuery = errors.New("backend query failed")

	// ErrAuthFactorRequired marks a backend failure demanding an additional
	// authentication factor.
	ErrAuthFactorRequired = errors.New("multi-factor authentication required")

	// ErrValidationProbe marks a failed one-time connection probe. The
	// connection handle stays usable.
	ErrValidationProbe = errors.New("connection validation probe failed")
)

// QueryError wraps a backend query failure with the raw response and, when a
// 200 response carried exceptions, the partially-normalized result.
type QueryError struct {
	Backend    backends.BackendType
	StatusCode int
	Messages   []string
	Body       string
	Partial    *response.Unified
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("[%s] query failed: %s", e.Backend, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("[%s] query failed with status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Is checks the error against the query-failure sentinels.
func (e *QueryError) Is(target error) bool {
	if errors.Is(target, ErrBackendQuery) {
		return true
	}
	return errors.Is(target, ErrAuthFactorRequired) && e.IsAuthFactorError()
}

// HasPartialResults reports whether a normalized partial result is attached.
func (e *QueryError) HasPartialResults() bool {
	return e.Partial != nil
}

// IsAuthFactorError detects the multi-factor-required signal embedded in a
// backend error message.
func (e *QueryError) IsAuthFactorError() bool {
	text := e.Body + " " + strings.Join(e.Messages, " ")
	return strings.Contains(text, "AADSTS50079") && strings.Contains(text, "multi-factor authentication")
}

// IsAuthFactorError reports whether err carries the multi-factor-required
// signal.
func IsAuthFactorError(err error) bool {
	return errors.Is(err, ErrAuthFactorRequired)
}

// ConnectionNotFoundError reports a shorthand reference that matched nothing.
type ConnectionNotFoundError struct {
	Reference string
}

// Error implements the error interface.
func (e *ConnectionNotFoundError) Error() string {
	return fmt.Sprintf("connection %q not found; a \"database@cluster\" reference can be used only after the connection was established", e.Reference)
}

// Is checks if the error is ErrConnectionNotFound.
func (e *ConnectionNotFoundError) Is(target error) bool {
	return errors.Is(target, ErrConnectionNotFound)
}

// ProbeError wraps a failed validation probe. It is distinct from a failure
// of the user's own query and does not invalidate the connection handle.
type ProbeError struct {
	Connection string
	Cause      error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("validation probe failed for %s: %v", e.Connection, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error { return e.Cause }

// Is checks if the error is ErrValidationProbe.
func (e *ProbeError) Is(target error) bool {
	return errors.Is(target, ErrValidationProbe)
}
