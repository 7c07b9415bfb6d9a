package connstr

import (
	"errors"
	"fmt"

	"github.com/openkql/kqlgate/pkg/backends"
)

// Standard connection-string errors
var (
	// ErrInvalidConnectionString is returned when the grammar is malformed.
	ErrInvalidConnectionString = errors.New("invalid connection string")

	// ErrUnknownSchema is returned when no backend matches the scheme prefix.
	ErrUnknownSchema = errors.New("unknown connection string schema")

	// ErrMissingCredentials is returned when no credential group can be resolved.
	ErrMissingCredentials = errors.New("credentials are not fully set")

	// ErrMissingCluster is returned when the cluster cannot be resolved.
	ErrMissingCluster = errors.New("cluster is not defined")

	// ErrMissingDatabase is returned when the mandatory database/resource field
	// is absent. It is never inherited from a previous connection.
	ErrMissingDatabase = errors.New("database is not defined")
)

// ParseError wraps a grammar violation with the backend it was parsed for.
type ParseError struct {
	Backend backends.BackendType
	Reason  string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s connection string: %s", e.Backend, e.Reason)
}

// Is checks if the error is ErrInvalidConnectionString.
func (e *ParseError) Is(target error) bool {
	return errors.Is(target, ErrInvalidConnectionString)
}

// NewParseError creates a new ParseError.
func NewParseError(backend backends.BackendType, format string, args ...interface{}) *ParseError {
	return &ParseError{Backend: backend, Reason: fmt.Sprintf(format, args...)}
}

// UnknownSchemaError reports an unrecognized scheme prefix.
type UnknownSchemaError struct {
	Scheme string
}

// Error implements the error interface.
func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema %q, valid schemas are: \"kusto://\", \"appinsights://\" and \"loganalytics://\"", e.Scheme)
}

// Is checks if the error is ErrUnknownSchema.
func (e *UnknownSchemaError) Is(target error) bool {
	return errors.Is(target, ErrUnknownSchema)
}

// MissingFieldError reports a structurally valid connection string that is
// semantically incomplete.
type MissingFieldError struct {
	Backend backends.BackendType
	Field   string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is not defined for %s connection", e.Field, e.Backend)
}

// Is maps the missing field onto the matching sentinel error.
func (e *MissingFieldError) Is(target error) bool {
	switch e.Field {
	case backends.KeyCluster:
		return errors.Is(target, ErrMissingCluster)
	case backends.KeyDatabase, backends.KeyAppID, backends.KeyWorkspace:
		return errors.Is(target, ErrMissingDatabase)
	default:
		return errors.Is(target, ErrMissingCredentials)
	}
}
