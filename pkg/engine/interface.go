// Package engine defines the unified interface all backend query engines
// implement, the engine registry, and the shared error taxonomy.
package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/logger"
	"github.com/openkql/kqlgate/pkg/response"
)

// ValidationState is the tri-state result of the one-time probe query.
type ValidationState int

const (
	ValidationUnknown ValidationState = iota
	ValidationPassed
	ValidationFailed
)

// ExecOptions control a single query execution.
type ExecOptions struct {
	// AcceptPartial returns results carrying exceptions instead of failing.
	AcceptPartial bool

	// Timeout is forwarded to the backend as a soft server-side wait hint
	// and applied as the HTTP client timeout. Zero means no timeout.
	Timeout time.Duration
}

// Engine is a live, bound connection to one backend.
type Engine interface {
	// Kind returns the backend type this engine talks to.
	Kind() backends.BackendType

	// Database returns the bound database (or app/workspace id).
	Database() string

	// Cluster returns the bound cluster, or the scheme name for backends
	// with a fixed endpoint.
	Cluster() string

	// Name returns the assigned display name, "database@cluster" style.
	// SetName assigns it; the connection registry calls it exactly once.
	Name() string
	SetName(name string)

	// BindIdentity returns the canonical reuse key for this connection.
	BindIdentity() string

	// Spec returns the resolved connection parameters.
	Spec() *connstr.ConnectionSpec

	// Execute runs a query and normalizes the response.
	Execute(ctx context.Context, query string, opts ExecOptions) (*response.Unified, error)

	// Validated reports the probe state; SetValidated records it.
	Validated() ValidationState
	SetValidated(ok bool)

	// OptionSet and MarkOption track once-per-connection flags.
	OptionSet(name string) bool
	MarkOption(name string)
}

// TokenProvider is the external authentication collaborator: it turns a
// credential group into an Authorization header value. Implementations own
// token caching and refresh.
type TokenProvider interface {
	AcquireToken(ctx context.Context, req TokenRequest) (string, error)
}

// AuthMode selects which credential group a token request uses.
type AuthMode string

const (
	AuthUserPassword AuthMode = "userpassword"
	AuthClientSecret AuthMode = "clientsecret"
	AuthCertificate  AuthMode = "certificate"
	AuthDeviceCode   AuthMode = "devicecode"
)

// TokenRequest carries the resolved credential fields for one token
// acquisition.
type TokenRequest struct {
	Mode     AuthMode
	Resource string
	Tenant   string

	ClientID       string
	ClientSecret   string
	Certificate    string
	CertThumbprint string
	Username       string
	Password       string
}

// AuthModeFor derives the auth mode from a resolved spec's credential group.
func AuthModeFor(spec *connstr.ConnectionSpec) AuthMode {
	switch {
	case spec.Username != "" && spec.Password != "":
		return AuthUserPassword
	case spec.ClientID != "" && spec.ClientSecret != "":
		return AuthClientSecret
	case spec.ClientID != "" && spec.Certificate != "":
		return AuthCertificate
	default:
		return AuthDeviceCode
	}
}

// TokenRequestFor builds a token request from a resolved spec.
func TokenRequestFor(spec *connstr.ConnectionSpec, resource string) TokenRequest {
	return TokenRequest{
		Mode:           AuthModeFor(spec),
		Resource:       resource,
		Tenant:         spec.Tenant,
		ClientID:       spec.ClientID,
		ClientSecret:   spec.ClientSecret,
		Certificate:    spec.Certificate,
		CertThumbprint: spec.CertThumbprint,
		Username:       spec.Username,
		Password:       spec.Password,
	}
}

// Deps carries the collaborators injected into engine builders.
type Deps struct {
	Prompter   connstr.Prompter
	Tokens     TokenProvider
	Logger     *logger.Logger
	HTTPClient *http.Client
}

// Base implements the bookkeeping shared by all engines. Embed it and supply
// Kind/Execute.
type Base struct {
	spec *connstr.ConnectionSpec

	mu        sync.Mutex
	name      string
	validated ValidationState
	options   map[string]bool
}

// NewBase creates the shared engine state for a resolved spec.
func NewBase(spec *connstr.ConnectionSpec) Base {
	return Base{spec: spec, options: make(map[string]bool)}
}

// Spec returns the resolved connection parameters.
func (b *Base) Spec() *connstr.ConnectionSpec { return b.spec }

// Database returns the mandatory bound resource.
func (b *Base) Database() string { return b.spec.MandatoryValue() }

// Cluster returns the bound cluster name.
func (b *Base) Cluster() string { return b.spec.ClusterName() }

// BindIdentity returns the canonical reuse key.
func (b *Base) BindIdentity() string { return b.spec.BindIdentity() }

// Name returns the assigned display name, defaulting to database@cluster.
func (b *Base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.name != "" {
		return b.name
	}
	return b.spec.MandatoryValue() + "@" + b.spec.ClusterName()
}

// SetName assigns the display name. The registry calls this once, when the
// connection is inserted.
func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Validated reports the probe state.
func (b *Base) Validated() ValidationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validated
}

// SetValidated records the probe result.
func (b *Base) SetValidated(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.validated = ValidationPassed
	} else {
		b.validated = ValidationFailed
	}
}

// OptionSet reports whether a once-per-connection flag was marked.
func (b *Base) OptionSet(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.options[name]
}

// MarkOption marks a once-per-connection flag.
func (b *Base) MarkOption(name string) {
	b.mu.Lock()
	b.options[name] = true
	b.mu.Unlock()
}
