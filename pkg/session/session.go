// Package session holds the process-wide connection registry and the query
// dispatch path. A Session is an explicit context object: create one per
// process (or per notebook kernel), pass it by reference, and route every
// connection mutation through it.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/logger"

	// Backend engines register their builders at init time.
	_ "github.com/openkql/kqlgate/internal/engine/appinsights"
	_ "github.com/openkql/kqlgate/internal/engine/kusto"
	_ "github.com/openkql/kqlgate/internal/engine/loganalytics"
)

// Session is the connection registry: display names and bind identities map
// to live engines, and the last-used engine per backend kind is the
// credential-inheritance source for the next connection of that kind.
type Session struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *engine.Registry
	deps     engine.Deps

	mu         sync.Mutex
	names      map[string]engine.Engine
	byBind     map[string]engine.Engine
	nameCounts map[string]int
	current    engine.Engine
	lastByKind map[backends.BackendType]*connstr.ConnectionSpec
}

// Option configures a Session.
type Option func(*Session)

// WithPrompter sets the interactive secret prompter.
func WithPrompter(p connstr.Prompter) Option {
	return func(s *Session) { s.deps.Prompter = p }
}

// WithTokenProvider sets the authentication collaborator.
func WithTokenProvider(t engine.TokenProvider) Option {
	return func(s *Session) { s.deps.Tokens = t }
}

// WithHTTPClient sets the HTTP client shared by backend clients.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.deps.HTTPClient = c }
}

// WithRegistry replaces the global engine-builder registry.
func WithRegistry(r *engine.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New creates an empty session.
func New(cfg *config.Config, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Session{
		cfg:        cfg,
		log:        logger.New("session"),
		registry:   engine.GlobalRegistry(),
		names:      make(map[string]engine.Engine),
		byBind:     make(map[string]engine.Engine),
		nameCounts: make(map[string]int),
		lastByKind: make(map[backends.BackendType]*connstr.ConnectionSpec),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deps.Logger = s.log
	return s
}

// Config returns the session configuration store.
func (s *Session) Config() *config.Config { return s.cfg }

// GetOrCreate resolves a connection descriptor to a live engine, creating and
// registering one when needed.
//
// The descriptor may be a display name or bind identity of an existing
// connection, a bare "name@cluster" shorthand (existing connections only), a
// full connection string, or empty. An empty descriptor selects the current
// connection, falling back to the configured default connection string.
//
// Reconnecting with a connection string that resolves to an already-bound
// identity returns the existing engine; the registry gains no entry.
func (s *Session) GetOrCreate(ctx context.Context, descriptor string) (engine.Engine, error) {
	descriptor = strings.TrimSpace(descriptor)

	if descriptor == "" {
		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()
		if cur != nil {
			return cur, nil
		}
		descriptor = strings.TrimSpace(s.cfg.Get(config.KeyDefaultConnection))
		if descriptor == "" {
			return nil, engine.ErrNoCurrentConnection
		}
	}

	s.mu.Lock()
	if eng, ok := s.names[descriptor]; ok {
		s.setCurrentLocked(eng)
		s.mu.Unlock()
		return eng, nil
	}
	if eng, ok := s.byBind[descriptor]; ok {
		s.setCurrentLocked(eng)
		s.mu.Unlock()
		return eng, nil
	}
	s.mu.Unlock()

	if connstr.IsShorthand(descriptor) {
		return nil, &engine.ConnectionNotFoundError{Reference: descriptor}
	}

	idx := strings.Index(descriptor, "://")
	if idx < 0 {
		return nil, &connstr.UnknownSchemaError{Scheme: descriptor}
	}
	kind, ok := backends.ParseID(descriptor[:idx])
	if !ok {
		return nil, &connstr.UnknownSchemaError{Scheme: descriptor[:idx]}
	}

	builder, err := s.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	inherit := s.lastByKind[kind]
	s.mu.Unlock()

	eng, err := builder.New(ctx, descriptor, inherit, s.deps)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent reconnect: an existing binding wins and the freshly-built
	// engine is discarded.
	if existing, ok := s.byBind[eng.BindIdentity()]; ok {
		s.setCurrentLocked(existing)
		return existing, nil
	}

	name := s.assignNameLocked(eng.Name())
	eng.SetName(name)
	s.names[name] = eng
	s.byBind[eng.BindIdentity()] = eng
	s.setCurrentLocked(eng)
	s.log.Infof("connection %s established", name)
	return eng, nil
}

// SetCurrent makes an already-registered engine the current connection.
func (s *Session) SetCurrent(eng engine.Engine) {
	s.mu.Lock()
	s.setCurrentLocked(eng)
	s.mu.Unlock()
}

func (s *Session) setCurrentLocked(eng engine.Engine) {
	s.current = eng
	s.lastByKind[eng.Kind()] = eng.Spec()
}

// assignNameLocked returns the display name for a new connection, suffixing
// "_1", "_2", ... deterministically in first-come order on collision.
// Suffixes are never reused; there is no disconnect operation.
func (s *Session) assignNameLocked(base string) string {
	n := s.nameCounts[base]
	s.nameCounts[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// Current returns the current connection, or nil.
func (s *Session) Current() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Get returns a registered connection by display name.
func (s *Session) Get(name string) (engine.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, ok := s.names[name]
	return eng, ok
}

// List returns all display names in sorted order.
func (s *Session) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListFormatted returns the display names with the current connection marked
// with an asterisk.
func (s *Session) ListFormatted() []string {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	var out []string
	for _, name := range s.List() {
		eng, _ := s.Get(name)
		if eng == current {
			out = append(out, " * "+name)
		} else {
			out = append(out, "   "+name)
		}
	}
	return out
}
