// Package kusto implements the query engine for the distributed
// log/telemetry store.
package kusto

import (
	"context"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
)

// Engine is a bound kusto connection.
type Engine struct {
	engine.Base
	client *Client
}

// Kind returns the backend type identifier.
func (e *Engine) Kind() backends.BackendType { return backends.Kusto }

// Execute runs a query against the bound database.
func (e *Engine) Execute(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error) {
	return e.client.Execute(ctx, e.Database(), query, opts)
}

// Builder constructs kusto engines.
type Builder struct{}

// Kind returns the backend type identifier.
func (Builder) Kind() backends.BackendType { return backends.Kusto }

// New parses and resolves the connection string and binds a cluster client.
// Construction fails atomically; a partially-valid engine is never returned.
func (Builder) New(ctx context.Context, raw string, current *connstr.ConnectionSpec, deps engine.Deps) (engine.Engine, error) {
	spec, err := connstr.Parse(raw, backends.Kusto)
	if err != nil {
		return nil, err
	}

	prompter := deps.Prompter
	if prompter == nil {
		prompter = connstr.TermPrompter{}
	}
	if err := connstr.Resolve(spec, current, prompter); err != nil {
		return nil, err
	}

	client, err := NewClient(spec, deps)
	if err != nil {
		return nil, err
	}
	return &Engine{Base: engine.NewBase(spec), client: client}, nil
}

func init() {
	// Register the kusto engine with the global registry
	engine.Register(Builder{})
}
