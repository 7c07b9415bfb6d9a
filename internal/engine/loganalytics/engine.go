// Package loganalytics implements the query engine for the
// workspace-analytics service.
package loganalytics

import (
	"context"

	"github.com/openkql/kqlgate/internal/engine/draft"
	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
)

// Engine is a bound workspace-analytics connection.
type Engine struct {
	engine.Base
	client *draft.Client
}

// Kind returns the backend type identifier.
func (e *Engine) Kind() backends.BackendType { return backends.LogAnalytics }

// Execute runs a query against the bound workspace.
func (e *Engine) Execute(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error) {
	return e.client.Execute(ctx, query, opts)
}

// Builder constructs loganalytics engines.
type Builder struct{}

// Kind returns the backend type identifier.
func (Builder) Kind() backends.BackendType { return backends.LogAnalytics }

// New parses and resolves the connection string and binds a draft client.
func (Builder) New(ctx context.Context, raw string, current *connstr.ConnectionSpec, deps engine.Deps) (engine.Engine, error) {
	spec, err := connstr.Parse(raw, backends.LogAnalytics)
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

	client, err := draft.NewClient(spec, deps)
	if err != nil {
		return nil, err
	}
	return &Engine{Base: engine.NewBase(spec), client: client}, nil
}

func init() {
	// Register the loganalytics engine with the global registry
	engine.Register(Builder{})
}
