// Package draft implements the shared HTTP client for the draft-style
// backends: a fixed HTTPS endpoint, a resource collection path segment, and
// an api-key or token Authorization header.
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
)

const (
	clientVersion = "0.2.0"
	apiVersion    = "v1"
)

// Client talks to one app/workspace of a draft-style backend.
type Client struct {
	backend    backends.BackendType
	apiURI     string
	domain     string
	id         string
	appkey     string
	tokens     engine.TokenProvider
	tokenReq   engine.TokenRequest
	httpClient *http.Client
}

// NewClient creates a draft client from a resolved connection spec. When no
// appkey is present the token provider covers authentication.
func NewClient(spec *connstr.ConnectionSpec, deps engine.Deps) (*Client, error) {
	cap := backends.MustGet(spec.Kind)

	c := &Client{
		backend:    spec.Kind,
		apiURI:     cap.APIEndpoint,
		domain:     cap.APIDomain,
		id:         spec.MandatoryValue(),
		appkey:     spec.AppKey,
		tokens:     deps.Tokens,
		httpClient: deps.HTTPClient,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.appkey == "" {
		if c.tokens == nil {
			return nil, fmt.Errorf("a token provider is required for %s connections without an appkey", spec.Kind)
		}
		c.tokenReq = engine.TokenRequestFor(spec, cap.APIEndpoint)
	}
	return c, nil
}

// isMetadata reports whether the query is the schema metadata request, which
// is routed to the metadata path instead of the query path.
func isMetadata(query string) bool {
	return strings.TrimSpace(query) == ".show schema"
}

// Execute runs a query, or fetches schema metadata for ".show schema".
func (c *Client) Execute(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error) {
	metadata := isMetadata(query)

	operation := "query"
	if metadata {
		operation = "metadata"
	}
	endpoint := fmt.Sprintf("%s/%s/%s/%s/%s", c.apiURI, apiVersion, c.domain, c.id, operation)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var req *http.Request
	var err error
	if metadata {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		var body []byte
		body, err = json.Marshal(map[string]string{"query": query})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-ms-client-version", "kqlgate.Go.Client:"+clientVersion)
	req.Header.Set("x-ms-client-request-id", "KGC.execute;"+uuid.NewString())

	if c.appkey != "" {
		req.Header.Set("x-api-key", c.appkey)
	} else {
		token, err := c.tokens.AcquireToken(ctx, c.tokenReq)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token: %w", err)
		}
		req.Header.Set("Authorization", token)
	}

	// Response thinning is disabled so results come back in the Tables-array
	// shape; the wait hint is soft and server-interpreted.
	prefer := []string{"ai.response-thinning=false"}
	if opts.Timeout > 0 {
		prefer = append(prefer, fmt.Sprintf("wait=%d", int(opts.Timeout.Seconds())))
	}
	req.Header.Set("Prefer", strings.Join(prefer, ", "))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &engine.QueryError{
			Backend:    c.backend,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var unified *response.Unified
	if metadata {
		// The schema document does not follow the query wire shape.
		unified, err = response.NormalizeSchema(raw)
	} else {
		unified, err = response.Normalize(raw, response.VersionV1)
	}
	if err != nil {
		return nil, err
	}
	if unified.HasExceptions() && !opts.AcceptPartial {
		return nil, &engine.QueryError{
			Backend:    c.backend,
			StatusCode: resp.StatusCode,
			Messages:   unified.Exceptions(),
			Partial:    unified,
		}
	}
	return unified, nil
}
