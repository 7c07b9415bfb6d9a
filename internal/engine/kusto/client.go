package kusto

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

	// Management commands go to the v1 endpoint, queries to v2.
	mgmtPath  = "/v1/rest/mgmt"
	queryPath = "/v2/rest/query"
)

// Client wraps the cluster's management/query REST pair.
type Client struct {
	clusterURL string
	tokens     engine.TokenProvider
	tokenReq   engine.TokenRequest
	httpClient *http.Client
}

// NewClient creates a cluster client from a resolved connection spec.
func NewClient(spec *connstr.ConnectionSpec, deps engine.Deps) (*Client, error) {
	if deps.Tokens == nil {
		return nil, fmt.Errorf("a token provider is required for %s connections", backends.Kusto)
	}

	cap := backends.MustGet(backends.Kusto)
	clusterURL := fmt.Sprintf(cap.ClusterURLFormat, spec.Cluster)
	if strings.Contains(spec.Cluster, "://") {
		// Already a full endpoint URL.
		clusterURL = strings.TrimSuffix(spec.Cluster, "/")
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		clusterURL: clusterURL,
		tokens:     deps.Tokens,
		tokenReq:   engine.TokenRequestFor(spec, clusterURL),
		httpClient: httpClient,
	}, nil
}

// Execute runs a query or management command against the given database.
// The endpoint and wire-format version follow the leading "." sigil.
func (c *Client) Execute(ctx context.Context, database, query string, opts engine.ExecOptions) (*response.Unified, error) {
	path, version := queryPath, response.VersionV2
	if strings.HasPrefix(strings.TrimSpace(query), ".") {
		path, version = mgmtPath, response.VersionV1
	}

	payload := map[string]interface{}{
		"db":  database,
		"csl": query,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clusterURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.AcquireToken(ctx, c.tokenReq)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire token: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ms-client-version", "kqlgate.Go.Client:"+clientVersion)
	req.Header.Set("x-ms-client-request-id", "KGC.execute;"+uuid.NewString())

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
			Backend:    backends.Kusto,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	unified, err := response.Normalize(raw, version)
	if err != nil {
		return nil, err
	}
	if unified.HasExceptions() && !opts.AcceptPartial {
		return nil, &engine.QueryError{
			Backend:    backends.Kusto,
			StatusCode: resp.StatusCode,
			Messages:   unified.Exceptions(),
			Partial:    unified,
		}
	}
	return unified, nil
}
