package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
	"github.com/openkql/kqlgate/pkg/session"
)

// stubEngine serves canned response bodies instead of a backend.
type stubEngine struct {
	engine.Base
	kind backends.BackendType
	body string
}

func (e *stubEngine) Kind() backends.BackendType { return e.kind }

func (e *stubEngine) Execute(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error) {
	return response.Normalize([]byte(e.body), response.VersionV1)
}

type stubBuilder struct {
	kind backends.BackendType
	body string
}

func (b *stubBuilder) Kind() backends.BackendType { return b.kind }

func (b *stubBuilder) New(ctx context.Context, raw string, current *connstr.ConnectionSpec, deps engine.Deps) (engine.Engine, error) {
	spec, err := connstr.Parse(raw, b.kind)
	if err != nil {
		return nil, err
	}
	prompt := connstr.PrompterFunc(func(string) (string, error) { return "", nil })
	if err := connstr.Resolve(spec, current, prompt); err != nil {
		return nil, err
	}
	return &stubEngine{Base: engine.NewBase(spec), kind: b.kind, body: b.body}, nil
}

const goodBody = `{
	"Tables": [
		{"TableName": "Table_0",
			"Columns": [{"ColumnName": "Count", "DataType": "Int64"}],
			"Rows": [[42]]}
	]
}`

func newTestServer(t *testing.T, body string) *Server {
	t.Helper()
	registry := engine.NewRegistry()
	registry.Register(&stubBuilder{kind: backends.Kusto, body: body})

	cfg := config.New()
	cfg.Set(config.KeyValidateOnConnect, "false")
	sess := session.New(cfg, session.WithRegistry(registry))
	return NewServer(NewEngine(cfg, sess))
}

func postQuery(t *testing.T, srv *Server, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery(t *testing.T) {
	srv := newTestServer(t, goodBody)

	rec := postQuery(t, srv, `{
		"connection": "kusto://username('u').password('p').cluster('c1').database('d1')",
		"query": "MyTable | count"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "d1@c1", resp.Connection)
	require.Len(t, resp.Tables, 1)
	require.Len(t, resp.Tables[0].Rows, 1)
	assert.Equal(t, float64(42), resp.Tables[0].Rows[0][0])
}

func TestHandleQueryExpandsDescriptor(t *testing.T) {
	t.Setenv("KQLGATE_SRV_TEST_CLUSTER", "c1")
	srv := newTestServer(t, goodBody)

	rec := postQuery(t, srv, `{
		"connection": "kusto://username('u').password('p').cluster('$KQLGATE_SRV_TEST_CLUSTER').database('d1')",
		"query": "MyTable | count"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "d1@c1", resp.Connection, "env reference resolves before binding")
}

func TestHandleQuerySectionRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mykusto:
  user: u
  password: p
  cluster: c1
  database: d1
`), 0o600))

	srv := newTestServer(t, goodBody)
	srv.engine.config.Set(config.KeySettingsFile, path)

	rec := postQuery(t, srv, `{"connection": "[mykusto]", "query": "MyTable | count"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = postQuery(t, srv, `{"connection": "[absent]", "query": "MyTable | count"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryMalformedRows(t *testing.T) {
	// One declared column, two cells: rendering must fail loudly, not truncate.
	jagged := `{
		"Tables": [
			{"TableName": "Table_0",
				"Columns": [{"ColumnName": "Count", "DataType": "Int64"}],
				"Rows": [[42, "extra-cell"]]}
		]
	}`
	srv := newTestServer(t, jagged)

	rec := postQuery(t, srv, `{
		"connection": "kusto://username('u').password('p').cluster('c1').database('d1')",
		"query": "MyTable | count"
	}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed result table")
}

func TestHandleQueryErrorStatus(t *testing.T) {
	srv := newTestServer(t, goodBody)

	rec := postQuery(t, srv, `{"connection": "kusto://cluster('c1')database('d1')", "query": "q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "grammar violation")

	rec = postQuery(t, srv, `{"connection": "nosuch@cluster", "query": "q"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "dangling shorthand")

	rec = postQuery(t, srv, `{"query": "q"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no current connection")
}

func TestHandleConnections(t *testing.T) {
	srv := newTestServer(t, goodBody)

	rec := postQuery(t, srv, `{
		"connection": "kusto://username('u').password('p').cluster('c1').database('d1')",
		"query": ""
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	list := httptest.NewRecorder()
	srv.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)

	var payload struct {
		Connections []connectionPayload `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &payload))
	require.Len(t, payload.Connections, 1)
	assert.Equal(t, "d1@c1", payload.Connections[0].Name)
	assert.True(t, payload.Connections[0].Current)
}
