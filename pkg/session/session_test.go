package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
)

// stubEngine executes queries against a canned script instead of a backend.
type stubEngine struct {
	engine.Base
	kind    backends.BackendType
	execute func(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error)
	calls   []string
}

func (e *stubEngine) Kind() backends.BackendType { return e.kind }

func (e *stubEngine) Execute(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error) {
	e.calls = append(e.calls, query)
	if e.execute != nil {
		return e.execute(ctx, query, opts)
	}
	return probeResult(), nil
}

// probeResult is a well-formed single-cell result matching the validation
// probe's expectation.
func probeResult() *response.Unified {
	body := `[
		{"FrameType": "DataTable", "TableName": "PrimaryResult", "TableKind": "PrimaryResult",
			"Columns": [{"ColumnName": "Count", "ColumnType": "long"}],
			"Rows": [[10]]}
	]`
	u, err := response.Normalize([]byte(body), response.VersionV2)
	if err != nil {
		panic(err)
	}
	return u
}

// stubBuilder parses and resolves for real, then wraps the spec in a
// stubEngine.
type stubBuilder struct {
	kind    backends.BackendType
	execute func(ctx context.Context, query string, opts engine.ExecOptions) (*response.Unified, error)
	built   int
}

func (b *stubBuilder) Kind() backends.BackendType { return b.kind }

func (b *stubBuilder) New(ctx context.Context, raw string, current *connstr.ConnectionSpec, deps engine.Deps) (engine.Engine, error) {
	spec, err := connstr.Parse(raw, b.kind)
	if err != nil {
		return nil, err
	}
	prompt := deps.Prompter
	if prompt == nil {
		prompt = connstr.PrompterFunc(func(string) (string, error) {
			return "", fmt.Errorf("no prompter configured")
		})
	}
	if err := connstr.Resolve(spec, current, prompt); err != nil {
		return nil, err
	}
	b.built++
	return &stubEngine{Base: engine.NewBase(spec), kind: b.kind, execute: b.execute}, nil
}

func newTestSession(t *testing.T, builders ...engine.Builder) (*Session, *config.Config) {
	t.Helper()
	registry := engine.NewRegistry()
	if len(builders) == 0 {
		builders = []engine.Builder{&stubBuilder{kind: backends.Kusto}}
	}
	for _, b := range builders {
		registry.Register(b)
	}
	cfg := config.New()
	cfg.Set(config.KeyValidateOnConnect, "false")
	return New(cfg, WithRegistry(registry)), cfg
}

func TestGetOrCreateAssignsName(t *testing.T) {
	sess, _ := newTestSession(t)

	eng, err := sess.GetOrCreate(context.Background(),
		"kusto://username('u').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)

	assert.Equal(t, "mydb@mycluster", eng.Name())
	assert.Same(t, eng, sess.Current())
	assert.Equal(t, []string{"mydb@mycluster"}, sess.List())
}

func TestGetOrCreateNameCollisionSuffixes(t *testing.T) {
	sess, _ := newTestSession(t)
	ctx := context.Background()

	// Same display name, different credentials: three distinct connections.
	first, err := sess.GetOrCreate(ctx, "kusto://username('u1').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)
	second, err := sess.GetOrCreate(ctx, "kusto://username('u2').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)
	third, err := sess.GetOrCreate(ctx, "kusto://username('u3').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)

	assert.Equal(t, "mydb@mycluster", first.Name())
	assert.Equal(t, "mydb@mycluster_1", second.Name())
	assert.Equal(t, "mydb@mycluster_2", third.Name())
	assert.Equal(t, []string{"mydb@mycluster", "mydb@mycluster_1", "mydb@mycluster_2"}, sess.List())
}

func TestGetOrCreateIdempotentReconnect(t *testing.T) {
	builder := &stubBuilder{kind: backends.Kusto}
	sess, _ := newTestSession(t, builder)
	ctx := context.Background()

	raw := "kusto://username('u').password('p').cluster('mycluster').database('mydb')"
	first, err := sess.GetOrCreate(ctx, raw)
	require.NoError(t, err)

	// Whitespace inside the value: a different raw string that resolves to the
	// same bind identity. The builder runs and its product is discarded.
	varied := "kusto://username('u').password('p').cluster('mycluster').database( 'mydb' )"
	second, err := sess.GetOrCreate(ctx, varied)
	require.NoError(t, err)

	assert.Same(t, first, second, "same bind identity must return the same handle")
	assert.Equal(t, []string{"mydb@mycluster"}, sess.List(), "reconnect must not add an entry")
	assert.Equal(t, 2, builder.built, "the builder runs, its product is discarded")

	// The exact canonical string short-circuits on the identity lookup without
	// building at all.
	third, err := sess.GetOrCreate(ctx, raw)
	require.NoError(t, err)
	assert.Same(t, first, third)
	assert.Equal(t, 2, builder.built, "a canonical descriptor reuses the handle without rebuilding")
}

func TestGetOrCreateByNameAndShorthand(t *testing.T) {
	sess, _ := newTestSession(t)
	ctx := context.Background()

	eng, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)

	// Switch away, then back by name.
	_, err = sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('mycluster').database('otherdb')")
	require.NoError(t, err)
	assert.NotSame(t, eng, sess.Current())

	byName, err := sess.GetOrCreate(ctx, "mydb@mycluster")
	require.NoError(t, err)
	assert.Same(t, eng, byName)
	assert.Same(t, eng, sess.Current())
}

func TestGetOrCreateShorthandNotFound(t *testing.T) {
	sess, _ := newTestSession(t)

	_, err := sess.GetOrCreate(context.Background(), "mydb@mycluster")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConnectionNotFound)

	var notFound *engine.ConnectionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "mydb@mycluster", notFound.Reference)
}

func TestGetOrCreateNoCurrentConnection(t *testing.T) {
	sess, _ := newTestSession(t)

	_, err := sess.GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, engine.ErrNoCurrentConnection)
}

func TestGetOrCreateEmptyUsesCurrentThenDefault(t *testing.T) {
	sess, cfg := newTestSession(t)
	ctx := context.Background()

	cfg.Set(config.KeyDefaultConnection,
		"kusto://username('u').password('p').cluster('defcluster').database('defdb')")

	eng, err := sess.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "defdb@defcluster", eng.Name())

	// With a current connection set, the default is no longer consulted.
	other, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('c2').database('d2')")
	require.NoError(t, err)
	got, err := sess.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.Same(t, other, got)
}

func TestGetOrCreateUnknownScheme(t *testing.T) {
	sess, _ := newTestSession(t)

	_, err := sess.GetOrCreate(context.Background(), "postgres://database('d')")
	assert.ErrorIs(t, err, connstr.ErrUnknownSchema)

	_, err = sess.GetOrCreate(context.Background(), "not a descriptor at all")
	assert.ErrorIs(t, err, connstr.ErrUnknownSchema)
}

func TestGetOrCreateInheritsFromLastOfKind(t *testing.T) {
	sess, _ := newTestSession(t)
	ctx := context.Background()

	_, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('mycluster').database('mydb')")
	require.NoError(t, err)

	// Only the database given: cluster and credentials carry over.
	eng, err := sess.GetOrCreate(ctx, "kusto://database('otherdb')")
	require.NoError(t, err)
	assert.Equal(t, "otherdb@mycluster", eng.Name())
	assert.Equal(t, "u", eng.Spec().Username)
}

func TestErrorGuidance(t *testing.T) {
	sess, _ := newTestSession(t)
	ctx := context.Background()

	_, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('c1').database('d1')")
	require.NoError(t, err)

	// Grammar violations get the expected-format text plus the listing.
	_, err = sess.GetOrCreate(ctx, "kusto://cluster('c1')database('d1')")
	require.Error(t, err)
	guidance := sess.ErrorGuidance(err)
	assert.Contains(t, guidance, "kusto connection strings:")
	assert.Contains(t, guidance, " * d1@c1")

	// So do incomplete connection strings, keyed by their backend.
	spec, err := connstr.Parse("appinsights://appid('DEMO_APP')", backends.AppInsights)
	require.NoError(t, err)
	err = connstr.Resolve(spec, nil, connstr.PrompterFunc(func(string) (string, error) { return "", nil }))
	require.ErrorIs(t, err, connstr.ErrMissingCredentials)
	assert.Contains(t, sess.ErrorGuidance(err), "appinsights connection strings:")

	// A dangling shorthand reference gets the connection listing.
	_, err = sess.GetOrCreate(ctx, "nosuch@cluster")
	require.Error(t, err)
	guidance = sess.ErrorGuidance(err)
	assert.Contains(t, guidance, "established connections:")
	assert.Contains(t, guidance, "d1@c1")

	// Unrelated errors get nothing.
	assert.Empty(t, sess.ErrorGuidance(fmt.Errorf("boom")))
}

func TestListFormattedMarksCurrent(t *testing.T) {
	sess, _ := newTestSession(t)
	ctx := context.Background()

	_, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('c1').database('d1')")
	require.NoError(t, err)
	cur, err := sess.GetOrCreate(ctx, "kusto://username('u').password('p').cluster('c1').database('d2')")
	require.NoError(t, err)
	require.Same(t, cur, sess.Current())

	assert.Equal(t, []string{"   d1@c1", " * d2@c1"}, sess.ListFormatted())
}
