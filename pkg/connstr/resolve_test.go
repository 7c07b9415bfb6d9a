package connstr

import (
	"errors"
	"testing"

	"github.com/openkql/kqlgate/pkg/backends"
)

// noPrompt fails the test if resolution tries to prompt.
func noPrompt(t *testing.T) Prompter {
	t.Helper()
	return PrompterFunc(func(prompt string) (string, error) {
		t.Fatalf("unexpected prompt: %q", prompt)
		return "", nil
	})
}

// fixedPrompt answers every prompt with the same value and records the calls.
func fixedPrompt(answer string, calls *[]string) Prompter {
	return PrompterFunc(func(prompt string) (string, error) {
		*calls = append(*calls, prompt)
		return answer, nil
	})
}

func mustParse(t *testing.T, raw string, kind backends.BackendType) *ConnectionSpec {
	t.Helper()
	spec, err := Parse(raw, kind)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return spec
}

func TestResolveMissingDatabase(t *testing.T) {
	current := mustParse(t, "kusto://username('u').password('p').cluster('c1').database('d1')", backends.Kusto)

	// The mandatory field is never inherited, even with a complete previous
	// connection available.
	spec := mustParse(t, "kusto://cluster('c2')", backends.Kusto)
	err := Resolve(spec, current, noPrompt(t))
	if !errors.Is(err, ErrMissingDatabase) {
		t.Fatalf("err = %v, want ErrMissingDatabase", err)
	}

	spec = mustParse(t, "kusto://cluster('c2')", backends.Kusto)
	if err := Resolve(spec, nil, noPrompt(t)); !errors.Is(err, ErrMissingDatabase) {
		t.Fatalf("err = %v, want ErrMissingDatabase", err)
	}
}

func TestResolveMissingCluster(t *testing.T) {
	spec := mustParse(t, "kusto://username('u').password('p').database('d1')", backends.Kusto)
	err := Resolve(spec, nil, noPrompt(t))
	if !errors.Is(err, ErrMissingCluster) {
		t.Fatalf("err = %v, want ErrMissingCluster", err)
	}
}

func TestResolveInheritsCluster(t *testing.T) {
	current := mustParse(t, "kusto://username('u').password('p').cluster('c1').database('d1')", backends.Kusto)

	spec := mustParse(t, "kusto://username('u2').password('p2').database('d2')", backends.Kusto)
	if err := Resolve(spec, current, noPrompt(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Cluster != "c1" {
		t.Errorf("cluster = %q, want inherited c1", spec.Cluster)
	}
	if spec.Username != "u2" || spec.Password != "p2" {
		t.Errorf("own credentials must not be overwritten: %+v", spec)
	}
}

func TestResolveInheritsCredentialsWholesale(t *testing.T) {
	current := mustParse(t, "kusto://tenant('contoso').username('u').password('p').cluster('c1').database('d1')", backends.Kusto)

	spec := mustParse(t, "kusto://database('d2')", backends.Kusto)
	if err := Resolve(spec, current, noPrompt(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Username != "u" || spec.Password != "p" || spec.Tenant != "contoso" || spec.Cluster != "c1" {
		t.Errorf("credentials not inherited wholesale: %+v", spec)
	}
	if spec.Database != "d2" {
		t.Errorf("database = %q, want d2", spec.Database)
	}
}

func TestResolvePartialCredentialsDoNotInherit(t *testing.T) {
	current := mustParse(t, "kusto://username('u').password('p').cluster('c1').database('d1')", backends.Kusto)

	// A present credential group blocks inheritance, here clientid with a
	// missing secret triggers a prompt instead of borrowing u/p.
	var calls []string
	spec := mustParse(t, "kusto://clientid('app').cluster('c1').database('d2')", backends.Kusto)
	if err := Resolve(spec, current, fixedPrompt("prompted-secret", &calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Username != "" || spec.Password != "" {
		t.Errorf("username/password must not be inherited: %+v", spec)
	}
	if spec.ClientSecret != "prompted-secret" {
		t.Errorf("clientsecret = %q, want prompted value", spec.ClientSecret)
	}
	if len(calls) != 1 {
		t.Errorf("prompt calls = %d, want 1", len(calls))
	}
}

func TestResolveNoCredentialsNoCurrent(t *testing.T) {
	spec := mustParse(t, "kusto://cluster('c1').database('d1')", backends.Kusto)
	err := Resolve(spec, nil, noPrompt(t))
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestResolvePromptsForPlaceholders(t *testing.T) {
	tests := []struct {
		name          string
		connectionStr string
		check         func(*ConnectionSpec) string
	}{
		{
			name:          "password placeholder",
			connectionStr: "kusto://username('u').password(<password>).cluster('c1').database('d1')",
			check:         func(s *ConnectionSpec) string { return s.Password },
		},
		{
			name:          "password placeholder is case-insensitive",
			connectionStr: "kusto://username('u').password(<PassWord>).cluster('c1').database('d1')",
			check:         func(s *ConnectionSpec) string { return s.Password },
		},
		{
			name:          "missing password prompts",
			connectionStr: "kusto://username('u').cluster('c1').database('d1')",
			check:         func(s *ConnectionSpec) string { return s.Password },
		},
		{
			name:          "clientsecret placeholder",
			connectionStr: "kusto://clientid('a').clientsecret(<clientsecret>).cluster('c1').database('d1')",
			check:         func(s *ConnectionSpec) string { return s.ClientSecret },
		},
		{
			name:          "thumbprint placeholder",
			connectionStr: "kusto://certificate('cert.pem').certificate_thumbprint(<thumbprint>).cluster('c1').database('d1')",
			check:         func(s *ConnectionSpec) string { return s.CertThumbprint },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			spec := mustParse(t, tt.connectionStr, backends.Kusto)
			if err := Resolve(spec, nil, fixedPrompt("entered", &calls)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := tt.check(spec); got != "entered" {
				t.Errorf("secret = %q, want prompted value", got)
			}
			if len(calls) != 1 {
				t.Errorf("prompt calls = %d, want 1", len(calls))
			}
		})
	}
}

func TestResolveDeviceCodeNeedsNoSecret(t *testing.T) {
	spec := mustParse(t, "kusto://code().cluster('c1').database('d1')", backends.Kusto)
	if err := Resolve(spec, nil, noPrompt(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveDraftBackends(t *testing.T) {
	t.Run("appid never inherited", func(t *testing.T) {
		current := mustParse(t, "appinsights://appid('app1').appkey('k')", backends.AppInsights)
		spec := mustParse(t, "appinsights://appkey('k2')", backends.AppInsights)
		err := Resolve(spec, current, noPrompt(t))
		if !errors.Is(err, ErrMissingDatabase) {
			t.Fatalf("err = %v, want ErrMissingDatabase", err)
		}
	})

	t.Run("appkey placeholder prompts", func(t *testing.T) {
		var calls []string
		spec := mustParse(t, "appinsights://appid('DEMO_APP').appkey(<appkey>)", backends.AppInsights)
		if err := Resolve(spec, nil, fixedPrompt("real-key", &calls)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if spec.AppKey != "real-key" {
			t.Errorf("appkey = %q, want prompted value", spec.AppKey)
		}
	})

	t.Run("missing appkey prompts", func(t *testing.T) {
		var calls []string
		spec := mustParse(t, "loganalytics://workspace('DEMO_WORKSPACE')", backends.LogAnalytics)
		if err := Resolve(spec, nil, fixedPrompt("real-key", &calls)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if spec.AppKey != "real-key" {
			t.Errorf("appkey = %q, want prompted value", spec.AppKey)
		}
	})

	t.Run("aad pair needs no appkey", func(t *testing.T) {
		spec := mustParse(t, "loganalytics://clientid('a').clientsecret('s').workspace('w')", backends.LogAnalytics)
		if err := Resolve(spec, nil, noPrompt(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
