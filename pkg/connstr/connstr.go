// Package connstr parses and resolves the compact connection-string grammar
// used to bind backend query connections.
//
// A connection string is a scheme prefix followed by an ordered sequence of
// keyword tokens, for example:
//
//	kusto://username('u').password('p').cluster('mycluster').database('mydb')
//	appinsights://appid('DEMO_APP').appkey('DEMO_KEY')
//	loganalytics://workspace('DEMO_WORKSPACE')
//
// Parsing is pure: it never prompts and never reads the environment. Filling
// in missing fields from a previous connection and interactive prompting is
// the job of Resolve.
package connstr

import (
	"regexp"
	"strings"

	"github.com/openkql/kqlgate/pkg/backends"
)

// ConnectionSpec holds the parsed, validated connection parameters for one
// backend kind. Fields not recognized by the kind's grammar stay empty.
type ConnectionSpec struct {
	Kind backends.BackendType

	Tenant         string
	Code           string
	ClientID       string
	ClientSecret   string
	Certificate    string
	CertThumbprint string
	Username       string
	Password       string
	Cluster        string
	Database       string
	AppID          string
	AppKey         string
	Workspace      string
}

// codePlaceholder is stored for a matched code() token; the device-code flow
// acquires the actual credential at token time.
const codePlaceholder = "<code>"

// Field returns the value of a grammar key.
func (s *ConnectionSpec) Field(key string) string {
	switch key {
	case backends.KeyTenant:
		return s.Tenant
	case backends.KeyCode:
		return s.Code
	case backends.KeyClientID:
		return s.ClientID
	case backends.KeyClientSecret:
		return s.ClientSecret
	case backends.KeyCertificate:
		return s.Certificate
	case backends.KeyCertThumbprint:
		return s.CertThumbprint
	case backends.KeyUsername:
		return s.Username
	case backends.KeyPassword:
		return s.Password
	case backends.KeyCluster:
		return s.Cluster
	case backends.KeyDatabase:
		return s.Database
	case backends.KeyAppID:
		return s.AppID
	case backends.KeyAppKey:
		return s.AppKey
	case backends.KeyWorkspace:
		return s.Workspace
	}
	return ""
}

func (s *ConnectionSpec) setField(key, value string) {
	switch key {
	case backends.KeyTenant:
		s.Tenant = value
	case backends.KeyCode:
		s.Code = value
	case backends.KeyClientID:
		s.ClientID = value
	case backends.KeyClientSecret:
		s.ClientSecret = value
	case backends.KeyCertificate:
		s.Certificate = value
	case backends.KeyCertThumbprint:
		s.CertThumbprint = value
	case backends.KeyUsername:
		s.Username = value
	case backends.KeyPassword:
		s.Password = value
	case backends.KeyCluster:
		s.Cluster = value
	case backends.KeyDatabase:
		s.Database = value
	case backends.KeyAppID:
		s.AppID = value
	case backends.KeyAppKey:
		s.AppKey = value
	case backends.KeyWorkspace:
		s.Workspace = value
	}
}

// MandatoryValue returns the value of the kind's mandatory key (the database
// for kusto, the app or workspace id for the draft backends).
func (s *ConnectionSpec) MandatoryValue() string {
	return s.Field(backends.MustGet(s.Kind).MandatoryKey)
}

// ClusterName returns the cluster, falling back to the scheme name for
// backends with a fixed endpoint.
func (s *ConnectionSpec) ClusterName() string {
	if s.Cluster != "" {
		return s.Cluster
	}
	return string(s.Kind)
}

// Equal reports whether two specs hold the same kind and field values.
func (s *ConnectionSpec) Equal(other *ConnectionSpec) bool {
	if other == nil || s.Kind != other.Kind {
		return false
	}
	for _, key := range backends.MustGet(s.Kind).GrammarKeys {
		if s.Field(key) != other.Field(key) {
			return false
		}
	}
	return true
}

func (s *ConnectionSpec) serialize() string {
	cap := backends.MustGet(s.Kind)
	var tokens []string
	for _, key := range cap.GrammarKeys {
		value := s.Field(key)
		if value == "" {
			continue
		}
		if key == backends.KeyCode {
			tokens = append(tokens, "code()")
			continue
		}
		tokens = append(tokens, key+"('"+value+"')")
	}
	return string(s.Kind) + "://" + strings.Join(tokens, ".")
}

// Canonical reconstructs the full connection string with fields in canonical
// declared order. Parsing it again yields an equal ConnectionSpec.
func (s *ConnectionSpec) Canonical() string {
	return s.serialize()
}

// BindIdentity returns the order-stable reuse key for this spec: the fully
// reconstructed representation of all resolved fields. Two connection strings
// that resolve to the same fields share one live connection.
func (s *ConnectionSpec) BindIdentity() string {
	return s.serialize()
}

// String renders the spec with secret fields masked.
func (s *ConnectionSpec) String() string {
	masked := *s
	if masked.Password != "" {
		masked.Password = "*****"
	}
	if masked.ClientSecret != "" {
		masked.ClientSecret = "*****"
	}
	if masked.AppKey != "" {
		masked.AppKey = "*****"
	}
	return masked.serialize()
}

// IsShorthand reports whether raw is a bare "name@cluster" reference to an
// already-established connection rather than a full connection string.
func IsShorthand(raw string) bool {
	raw = strings.TrimSpace(raw)
	return !strings.Contains(raw, "://") && strings.Contains(raw, "@")
}

// tokenPatterns matches one "keyword(value)" token with its leading
// delimiter, per grammar key. The key set is small and fixed, so all patterns
// are compiled up front.
var tokenPatterns = func() map[string]*regexp.Regexp {
	keys := map[string]struct{}{}
	for _, cap := range backends.All {
		for _, key := range cap.GrammarKeys {
			keys[key] = struct{}{}
		}
	}
	patterns := make(map[string]*regexp.Regexp, len(keys))
	for key := range keys {
		patterns[key] = regexp.MustCompile(`^(?P<delim>.?)` + key + `\((?P<value>.*?)\)(?P<rest>.*)$`)
	}
	return patterns
}()

// Parse tokenizes and validates a connection string for the given backend
// kind. The scheme prefix must match the kind (or one of its aliases).
// Parse performs grammar and cross-field validation only; use Resolve to
// apply inheritance, prompting and completeness checks.
func Parse(raw string, kind backends.BackendType) (*ConnectionSpec, error) {
	cap, ok := backends.Get(kind)
	if !ok {
		return nil, &UnknownSchemaError{Scheme: string(kind)}
	}

	raw = strings.TrimSpace(raw)
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return nil, NewParseError(kind, "must be prefixed by %q", string(kind)+"://")
	}
	schemeID, ok := backends.ParseID(raw[:idx])
	if !ok {
		return nil, &UnknownSchemaError{Scheme: raw[:idx]}
	}
	if schemeID != kind {
		return nil, NewParseError(kind, "must be prefixed by %q", string(kind)+"://")
	}
	rest := raw[idx+len("://"):]

	spec := &ConnectionSpec{Kind: kind}

	// Match tokens strictly in the canonical declared order. A "." delimiter
	// is required between two matched tokens and forbidden before the first.
	matched := false
	for _, key := range cap.GrammarKeys {
		m := tokenPatterns[key].FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		delim, value := m[1], m[2]
		if matched {
			if delim != "." {
				return nil, NewParseError(kind, "missing or wrong delimiter before %q", key)
			}
		} else if delim != "" {
			return nil, NewParseError(kind, "unexpected %q before first token", delim)
		}
		rest = m[3]
		matched = true

		parsed, err := parseTokenValue(kind, key, value)
		if err != nil {
			return nil, err
		}
		spec.setField(key, parsed)
	}

	if !matched || len(rest) > 0 {
		return nil, NewParseError(kind, "unrecognized text %q", rest)
	}

	if err := validateCredentialGroups(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// parseTokenValue unwraps a single-quoted value or accepts the literal
// "<keyword>" placeholder. code() takes no value.
func parseTokenValue(kind backends.BackendType, key, value string) (string, error) {
	value = strings.TrimSpace(value)
	if key == backends.KeyCode {
		if value != "" {
			return "", NewParseError(kind, "code() takes no value")
		}
		return codePlaceholder, nil
	}
	if len(value) >= 2 && strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
		return value[1 : len(value)-1], nil
	}
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		return value, nil
	}
	return "", NewParseError(kind, "value of %q must be single-quoted", key)
}

// validateCredentialGroups enforces the mutually exclusive credential groups.
func validateCredentialGroups(spec *ConnectionSpec) error {
	kind := spec.Kind

	if spec.Code != "" && (spec.ClientSecret != "" || spec.Username != "" || spec.Password != "" ||
		spec.Certificate != "" || spec.CertThumbprint != "") {
		return NewParseError(kind, "code cannot be combined with username, password, clientsecret, certificate or certificate_thumbprint")
	}
	if spec.ClientSecret != "" && spec.ClientID == "" {
		return NewParseError(kind, "clientsecret must be together with clientid")
	}
	if spec.ClientSecret != "" && (spec.Username != "" || spec.Password != "" ||
		spec.Certificate != "" || spec.CertThumbprint != "") {
		return NewParseError(kind, "clientsecret cannot be combined with username, password, certificate or certificate_thumbprint")
	}
	if spec.Password != "" && spec.Username == "" {
		return NewParseError(kind, "password must be together with username")
	}
	if spec.CertThumbprint != "" && spec.Certificate == "" {
		return NewParseError(kind, "certificate_thumbprint must be together with certificate")
	}
	return nil
}
