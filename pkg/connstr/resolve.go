package connstr

import (
	"strings"

	"github.com/openkql/kqlgate/pkg/backends"
)

// Prompter supplies secrets interactively. Implementations must not echo the
// entered value.
type Prompter interface {
	Secret(prompt string) (string, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(prompt string) (string, error)

// Secret calls f.
func (f PrompterFunc) Secret(prompt string) (string, error) { return f(prompt) }

// Placeholder values that mean "ask for the real secret" rather than a
// literal. Comparison is case-insensitive.
var secretPlaceholders = map[string]struct{}{
	"<password>":     {},
	"<clientsecret>": {},
	"<appkey>":       {},
	"<thumbprint>":   {},
}

func isPlaceholder(value string) bool {
	_, ok := secretPlaceholders[strings.ToLower(value)]
	return ok
}

func emptyOrPlaceholder(value string) bool {
	return value == "" || isPlaceholder(value)
}

// Resolve completes a parsed spec in place: it checks the mandatory field,
// inherits the cluster and credential fields from the previous connection of
// the same kind, prompts for missing secrets through prompt, and verifies
// that exactly one credential group ends up usable.
//
// The mandatory field is never inherited: a new connection must always name
// its database (or app/workspace id) explicitly.
func Resolve(spec *ConnectionSpec, current *ConnectionSpec, prompt Prompter) error {
	cap := backends.MustGet(spec.Kind)

	if spec.Field(cap.MandatoryKey) == "" {
		return &MissingFieldError{Backend: spec.Kind, Field: cap.MandatoryKey}
	}

	if containsKey(cap.GrammarKeys, backends.KeyCluster) && spec.Cluster == "" {
		if current == nil || current.Cluster == "" {
			return &MissingFieldError{Backend: spec.Kind, Field: backends.KeyCluster}
		}
		spec.Cluster = current.Cluster
	}

	if spec.Kind == backends.Kusto {
		return resolveAADCredentials(spec, current, cap, prompt)
	}
	return resolveDraftCredentials(spec, current, cap, prompt)
}

// resolveAADCredentials applies the kusto credential fallback chain.
func resolveAADCredentials(spec *ConnectionSpec, current *ConnectionSpec, cap backends.Capability, prompt Prompter) error {
	// No credential-bearing field at all: inherit the previous connection's
	// credentials wholesale, or give up.
	if spec.Username == "" && spec.ClientID == "" && spec.Certificate == "" && spec.Code == "" {
		if current == nil {
			return &MissingFieldError{Backend: spec.Kind, Field: "credentials"}
		}
		for _, key := range cap.GrammarKeys {
			if key == cap.MandatoryKey {
				continue
			}
			if spec.Field(key) == "" {
				spec.setField(key, current.Field(key))
			}
		}
	}

	if spec.ClientID != "" && spec.Username == "" && spec.Certificate == "" && spec.Code == "" &&
		emptyOrPlaceholder(spec.ClientSecret) {
		secret, err := prompt.Secret("please enter clientsecret: ")
		if err != nil {
			return err
		}
		spec.ClientSecret = secret
	}

	if spec.Username != "" && emptyOrPlaceholder(spec.Password) {
		password, err := prompt.Secret("please enter password: ")
		if err != nil {
			return err
		}
		spec.Password = password
	}

	if spec.Certificate != "" && emptyOrPlaceholder(spec.CertThumbprint) {
		thumbprint, err := prompt.Secret("please enter certificate thumbprint: ")
		if err != nil {
			return err
		}
		spec.CertThumbprint = thumbprint
	}

	if spec.Code == "" && spec.ClientSecret == "" && spec.Password == "" && spec.CertThumbprint == "" {
		return &MissingFieldError{Backend: spec.Kind, Field: "credentials"}
	}
	return nil
}

// resolveDraftCredentials applies the two-field api-key model of the draft
// backends, with an AAD pair accepted as the alternative.
func resolveDraftCredentials(spec *ConnectionSpec, current *ConnectionSpec, cap backends.Capability, prompt Prompter) error {
	hasAAD := (spec.ClientID != "" && spec.ClientSecret != "") || spec.Code != ""

	if emptyOrPlaceholder(spec.AppKey) && !hasAAD {
		key, err := prompt.Secret("please enter appkey: ")
		if err != nil {
			return err
		}
		spec.AppKey = key
	}
	if spec.AppKey == "" && !hasAAD {
		return &MissingFieldError{Backend: spec.Kind, Field: "credentials"}
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
