// Package settings turns external configuration - environment variables and
// YAML settings files - into connection strings.
package settings

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openkql/kqlgate/pkg/backends"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandConnectionToken substitutes $NAME and ${NAME} references in a
// connection descriptor with environment values. References to unset
// variables stay untouched so the grammar error points at the real token.
func ExpandConnectionToken(token string) string {
	return envVarPattern.ReplaceAllStringFunc(token, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimPrefix(strings.TrimSuffix(name, "}"), "{")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// ResolveDescriptor prepares a raw connection descriptor for the session:
// environment references are expanded and "[section]" references are rendered
// from the settings file at the given path. Every entry point that accepts a
// descriptor routes through here so the substitution rules stay uniform.
func ResolveDescriptor(settingsPath, descriptor string) (string, error) {
	descriptor = ExpandConnectionToken(strings.TrimSpace(descriptor))
	if IsSectionRef(descriptor) {
		return LoadSection(settingsPath, SectionName(descriptor))
	}
	return descriptor, nil
}

// IsSectionRef reports whether a descriptor is a settings-file section
// reference of the form "[section]".
func IsSectionRef(descriptor string) bool {
	return len(descriptor) > 2 && strings.HasPrefix(descriptor, "[") && strings.HasSuffix(descriptor, "]")
}

// SectionName strips the surrounding brackets from a section reference.
func SectionName(descriptor string) string {
	return strings.TrimSuffix(strings.TrimPrefix(descriptor, "["), "]")
}

// keyAliases maps settings-file spellings to grammar keys.
var keyAliases = map[string]string{
	"user":       backends.KeyUsername,
	"tenantid":   backends.KeyTenant,
	"thumbprint": backends.KeyCertThumbprint,
}

// LoadSection reads a named section from a YAML settings file and renders it
// as a connection string. The backend is inferred from the keys present:
// appid selects appinsights, workspace selects loganalytics, anything else
// is kusto.
func LoadSection(path, section string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read settings file: %w", err)
	}

	var sections map[string]map[string]string
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return "", fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	values, ok := sections[section]
	if !ok {
		available := make([]string, 0, len(sections))
		for name := range sections {
			available = append(available, name)
		}
		sort.Strings(available)
		return "", fmt.Errorf("section %q not found in %s (have: %s)", section, path, strings.Join(available, ", "))
	}

	return renderSection(values)
}

func renderSection(values map[string]string) (string, error) {
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.ToLower(strings.TrimSpace(key))
		if canonical, ok := keyAliases[key]; ok {
			key = canonical
		}
		normalized[key] = value
	}

	kind := backends.Kusto
	if _, ok := normalized[backends.KeyAppID]; ok {
		kind = backends.AppInsights
	} else if _, ok := normalized[backends.KeyWorkspace]; ok {
		kind = backends.LogAnalytics
	}

	cap := backends.MustGet(kind)
	var parts []string
	for _, key := range cap.GrammarKeys {
		value, ok := normalized[key]
		if !ok {
			continue
		}
		if key == backends.KeyCode {
			parts = append(parts, "code()")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s('%s')", key, value))
		delete(normalized, key)
	}
	delete(normalized, backends.KeyCode)

	for key := range normalized {
		if !containsKey(cap.GrammarKeys, key) {
			return "", fmt.Errorf("settings key %q is not valid for backend %s", key, kind)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("section has no recognized connection keys")
	}

	return fmt.Sprintf("%s://%s", kind, strings.Join(parts, ".")), nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
