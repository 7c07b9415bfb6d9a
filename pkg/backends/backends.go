// Package backends holds the canonical identifiers and capability metadata
// for the query services kqlgate can dispatch to. Use these constants to look
// up capability information.
package backends

import "strings"

// BackendType is the canonical identifier for a backend query service.
type BackendType string

const (
	// Kusto is the distributed log/telemetry store.
	Kusto BackendType = "kusto"

	// AppInsights is the application-telemetry service.
	AppInsights BackendType = "appinsights"

	// LogAnalytics is the workspace-analytics service.
	LogAnalytics BackendType = "loganalytics"
)

// Connection-string keyword tokens. Each backend recognizes an ordered subset.
const (
	KeyTenant         = "tenant"
	KeyCode           = "code"
	KeyClientID       = "clientid"
	KeyClientSecret   = "clientsecret"
	KeyCertificate    = "certificate"
	KeyCertThumbprint = "certificate_thumbprint"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyCluster        = "cluster"
	KeyDatabase       = "database"
	KeyAppID          = "appid"
	KeyAppKey         = "appkey"
	KeyWorkspace      = "workspace"
)

// Capability describes what a backend supports in a way the engine layer can
// consume uniformly.
type Capability struct {
	// Human-friendly product name, e.g. "Azure Data Explorer".
	Name string `json:"name"`

	// Canonical ID used across the codebase (see BackendType constants).
	ID BackendType `json:"id"`

	// Alternate scheme spellings accepted in connection strings.
	SchemeAliases []string `json:"schemeAliases,omitempty"`

	// GrammarKeys is the canonical ordered list of recognized keyword tokens.
	// Tokens must appear in a connection string in this order.
	GrammarKeys []string `json:"grammarKeys"`

	// MandatoryKey must be non-empty after credential resolution and is never
	// inherited from a previous connection.
	MandatoryKey string `json:"mandatoryKey"`

	// APIEndpoint is the fixed HTTPS endpoint for draft-style backends.
	// Empty for backends whose endpoint derives from the cluster name.
	APIEndpoint string `json:"apiEndpoint,omitempty"`

	// APIDomain is the path segment naming the resource collection,
	// e.g. "apps" or "workspaces".
	APIDomain string `json:"apiDomain,omitempty"`

	// ClusterURLFormat builds the endpoint from a cluster name, if set.
	ClusterURLFormat string `json:"clusterURLFormat,omitempty"`

	// SupportsShorthand reports whether a bare "database@cluster" reference
	// can resolve to a connection of this backend.
	SupportsShorthand bool `json:"supportsShorthand"`

	// SupportsDeviceCode reports whether the backend accepts a device-code
	// re-bind after a multi-factor-required failure.
	SupportsDeviceCode bool `json:"supportsDeviceCode"`
}

// All is the authoritative capability table.
var All = map[BackendType]Capability{
	Kusto: {
		Name: "Kusto",
		ID:   Kusto,
		GrammarKeys: []string{
			KeyTenant, KeyCode, KeyClientID, KeyClientSecret,
			KeyCertificate, KeyCertThumbprint,
			KeyUsername, KeyPassword, KeyCluster, KeyDatabase,
		},
		MandatoryKey:       KeyDatabase,
		ClusterURLFormat:   "https://%s.kusto.windows.net",
		SupportsShorthand:  true,
		SupportsDeviceCode: true,
	},
	AppInsights: {
		Name: "Application Insights",
		ID:   AppInsights,
		GrammarKeys: []string{
			KeyTenant, KeyCode, KeyClientID, KeyClientSecret,
			KeyAppID, KeyAppKey,
		},
		MandatoryKey: KeyAppID,
		APIEndpoint:  "https://api.applicationinsights.io",
		APIDomain:    "apps",
	},
	LogAnalytics: {
		Name:          "Log Analytics",
		ID:            LogAnalytics,
		SchemeAliases: []string{"log_analytics"},
		GrammarKeys: []string{
			KeyTenant, KeyCode, KeyClientID, KeyClientSecret,
			KeyWorkspace, KeyAppKey,
		},
		MandatoryKey: KeyWorkspace,
		APIEndpoint:  "https://api.loganalytics.io",
		APIDomain:    "workspaces",
	},
}

// Get returns the capability for a backend type.
func Get(id BackendType) (Capability, bool) {
	cap, ok := All[id]
	return cap, ok
}

// MustGet returns the capability for a backend type, panicking if unknown.
// Use only with the package-level constants.
func MustGet(id BackendType) Capability {
	cap, ok := All[id]
	if !ok {
		panic("backends: unknown backend type: " + string(id))
	}
	return cap
}

// ParseID maps a scheme name or alias to a backend type.
func ParseID(name string) (BackendType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, cap := range All {
		if string(id) == name {
			return id, true
		}
		for _, alias := range cap.SchemeAliases {
			if alias == name {
				return id, true
			}
		}
	}
	return "", false
}

// IDs returns all backend types in a stable order.
func IDs() []BackendType {
	return []BackendType{Kusto, AppInsights, LogAnalytics}
}
