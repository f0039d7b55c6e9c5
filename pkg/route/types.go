// Package route holds the static and resolved route/connector data model,
// placeholder substitution, glob endpoint matching, and header merge/conflict
// logic (spec.md C4).
package route

import "vaultproxy/pkg/keystore"

// Route is a connector's static configuration: a scoped capability made of
// endpoint glob patterns plus the headers and secrets used when a request
// matches one of them. Loaded from config; never mutated after load.
type Route struct {
	Alias                string            `yaml:"alias" json:"alias"`
	Name                 string            `yaml:"name,omitempty" json:"name,omitempty"`
	Description          string            `yaml:"description,omitempty" json:"description,omitempty"`
	DocsURL              string            `yaml:"docsUrl,omitempty" json:"docsUrl,omitempty"`
	OpenAPIURL           string            `yaml:"openApiUrl,omitempty" json:"openApiUrl,omitempty"`
	Headers              map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Secrets              map[string]string `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	AllowedEndpoints     []string          `yaml:"allowedEndpoints" json:"allowedEndpoints"`
	ResolveSecretsInBody bool              `yaml:"resolveSecretsInBody" json:"resolveSecretsInBody"`
	Ingestor             *IngestorConfig   `yaml:"ingestor,omitempty" json:"ingestor,omitempty"`
}

// IngestorConfig is the connector-scoped configuration for an optional
// event ingestor attached to this route (spec.md §4.6-§4.9 fill in the
// per-kind shape; this holds the fields common to every kind plus a
// protocol-specific options bag).
type IngestorConfig struct {
	Type     string                 `yaml:"type" json:"type"`
	Protocol string                 `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Options  map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

// ResolvedRoute is a Route after env/caller-env placeholder substitution:
// same shape, with concrete headers/secrets pinned into a Session at
// handshake time. Every ${VAR} in Headers has been resolved against this
// route's own Secrets — never across routes.
type ResolvedRoute struct {
	Alias                string
	Name                 string
	Description          string
	DocsURL              string
	OpenAPIURL           string
	Headers              map[string]string
	Secrets              map[string]string
	AllowedEndpoints     []string
	ResolveSecretsInBody bool
	Ingestor             *IngestorConfig

	compiledEndpoints []*compiledGlob
}

// CallerConfig names one authorized caller's connector set. Connections are
// route aliases resolved first against the caller-scoped connector pool,
// then against built-in templates.
type CallerConfig struct {
	Name              string                       `yaml:"name,omitempty" json:"name,omitempty"`
	PeerKeyDir        string                       `yaml:"peerKeyDir" json:"peerKeyDir"`
	Connections       []string                     `yaml:"connections" json:"connections"`
	Env               map[string]string            `yaml:"env,omitempty" json:"env,omitempty"`
	IngestorOverrides map[string]map[string]string `yaml:"ingestorOverrides,omitempty" json:"ingestorOverrides,omitempty"`
}

// AuthorizedPeer is the tuple the handshake needs to answer "who is this?":
// an alias and the peer's public signing/exchange key bundle.
type AuthorizedPeer struct {
	Alias string
	Name  string
	Keys  keystore.PublicKeyBundle
}

// ListedRoute is the client-facing, secret-free projection of a route
// returned by the list_routes tool (spec.md §4.3): names only for secrets.
type ListedRoute struct {
	Index            int      `json:"index"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description,omitempty"`
	DocsURL          string   `json:"docsUrl,omitempty"`
	OpenAPIURL       string   `json:"openApiUrl,omitempty"`
	AllowedEndpoints []string `json:"allowedEndpoints"`
	SecretNames      []string `json:"secretNames"`
	AutoHeaders      []string `json:"autoHeaders"`
}

// List renders the client-facing projection of a set of resolved routes.
func List(routes []*ResolvedRoute) []ListedRoute {
	out := make([]ListedRoute, 0, len(routes))
	for i, r := range routes {
		secretNames := make([]string, 0, len(r.Secrets))
		for name := range r.Secrets {
			secretNames = append(secretNames, name)
		}
		headerNames := make([]string, 0, len(r.Headers))
		for name := range r.Headers {
			headerNames = append(headerNames, name)
		}
		out = append(out, ListedRoute{
			Index:            i,
			Name:             r.Name,
			Description:      r.Description,
			DocsURL:          r.DocsURL,
			OpenAPIURL:       r.OpenAPIURL,
			AllowedEndpoints: r.AllowedEndpoints,
			SecretNames:      secretNames,
			AutoHeaders:      headerNames,
		})
	}
	return out
}

// Scrub returns a copy of a Route/ResolvedRoute suitable for logging: the
// secrets map is dropped entirely, matching spec.md §9's rule that
// configured substitution must never leak secrets through logs.
func Scrub(r *ResolvedRoute) map[string]interface{} {
	return map[string]interface{}{
		"alias":            r.Alias,
		"name":             r.Name,
		"allowedEndpoints": r.AllowedEndpoints,
		"secretNames":      secretNames(r.Secrets),
	}
}

func secretNames(secrets map[string]string) []string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	return names
}
