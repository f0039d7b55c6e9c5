package route

import (
	"vaultproxy/internal/logger"
)

// Resolve turns a static Route into a ResolvedRoute by substituting its
// secrets against the env precedence chain (callerEnv > processEnv) and its
// headers against those resolved secrets, then precompiling its endpoint
// globs. Unknown placeholders are logged as warnings, never as errors —
// spec.md §4.3 leaves them verbatim rather than failing resolution.
func Resolve(r *Route, callerEnv, processEnv map[string]string, log logger.Logger) *ResolvedRoute {
	secrets, unknownSecretVars := ResolveSecrets(r.Secrets, callerEnv, processEnv)
	for _, name := range unknownSecretVars {
		log.Warn("unresolved secret placeholder", logger.String("route", r.Alias), logger.String("var", name))
	}

	headers := make(map[string]string, len(r.Headers))
	for key, val := range r.Headers {
		resolved, unknown := ResolvePlaceholders(val, secrets)
		headers[key] = resolved
		for _, name := range unknown {
			log.Warn("unresolved header placeholder", logger.String("route", r.Alias), logger.String("header", key), logger.String("var", name))
		}
	}

	compiled := make([]*compiledGlob, 0, len(r.AllowedEndpoints))
	for _, pattern := range r.AllowedEndpoints {
		g, err := compileGlob(pattern)
		if err != nil {
			log.Warn("invalid endpoint glob", logger.String("route", r.Alias), logger.String("pattern", pattern), logger.Error(err))
			continue
		}
		compiled = append(compiled, g)
	}

	return &ResolvedRoute{
		Alias:                r.Alias,
		Name:                 r.Name,
		Description:          r.Description,
		DocsURL:              r.DocsURL,
		OpenAPIURL:           r.OpenAPIURL,
		Headers:              headers,
		Secrets:              secrets,
		AllowedEndpoints:     r.AllowedEndpoints,
		ResolveSecretsInBody: r.ResolveSecretsInBody,
		Ingestor:             r.Ingestor,
		compiledEndpoints:    compiled,
	}
}

// IsEndpointAllowed reports whether url matches one of this route's
// precompiled endpoint globs.
func (r *ResolvedRoute) IsEndpointAllowed(url string) bool {
	return matchesCompiled(url, r.compiledEndpoints)
}

// SelectRoute implements spec.md §4.3's two-pass route selection: first try
// the client-supplied URL as-is against every route; if none match, retry
// each route (with non-empty endpoints) after substituting that route's own
// secrets into the URL, to support "${HOST}/api/x" templates. Returns the
// matched route and the URL that should actually be dispatched.
func SelectRoute(routes []*ResolvedRoute, url string) (*ResolvedRoute, string, bool) {
	for _, r := range routes {
		if r.IsEndpointAllowed(url) {
			return r, url, true
		}
	}
	for _, r := range routes {
		if len(r.AllowedEndpoints) == 0 {
			continue
		}
		substituted, _ := ResolvePlaceholders(url, r.Secrets)
		if r.IsEndpointAllowed(substituted) {
			return r, substituted, true
		}
	}
	return nil, "", false
}
