package route

import (
	"fmt"
	"strings"

	"vaultproxy/pkg/gatewayerrors"
)

// BuildHeaders implements spec.md §4.3's header pipeline for http_request:
// substitute placeholders in client headers using the route's own secrets,
// reject on any case-insensitive collision with a route-injected header,
// then merge the route headers on top. hasStructuredBody tells it whether
// to default Content-Type to application/json when the client set none.
func BuildHeaders(r *ResolvedRoute, clientHeaders map[string]string, hasStructuredBody bool) (map[string]string, error) {
	routeKeysLower := make(map[string]string, len(r.Headers))
	for k := range r.Headers {
		routeKeysLower[strings.ToLower(k)] = k
	}

	merged := make(map[string]string, len(clientHeaders)+len(r.Headers))
	for key, val := range clientHeaders {
		if routeKey, conflict := routeKeysLower[strings.ToLower(key)]; conflict {
			return nil, fmt.Errorf("%w: client header %q conflicts with route-injected header %q", gatewayerrors.ErrHeaderConflict, key, routeKey)
		}
		substituted, _ := ResolvePlaceholders(val, r.Secrets)
		merged[key] = substituted
	}

	for key, val := range r.Headers {
		merged[key] = val
	}

	if hasStructuredBody && !hasContentType(merged) {
		merged["Content-Type"] = "application/json"
	}

	return merged, nil
}

func hasContentType(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "content-type") {
			return true
		}
	}
	return false
}
