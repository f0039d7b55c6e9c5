package route

import "regexp"

var (
	placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)
	wholeValueRe  = regexp.MustCompile(`^\$\{([A-Za-z0-9_]+)\}$`)
)

// ResolvePlaceholders substitutes every ${IDENT} occurrence in s using vars.
// Unknown placeholders are left verbatim; their names are returned so the
// caller can log a warning (spec.md §4.3).
func ResolvePlaceholders(s string, vars map[string]string) (result string, unknown []string) {
	result = placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		unknown = append(unknown, name)
		return match
	})
	return result, unknown
}

// ResolveSecrets resolves a Route's secrets map against an env precedence
// chain: callerEnv takes priority over processEnv. Only whole-string
// "${VAR}" values are substituted (spec.md §4.3); every other value is a
// literal, copied through unchanged.
func ResolveSecrets(secrets map[string]string, callerEnv, processEnv map[string]string) (resolved map[string]string, unknown []string) {
	resolved = make(map[string]string, len(secrets))
	for name, val := range secrets {
		m := wholeValueRe.FindStringSubmatch(val)
		if m == nil {
			resolved[name] = val
			continue
		}
		varName := m[1]
		if v, ok := callerEnv[varName]; ok {
			resolved[name] = v
			continue
		}
		if v, ok := processEnv[varName]; ok {
			resolved[name] = v
			continue
		}
		unknown = append(unknown, varName)
		resolved[name] = val
	}
	return resolved, unknown
}
