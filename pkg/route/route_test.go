package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/gatewayerrors"
)

func testLogger() logger.Logger {
	return logger.NewLogger(nopWriter{}, logger.ErrorLevel)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEmptyAllowlistMatchesNothing(t *testing.T) {
	assert.False(t, IsEndpointAllowed("https://api.github.com/user", nil))
}

func TestStarDoesNotCrossSlashDoubleStarDoes(t *testing.T) {
	assert.True(t, IsEndpointAllowed("https://api.github.com/users/foo", []string{"https://api.github.com/users/*"}))
	assert.False(t, IsEndpointAllowed("https://api.github.com/users/foo/repos", []string{"https://api.github.com/users/*"}))
	assert.True(t, IsEndpointAllowed("https://api.github.com/users/foo/repos", []string{"https://api.github.com/users/**"}))
}

func TestSpecialRegexCharsEscaped(t *testing.T) {
	assert.True(t, IsEndpointAllowed("https://api.example.com/v1.0/item", []string{"https://api.example.com/v1.0/item"}))
	assert.False(t, IsEndpointAllowed("https://api.example.com/v1X0/item", []string{"https://api.example.com/v1.0/item"}))
}

func TestResolvePlaceholders(t *testing.T) {
	result, unknown := ResolvePlaceholders("${A}${B}", map[string]string{"A": "x", "B": "y"})
	assert.Equal(t, "xy", result)
	assert.Empty(t, unknown)

	result, unknown = ResolvePlaceholders("${A}${MISSING}", map[string]string{"A": "x"})
	assert.Equal(t, "x${MISSING}", result)
	assert.Equal(t, []string{"MISSING"}, unknown)
}

func TestResolveSecretsWholeValueOnly(t *testing.T) {
	secrets := map[string]string{
		"token":   "${GITHUB_TOKEN}",
		"literal": "not-a-placeholder-${GITHUB_TOKEN}",
	}
	callerEnv := map[string]string{"GITHUB_TOKEN": "caller-token"}
	processEnv := map[string]string{"GITHUB_TOKEN": "process-token"}

	resolved, unknown := ResolveSecrets(secrets, callerEnv, processEnv)
	assert.Empty(t, unknown)
	assert.Equal(t, "caller-token", resolved["token"])
	assert.Equal(t, "not-a-placeholder-${GITHUB_TOKEN}", resolved["literal"])
}

func TestResolveSecretsCallerEnvPrecedesProcessEnv(t *testing.T) {
	secrets := map[string]string{"token": "${TOK}"}
	resolved, _ := ResolveSecrets(secrets, map[string]string{"TOK": "caller"}, map[string]string{"TOK": "process"})
	assert.Equal(t, "caller", resolved["token"])

	resolved, _ = ResolveSecrets(secrets, nil, map[string]string{"TOK": "process"})
	assert.Equal(t, "process", resolved["token"])
}

func TestHeaderConflictCaseInsensitive(t *testing.T) {
	r := &Route{
		Alias:            "github",
		Headers:          map[string]string{"Authorization": "token ghp_abc"},
		Secrets:          map[string]string{},
		AllowedEndpoints: []string{"https://api.github.com/**"},
	}
	resolved := Resolve(r, nil, nil, testLogger())

	_, err := BuildHeaders(resolved, map[string]string{"authorization": "token other"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewayerrors.ErrHeaderConflict)
}

func TestHeaderPipelineMergesRouteHeadersAndDefaultsContentType(t *testing.T) {
	r := &Route{
		Alias:            "github",
		Headers:          map[string]string{"Authorization": "token ${TOKEN}"},
		Secrets:          map[string]string{"TOKEN": "${GITHUB_TOKEN}"},
		AllowedEndpoints: []string{"https://api.github.com/**"},
	}
	resolved := Resolve(r, map[string]string{"GITHUB_TOKEN": "ghp_abc"}, nil, testLogger())

	headers, err := BuildHeaders(resolved, map[string]string{"X-Custom": "1"}, true)
	require.NoError(t, err)
	assert.Equal(t, "token ghp_abc", headers["Authorization"])
	assert.Equal(t, "1", headers["X-Custom"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestBodyPlaceholdersNotSubstitutedUnlessEnabled(t *testing.T) {
	r := &Route{
		Alias:                "github",
		Secrets:              map[string]string{"TOKEN": "ghp_abc"},
		AllowedEndpoints:     []string{"https://api.github.com/**"},
		ResolveSecretsInBody: false,
	}
	resolved := Resolve(r, nil, nil, testLogger())
	assert.False(t, resolved.ResolveSecretsInBody)

	body := `{"note":"${TOKEN}"}`
	// The pipeline only substitutes when ResolveSecretsInBody is true;
	// this route has it false, so body must pass through unchanged.
	if resolved.ResolveSecretsInBody {
		body, _ = ResolvePlaceholders(body, resolved.Secrets)
	}
	assert.Equal(t, `{"note":"${TOKEN}"}`, body)
}

func TestSelectRouteTriesSubstitutedURLAfterAsIsFails(t *testing.T) {
	r := &Route{
		Alias:            "templated",
		Secrets:          map[string]string{"HOST": "https://api.example.com"},
		AllowedEndpoints: []string{"https://api.example.com/api/*"},
	}
	resolved := Resolve(r, nil, nil, testLogger())

	assert.False(t, resolved.IsEndpointAllowed("${HOST}/api/x"))

	route, url, matched := SelectRoute([]*ResolvedRoute{resolved}, "${HOST}/api/x")
	require.True(t, matched)
	assert.Equal(t, "templated", route.Alias)
	assert.Equal(t, "https://api.example.com/api/x", url)
}

func TestFinalAllowlistRecheckAfterSubstitution(t *testing.T) {
	r := &Route{
		Alias:            "github",
		AllowedEndpoints: []string{"https://api.github.com/**"},
	}
	resolved := Resolve(r, nil, nil, testLogger())

	assert.True(t, resolved.IsEndpointAllowed("https://api.github.com/user"))
	assert.False(t, resolved.IsEndpointAllowed("https://evil.example.com/user"))
}
