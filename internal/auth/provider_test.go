package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvidersAreSorted(t *testing.T) {
	assert.Equal(t, []string{"gemini-cli", "kimi-code", "qwen-portal"}, Providers())
}

func TestLookupUnknownProvider(t *testing.T) {
	_, err := Lookup("claude-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "claude-code"`)
	assert.Contains(t, err.Error(), "gemini-cli")
}

func TestLookupReturnsIndependentCopies(t *testing.T) {
	first, err := Lookup("qwen-portal")
	require.NoError(t, err)
	first.TokenURL = "http://127.0.0.1:1/token"
	first.Bridge.Path = "/tmp/elsewhere.json"

	second, err := Lookup("qwen-portal")
	require.NoError(t, err)
	assert.Equal(t, qwenTokenURL, second.TokenURL)
	assert.Equal(t, "~/.qwen/oauth_creds.json", second.Bridge.Path)
}

func TestTokenEndpointHostOverride(t *testing.T) {
	p := testProvider(t, "kimi-code")
	assert.Equal(t, kimiOAuthHost+kimiTokenPath, p.TokenEndpoint())

	t.Setenv("KIMI_CODE_OAUTH_HOST", "http://127.0.0.1:9099/")
	assert.Equal(t, "http://127.0.0.1:9099/api/oauth/token", p.TokenEndpoint())
}

func TestTokenEndpointOverrideIgnoredWithoutEnvSeam(t *testing.T) {
	p := testProvider(t, "qwen-portal")
	t.Setenv("KIMI_CODE_OAUTH_HOST", "http://127.0.0.1:9099")
	assert.Equal(t, qwenTokenURL, p.TokenEndpoint())
}

func TestAuthFileName(t *testing.T) {
	p := testProvider(t, "gemini-cli")
	assert.Equal(t, "auth.gemini-cli.json", p.AuthFileName())

	t.Setenv("GEMINI_CLI_AUTH_FILE", "oauth_creds.json")
	assert.Equal(t, "oauth_creds.json", p.AuthFileName())
}

func TestNormalizeResourceURL(t *testing.T) {
	cases := map[string]string{
		"portal.qwen.ai":            "https://portal.qwen.ai/v1",
		"portal.qwen.ai/":           "https://portal.qwen.ai/v1",
		"https://portal.qwen.ai/v1": "https://portal.qwen.ai/v1",
		"http://localhost:8080":     "http://localhost:8080/v1",
		"  portal.qwen.ai  ":        "https://portal.qwen.ai/v1",
		"":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeResourceURL(in), "input %q", in)
	}
}

func TestCatalogSkewAndLifetimes(t *testing.T) {
	gemini := testProvider(t, "gemini-cli")
	kimi := testProvider(t, "kimi-code")
	qwen := testProvider(t, "qwen-portal")

	assert.EqualValues(t, 300, gemini.Skew.Seconds())
	assert.EqualValues(t, 60, kimi.Skew.Seconds())
	assert.EqualValues(t, 60, qwen.Skew.Seconds())

	assert.EqualValues(t, 3600, gemini.DefaultExpiresIn)
	assert.EqualValues(t, 900, kimi.DefaultExpiresIn)
	assert.EqualValues(t, 3600, qwen.DefaultExpiresIn)
}
