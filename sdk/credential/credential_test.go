package credential_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/sdk/credential"
)

func seededSource(t *testing.T, providerID string, rec *auth.TokenRecord) credential.Source {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	cfg.AuthDir = t.TempDir()

	p, err := auth.Lookup(providerID)
	require.NoError(t, err)
	require.NoError(t, auth.NewFileStore(cfg.ResolvedAuthDir()).Write(p, rec))

	src, err := credential.NewSource(providerID, cfg, &credential.Options{DisableLogin: true})
	require.NoError(t, err)
	return src
}

func TestProviders(t *testing.T) {
	assert.Equal(t, []string{"gemini-cli", "kimi-code", "qwen-portal"}, credential.Providers())
}

func TestNewSourceUnknownProvider(t *testing.T) {
	_, err := credential.NewSource("copilot", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestSourceServesStoredToken(t *testing.T) {
	src := seededSource(t, "kimi-code", &auth.TokenRecord{
		AccessToken:  "at-sdk",
		RefreshToken: "rt-sdk",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, "kimi-code", src.Provider())
	assert.Equal(t, "https://api.kimi.com/coding/v1", src.APIBase())

	token, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-sdk", token)

	headers, err := src.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-sdk", headers["Authorization"])
}

func TestSourceFailsClosedWhenHeadless(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	cfg.AuthDir = t.TempDir()

	src, err := credential.NewSource("gemini-cli", cfg, &credential.Options{DisableLogin: true})
	require.NoError(t, err)

	_, err = src.AccessToken(context.Background())
	require.Error(t, err)
	status, ok := credential.StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestStatusCode(t *testing.T) {
	status, ok := credential.StatusCode(fmt.Errorf("fetch: %w", &auth.GetAccessTokenError{StatusCode: 401, Message: "login required"}))
	require.True(t, ok)
	assert.Equal(t, 401, status)

	status, ok = credential.StatusCode(&auth.RefreshAccessTokenError{StatusCode: 400, Message: "bad grant"})
	require.True(t, ok)
	assert.Equal(t, 400, status)

	_, ok = credential.StatusCode(errors.New("unrelated"))
	assert.False(t, ok)
}
