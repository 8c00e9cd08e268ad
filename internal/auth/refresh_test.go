package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var refreshTestNow = time.Unix(1_757_000_000, 0)

// newRefreshClient wires a refresh client against a local token endpoint with
// the companion mirror disabled, so tests never touch the real home directory.
func newRefreshClient(t *testing.T, providerID, tokenURL string) (*RefreshClient, *FileStore, *Provider) {
	t.Helper()
	p := testProvider(t, providerID)
	p.TokenURL = tokenURL
	p.Bridge = nil
	store := NewFileStore(t.TempDir())
	rc := NewRefreshClient(p, store, nil)
	rc.now = func() time.Time { return refreshTestNow }
	return rc, store, p
}

func TestRefreshRotatesTokenAndAppliesSkew(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","token_type":"bearer","expires_in":900}`)
	}))
	defer srv.Close()

	rc, store, p := newRefreshClient(t, "qwen-portal", srv.URL)
	prev := &TokenRecord{RefreshToken: "rt-old", ProjectID: "proj-1", Email: "dev@example.com"}

	rec, err := rc.Refresh(context.Background(), "rt-old", prev)
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	assert.Equal(t, "rt-old", gotForm.Get("refresh_token"))
	assert.Equal(t, qwenClientID, gotForm.Get("client_id"))

	assert.Equal(t, "at-new", rec.AccessToken)
	assert.Equal(t, "rt-new", rec.RefreshToken)
	assert.Equal(t, "bearer", rec.TokenType)
	assert.Equal(t, refreshTestNow.Unix()+900-60, rec.ExpiresAt)
	assert.Equal(t, refreshTestNow.Format(time.RFC3339), rec.LastRefresh)
	assert.Equal(t, "proj-1", rec.ProjectID)
	assert.Equal(t, "dev@example.com", rec.Email)

	persisted := store.Read(p)
	require.NotNil(t, persisted)
	assert.Equal(t, rec, persisted)
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"at-new","expires_in":3600}`)
	}))
	defer srv.Close()

	rc, _, _ := newRefreshClient(t, "qwen-portal", srv.URL)
	prev := &TokenRecord{RefreshToken: "rt-old", ResourceURL: "portal.qwen.ai", Scope: "openid"}

	rec, err := rc.Refresh(context.Background(), "rt-old", prev)
	require.NoError(t, err)
	assert.Equal(t, "rt-old", rec.RefreshToken)
	assert.Equal(t, "Bearer", rec.TokenType)
	assert.Equal(t, "portal.qwen.ai", rec.ResourceURL)
	assert.Equal(t, "openid", rec.Scope)
}

func TestRefreshDefaultsLifetimeWhenExpiresInMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new"}`)
	}))
	defer srv.Close()

	rc, _, _ := newRefreshClient(t, "kimi-code", srv.URL)
	rec, err := rc.Refresh(context.Background(), "rt-old", nil)
	require.NoError(t, err)
	assert.Equal(t, refreshTestNow.Unix()+900-60, rec.ExpiresAt)
}

func TestRefreshSendsProviderHeadersAndHonorsHostOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var gotPath string
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		fmt.Fprint(w, `{"access_token":"at-new","expires_in":900}`)
	}))
	defer srv.Close()
	t.Setenv("KIMI_CODE_OAUTH_HOST", srv.URL)

	p := testProvider(t, "kimi-code")
	p.Bridge = nil
	store := NewFileStore(t.TempDir())
	rc := NewRefreshClient(p, store, nil)
	rc.now = func() time.Time { return refreshTestNow }

	_, err := rc.Refresh(context.Background(), "rt-old", nil)
	require.NoError(t, err)

	assert.Equal(t, "/api/oauth/token", gotPath)
	assert.Equal(t, "application/x-www-form-urlencoded", gotHeader.Get("Content-Type"))
	assert.Equal(t, kimiUserAgent, gotHeader.Get("User-Agent"))
	assert.NotEmpty(t, gotHeader.Get("X-Msh-Device-Id"))
	assert.NotEmpty(t, gotHeader.Get("X-Msh-Device-Name"))
	assert.NotEmpty(t, gotHeader.Get("X-Msh-Platform"))
}

func TestRefreshPropagatesEndpointStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been revoked"}`)
	}))
	defer srv.Close()

	rc, store, p := newRefreshClient(t, "qwen-portal", srv.URL)
	_, err := rc.Refresh(context.Background(), "rt-dead", nil)

	var re *RefreshAccessTokenError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.StatusCode)
	assert.Equal(t, "Token has been revoked", re.Message)
	assert.Nil(t, store.Read(p))
}

func TestRefreshFailsWithoutRefreshToken(t *testing.T) {
	rc, _, _ := newRefreshClient(t, "qwen-portal", "http://127.0.0.1:0")
	_, err := rc.Refresh(context.Background(), "", nil)

	var re *RefreshAccessTokenError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Contains(t, re.Message, "no refresh token")
}

func TestRefreshMapsTransportErrorToBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	rc, _, _ := newRefreshClient(t, "qwen-portal", srv.URL)
	_, err := rc.Refresh(context.Background(), "rt-old", nil)

	var re *RefreshAccessTokenError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
}

func TestRefreshRejectsResponseWithoutAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"refresh_token":"rt-new","expires_in":900}`)
	}))
	defer srv.Close()

	rc, _, _ := newRefreshClient(t, "qwen-portal", srv.URL)
	_, err := rc.Refresh(context.Background(), "rt-old", nil)

	var re *RefreshAccessTokenError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Contains(t, re.Message, "missing access_token")
}

func TestRefreshRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>gateway error</html>")
	}))
	defer srv.Close()

	rc, _, _ := newRefreshClient(t, "qwen-portal", srv.URL)
	_, err := rc.Refresh(context.Background(), "rt-old", nil)

	var re *RefreshAccessTokenError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
}

func TestRefreshMirrorsIntoCompanionFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	companion := filepath.Join(home, ".qwen", "oauth_creds.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(companion), 0o700))
	seed := `{"access_token":"at-old","refresh_token":"rt-old","expiry_date":1000,"custom_field":"keep-me"}`
	require.NoError(t, os.WriteFile(companion, []byte(seed), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600}`)
	}))
	defer srv.Close()

	p := testProvider(t, "qwen-portal")
	p.TokenURL = srv.URL
	store := NewFileStore(t.TempDir())
	rc := NewRefreshClient(p, store, nil)
	rc.now = func() time.Time { return refreshTestNow }

	rec, err := rc.Refresh(context.Background(), "rt-old", nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(companion)
	require.NoError(t, err)
	assert.Equal(t, "at-new", gjson.GetBytes(raw, "access_token").String())
	assert.Equal(t, "rt-new", gjson.GetBytes(raw, "refresh_token").String())
	assert.Equal(t, "keep-me", gjson.GetBytes(raw, "custom_field").String())

	// The companion keeps the raw expiry instant in epoch milliseconds; the
	// stored record already has the skew taken out.
	wantMillis := (rec.ExpiresAt + 60) * 1000
	assert.Equal(t, wantMillis, gjson.GetBytes(raw, "expiry_date").Int())
	assert.Equal(t, (refreshTestNow.Unix()+3600)*1000, gjson.GetBytes(raw, "expiry_date").Int())
}
