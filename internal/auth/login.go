package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/looplight/llmauth/internal/browser"
	"github.com/looplight/llmauth/internal/misc"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// callbackTimeout is how long the flow waits for the user to finish the
// browser consent before giving up.
const callbackTimeout = 5 * time.Minute

var (
	oauthClientIDPattern     = regexp.MustCompile(`\d+-[a-z0-9]+\.apps\.googleusercontent\.com`)
	oauthClientSecretPattern = regexp.MustCompile(`GOCSPX-[A-Za-z0-9_-]+`)
)

// LoginOptions control an interactive login.
type LoginOptions struct {
	// NoBrowser prints the consent URL instead of opening a browser.
	NoBrowser bool
	// ProjectID pins the cloud project, skipping discovery.
	ProjectID string
}

// LoginFlow drives a browser-based authorization code login with PKCE for
// providers that support one.
type LoginFlow struct {
	provider   *Provider
	store      *FileStore
	httpClient *http.Client
	// port overrides the registered callback port. Tests bind port 0 and
	// read the real redirect back from the listener.
	port        int
	browserOpen func(string) error
	waitTimeout time.Duration
	now         func() time.Time
}

// NewLoginFlow returns a flow for p, or nil when the provider has no
// interactive login.
func NewLoginFlow(p *Provider, store *FileStore, httpClient *http.Client) *LoginFlow {
	if p.Login == nil {
		return nil
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LoginFlow{
		provider:    p,
		store:       store,
		httpClient:  httpClient,
		port:        p.Login.CallbackPort,
		browserOpen: browser.OpenURL,
		waitTimeout: callbackTimeout,
		now:         time.Now,
	}
}

// Run executes the full login: client credential resolution, consent in the
// browser, the loopback callback, the code exchange, best-effort project and
// email discovery, and persistence. The returned record has already been
// written to the store.
func (f *LoginFlow) Run(ctx context.Context, opts *LoginOptions) (*TokenRecord, error) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	p := f.provider
	spec := p.Login

	clientID, clientSecret, err := f.resolveClientCredentials()
	if err != nil {
		return nil, err
	}

	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, &GetAccessTokenError{StatusCode: http.StatusInternalServerError, Message: "could not generate state: " + err.Error()}
	}
	pkce, err := GeneratePKCECodes()
	if err != nil {
		return nil, &GetAccessTokenError{StatusCode: http.StatusInternalServerError, Message: "could not generate PKCE codes: " + err.Error()}
	}

	srv := newCallbackServer(f.port, spec.CallbackPath, state)
	if err := srv.Start(); err != nil {
		return nil, &GetAccessTokenError{StatusCode: http.StatusInternalServerError, Message: err.Error()}
	}
	defer srv.Stop()

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  srv.RedirectURI(),
		Scopes:       spec.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spec.AuthURL,
			TokenURL: p.TokenEndpoint(),
		},
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	f.openConsentPage(authURL, opts.NoBrowser)

	log.Infof("waiting for %s OAuth callback on %s", p.ID, srv.RedirectURI())
	code, err := srv.Wait(ctx, f.waitTimeout)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	token, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pkce.CodeVerifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &GetAccessTokenError{StatusCode: re.Response.StatusCode, Message: oauthErrorMessage(re.Body)}
		}
		return nil, &GetAccessTokenError{StatusCode: http.StatusBadRequest, Message: "code exchange failed: " + err.Error()}
	}
	if token.AccessToken == "" {
		return nil, &GetAccessTokenError{StatusCode: http.StatusBadRequest, Message: "token endpoint response missing access_token"}
	}

	now := f.now()
	rec := &TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		LastRefresh:  now.Format(time.RFC3339),
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	if !token.Expiry.IsZero() {
		rec.ExpiresAt = token.Expiry.Add(-p.Skew).Unix()
	} else {
		rec.ExpiresAt = expiresAt(now, p.DefaultExpiresIn, p.Skew)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		rec.Scope = scope
	}

	rec.ProjectID = f.resolveProject(ctx, opts.ProjectID, token.AccessToken)
	rec.Email = f.discoverEmail(ctx, token.AccessToken)

	if err := f.store.Write(p, rec); err != nil {
		log.Warnf("login succeeded but credentials could not be persisted: %v", err)
	} else {
		misc.LogSavingCredentials(f.store.Path(p))
	}
	if rec.Email != "" {
		log.Infof("signed in to %s as %s", p.Label, rec.Email)
	} else {
		log.Infof("signed in to %s", p.Label)
	}
	return rec, nil
}

func (f *LoginFlow) openConsentPage(authURL string, noBrowser bool) {
	if noBrowser {
		fmt.Println("Open this URL in your browser to sign in:")
		fmt.Println(authURL)
		return
	}
	log.Debug("opening browser for OAuth consent")
	if err := f.browserOpen(authURL); err != nil {
		log.Warnf("could not open browser: %v", err)
		fmt.Println("Open this URL in your browser to sign in:")
		fmt.Println(authURL)
	}
}

// resolveClientCredentials finds the OAuth client id/secret the login needs,
// failing with remediation when neither the environment nor the installed
// companion CLI provides them.
func (f *LoginFlow) resolveClientCredentials() (string, string, error) {
	p := f.provider
	clientID, clientSecret := p.clientCredentials()
	if clientID == "" || clientSecret == "" {
		spec := p.Login
		msg := fmt.Sprintf("no OAuth client credentials for %s: install the %s CLI or set %s and %s",
			p.Label, spec.CLIBinary, spec.ClientIDEnv, spec.ClientSecretEnv)
		return "", "", &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: msg}
	}
	return clientID, clientSecret, nil
}

// clientCredentials resolves the OAuth client id and secret for p. Catalog
// values come first, then the login spec's environment overrides, then the
// credentials embedded in the provider's installed companion CLI. Either
// value may come back empty.
func (p *Provider) clientCredentials() (string, string) {
	clientID, clientSecret := p.ClientID, p.ClientSecret
	spec := p.Login
	if spec == nil {
		return clientID, clientSecret
	}
	if spec.ClientIDEnv != "" {
		if v := os.Getenv(spec.ClientIDEnv); v != "" {
			clientID = v
		}
	}
	if spec.ClientSecretEnv != "" {
		if v := os.Getenv(spec.ClientSecretEnv); v != "" {
			clientSecret = v
		}
	}
	if clientID == "" || clientSecret == "" {
		if id, secret, ok := extractCLICredentials(spec.CLIBinary, spec.CLISourcePaths); ok {
			if clientID == "" {
				clientID = id
			}
			if clientSecret == "" {
				clientSecret = secret
			}
		}
	}
	return clientID, clientSecret
}

// extractCLICredentials locates the companion CLI on PATH, resolves it
// through symlinks to its package directory, and scans the bundled oauth
// source for the client id and secret the CLI itself uses.
func extractCLICredentials(binary string, sourcePaths []string) (string, string, bool) {
	if binary == "" {
		return "", "", false
	}
	bin, err := exec.LookPath(binary)
	if err != nil {
		log.Debugf("companion CLI %q not found on PATH", binary)
		return "", "", false
	}
	if resolved, err := filepath.EvalSymlinks(bin); err == nil {
		bin = resolved
	}
	base := filepath.Dir(bin)
	for _, rel := range sourcePaths {
		candidate := filepath.Join(base, "..", rel)
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		id := oauthClientIDPattern.FindString(string(data))
		secret := oauthClientSecretPattern.FindString(string(data))
		if id != "" && secret != "" {
			log.Debugf("extracted OAuth client credentials from %s", candidate)
			return id, secret, true
		}
	}
	return "", "", false
}

// resolveProject picks the cloud project id backing the account: an explicit
// override, then the GOOGLE_CLOUD_PROJECT environment variable, then the
// provider's discovery endpoint. Discovery failure is not fatal; the record
// just carries no project.
func (f *LoginFlow) resolveProject(ctx context.Context, override, accessToken string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	spec := f.provider.Login
	if spec.DiscoveryURL == "" {
		return ""
	}
	payload := `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.DiscoveryURL, strings.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Debugf("project discovery failed: %v", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Debugf("project discovery returned status %d", resp.StatusCode)
		return ""
	}
	// Onboarded accounts report the project as a plain string, fresh ones as
	// an object carrying an id.
	project := gjson.GetBytes(body, "cloudaicompanionProject")
	if project.Type == gjson.String {
		return project.String()
	}
	return project.Get("id").String()
}

// discoverEmail asks the userinfo endpoint who just signed in. Best effort.
func (f *LoginFlow) discoverEmail(ctx context.Context, accessToken string) string {
	spec := f.provider.Login
	if spec.UserinfoURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.UserinfoURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Debugf("userinfo lookup failed: %v", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	return gjson.GetBytes(body, "email").String()
}
