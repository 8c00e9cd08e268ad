package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// RefreshClient exchanges a refresh token for a new access token at the
// provider's token endpoint and persists the result.
type RefreshClient struct {
	provider   *Provider
	store      *FileStore
	httpClient *http.Client
	now        func() time.Time
}

// NewRefreshClient returns a refresh client for p backed by store. A nil
// httpClient falls back to http.DefaultClient.
func NewRefreshClient(p *Provider, store *FileStore, httpClient *http.Client) *RefreshClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RefreshClient{provider: p, store: store, httpClient: httpClient, now: time.Now}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
	Scope        string `json:"scope"`
}

// Refresh performs a refresh_token grant and returns the replacement record.
// On success the record has already been written to the store (and mirrored
// to the companion CLI file when the provider bridges one); a store write
// failure is logged but does not fail the refresh. All failures are reported
// as *RefreshAccessTokenError so the caller can fall through to the next
// credential source.
func (c *RefreshClient) Refresh(ctx context.Context, refreshToken string, prev *TokenRecord) (*TokenRecord, error) {
	p := c.provider
	if refreshToken == "" {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: "no refresh token available"}
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	clientID, clientSecret := p.clientCredentials()
	if clientID != "" {
		data.Set("client_id", clientID)
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}

	endpoint := p.TokenEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, v := range p.requestHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debugf("%s token refresh rejected: status %d", p.ID, resp.StatusCode)
		return nil, &RefreshAccessTokenError{StatusCode: resp.StatusCode, Message: oauthErrorMessage(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: "token endpoint returned invalid JSON: " + err.Error()}
	}
	if tr.AccessToken == "" {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: "token endpoint response missing access_token"}
	}

	now := c.now()
	rec := &TokenRecord{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresAt:    expiresAt(now, c.lifetime(tr.ExpiresIn), p.Skew),
		ResourceURL:  tr.ResourceURL,
		Scope:        tr.Scope,
		LastRefresh:  now.Format(time.RFC3339),
	}
	if rec.RefreshToken == "" && prev != nil {
		// Endpoints that do not rotate keep the old refresh token valid.
		rec.RefreshToken = prev.RefreshToken
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	if prev != nil {
		rec.ProjectID = prev.ProjectID
		rec.Email = prev.Email
		if rec.ResourceURL == "" {
			rec.ResourceURL = prev.ResourceURL
		}
		if rec.Scope == "" {
			rec.Scope = prev.Scope
		}
	}

	if err := c.store.Write(p, rec); err != nil {
		log.Warnf("refreshed %s token could not be persisted: %v", p.ID, err)
	}
	if p.Bridge != nil && p.Bridge.WriteBack {
		mirrorToCompanion(p, rec)
	}
	log.Debugf("refreshed %s access token, expires at %s", p.ID, time.Unix(rec.ExpiresAt, 0).Format(time.RFC3339))
	return rec, nil
}

func (c *RefreshClient) lifetime(expiresIn int64) int64 {
	if expiresIn > 0 {
		return expiresIn
	}
	return c.provider.DefaultExpiresIn
}

// oauthErrorMessage extracts the most useful part of an OAuth error body.
func oauthErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error_description").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return msg
	}
	return trimBody(body)
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
