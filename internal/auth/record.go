package auth

import (
	"time"
)

// TokenRecord is the on-disk shape of a cached OAuth credential. One record
// exists per provider, stored as a single JSON document, and every write
// replaces the whole document.
//
// ExpiresAt already has the provider's expiry skew subtracted at the moment
// the token is acquired, so "is it stale" is a plain clock comparison and no
// other code re-applies a buffer.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	ResourceURL  string `json:"resource_url,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Email        string `json:"email,omitempty"`
	LastRefresh  string `json:"last_refresh,omitempty"`
}

// Expired reports whether the record's access token can no longer be used.
// A missing expiry means expired, and the boundary instant itself counts as
// expired. This is the only staleness test in the package.
func (r *TokenRecord) Expired(now time.Time) bool {
	if r == nil || r.ExpiresAt == 0 {
		return true
	}
	return now.Unix() >= r.ExpiresAt
}

// Usable reports whether the record holds an access token that is still
// inside its lifetime.
func (r *TokenRecord) Usable(now time.Time) bool {
	return r != nil && r.AccessToken != "" && !r.Expired(now)
}

// Refreshable reports whether the record carries a refresh token, i.e. a
// stale access token can still be renewed without user interaction.
func (r *TokenRecord) Refreshable() bool {
	return r != nil && r.RefreshToken != ""
}

// Type returns the token type, defaulting to "Bearer" when the provider
// omitted it.
func (r *TokenRecord) Type() string {
	if r == nil || r.TokenType == "" {
		return "Bearer"
	}
	return r.TokenType
}

// expiresAt converts a token lifetime into the skew-adjusted absolute expiry
// stored in a record.
func expiresAt(now time.Time, expiresIn int64, skew time.Duration) int64 {
	return now.Add(time.Duration(expiresIn)*time.Second - skew).Unix()
}
