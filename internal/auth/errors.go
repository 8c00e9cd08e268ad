package auth

import "fmt"

// GetAccessTokenError is the terminal authentication failure: no token could
// be obtained from the cache, a refresh, the companion CLI bridge, or an
// interactive login. It carries an HTTP-style status code and remediation
// text addressed to the end user.
type GetAccessTokenError struct {
	StatusCode int
	Message    string
}

func (e *GetAccessTokenError) Error() string {
	return fmt.Sprintf("get access token failed (status %d): %s", e.StatusCode, e.Message)
}

// RefreshAccessTokenError reports a failed token refresh attempt. The
// authenticator always catches it and moves on to the next credential
// source; it is never returned to provider adapters directly.
type RefreshAccessTokenError struct {
	StatusCode int
	Message    string
}

func (e *RefreshAccessTokenError) Error() string {
	return fmt.Sprintf("refresh access token failed (status %d): %s", e.StatusCode, e.Message)
}
