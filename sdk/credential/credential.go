// Package credential exposes the llmauth token lifecycle to other Go
// programs. A Source hands out live access tokens for one provider, renewing
// or importing credentials behind the scenes exactly the way the llmauth
// CLI does.
package credential

import (
	"context"
	"errors"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
)

// Source provides live credentials for one provider.
type Source interface {
	// Provider is the catalog id this source serves.
	Provider() string
	// AccessToken returns a valid access token, refreshing or importing as
	// needed.
	AccessToken(ctx context.Context) (string, error)
	// APIBase is the request base URL for the provider account.
	APIBase() string
	// ProjectID is the cloud project or resource identifier, when known.
	ProjectID() string
	// Headers returns ready-to-send request headers, including
	// Authorization.
	Headers(ctx context.Context) (map[string]string, error)
}

// Options tune a Source.
type Options struct {
	// DisableLogin prevents interactive browser logins; token acquisition
	// fails instead of prompting. Set this in servers and other headless
	// callers.
	DisableLogin bool
}

// NewSource returns a Source for providerID backed by the local credential
// store. cfg may be nil to use defaults, opts may be nil.
func NewSource(providerID string, cfg *config.Config, opts *Options) (Source, error) {
	if opts == nil {
		opts = &Options{}
	}
	a, err := auth.NewAuthenticator(providerID, cfg, &auth.Options{DisableLogin: opts.DisableLogin})
	if err != nil {
		return nil, err
	}
	return &source{authenticator: a}, nil
}

// Providers lists the supported provider ids.
func Providers() []string {
	return auth.Providers()
}

// StatusCode extracts the HTTP-style status from a token acquisition or
// refresh error. ok is false for other errors.
func StatusCode(err error) (status int, ok bool) {
	var getErr *auth.GetAccessTokenError
	if errors.As(err, &getErr) {
		return getErr.StatusCode, true
	}
	var refreshErr *auth.RefreshAccessTokenError
	if errors.As(err, &refreshErr) {
		return refreshErr.StatusCode, true
	}
	return 0, false
}

type source struct {
	authenticator *auth.Authenticator
}

func (s *source) Provider() string {
	return s.authenticator.Provider().ID
}

func (s *source) AccessToken(ctx context.Context) (string, error) {
	return s.authenticator.GetAccessToken(ctx)
}

func (s *source) APIBase() string {
	return s.authenticator.GetAPIBase()
}

func (s *source) ProjectID() string {
	return s.authenticator.GetProjectID()
}

func (s *source) Headers(ctx context.Context) (map[string]string, error) {
	return s.authenticator.DefaultHeaders(ctx)
}
