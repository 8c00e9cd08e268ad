package access

import (
	"context"
	"net/http"
	"strings"
)

type apiKeyProvider struct {
	name string
	keys map[string]struct{}
}

// NewAPIKeyProvider builds a provider that accepts any of the given keys via
// an Authorization bearer token, the X-Api-Key header, or a key query
// parameter.
func NewAPIKeyProvider(name string, keys []string) Provider {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return &apiKeyProvider{name: name, keys: set}
}

func (p *apiKeyProvider) Identifier() string { return p.name }

func (p *apiKeyProvider) Authenticate(_ context.Context, r *http.Request) (*Result, error) {
	candidates := collectAPIKeys(r)
	if len(candidates) == 0 {
		return nil, ErrNoCredentials
	}
	for _, candidate := range candidates {
		if _, ok := p.keys[candidate]; ok {
			return &Result{Provider: p.name, Principal: candidate}, nil
		}
	}
	return nil, ErrInvalidCredential
}

func collectAPIKeys(r *http.Request) []string {
	var keys []string
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		keys = append(keys, token)
	}
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		keys = append(keys, key)
	}
	if key := strings.TrimSpace(r.URL.Query().Get("key")); key != "" {
		keys = append(keys, key)
	}
	return keys
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
