// Package access authenticates clients of the token broker. Providers are
// pluggable so embedders can check credentials against their own sources; the
// builtin provider matches a static API key list.
package access

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var (
	// ErrNoCredentials indicates the request carried nothing recognizable.
	ErrNoCredentials = errors.New("access: no credentials provided")
	// ErrInvalidCredential signals that supplied credentials were rejected.
	ErrInvalidCredential = errors.New("access: invalid credential")
	// ErrNotHandled tells the manager to keep trying other providers.
	ErrNotHandled = errors.New("access: not handled")
)

// Result conveys who authenticated and through which provider.
type Result struct {
	Provider  string
	Principal string
}

// Provider validates the credentials on an incoming broker request.
type Provider interface {
	Identifier() string
	Authenticate(ctx context.Context, r *http.Request) (*Result, error)
}

// Manager evaluates providers in order. The provider list can be swapped at
// runtime, which is how a config reload rotates broker keys without a
// restart.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewManager constructs an empty manager. A manager with no providers admits
// every request.
func NewManager() *Manager {
	return &Manager{}
}

// SetProviders replaces the active provider list.
func (m *Manager) SetProviders(providers []Provider) {
	if m == nil {
		return
	}
	cloned := make([]Provider, len(providers))
	copy(cloned, providers)
	m.mu.Lock()
	m.providers = cloned
	m.mu.Unlock()
}

// Providers returns a snapshot of the active providers.
func (m *Manager) Providers() []Provider {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]Provider, len(m.providers))
	copy(snapshot, m.providers)
	return snapshot
}

// Authenticate evaluates providers until one accepts the request. With no
// providers configured it returns (nil, nil): an open broker.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*Result, error) {
	if m == nil {
		return nil, nil
	}
	providers := m.Providers()
	if len(providers) == 0 {
		return nil, nil
	}

	var missing, invalid bool
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		res, err := provider.Authenticate(ctx, r)
		if err == nil {
			return res, nil
		}
		switch {
		case errors.Is(err, ErrNotHandled):
		case errors.Is(err, ErrNoCredentials):
			missing = true
		case errors.Is(err, ErrInvalidCredential):
			invalid = true
		default:
			return nil, err
		}
	}

	if invalid {
		return nil, ErrInvalidCredential
	}
	if missing {
		return nil, ErrNoCredentials
	}
	return nil, ErrNoCredentials
}
