package auth

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/journal"
	"github.com/looplight/llmauth/internal/util"
)

// Options tune an Authenticator beyond the config file.
type Options struct {
	// HTTPClient overrides the proxy-aware default client.
	HTTPClient *http.Client
	// Journal records token lifecycle events when non-nil.
	Journal *journal.Journal
	// DisableLogin prevents the authenticator from ever starting an
	// interactive login. The token broker runs with this set: a headless
	// process cannot walk a user through a browser consent.
	DisableLogin bool
	// Now substitutes the clock.
	Now func() time.Time
}

// Authenticator hands out valid access tokens for one provider. It walks the
// credential sources in order (cached record, refresh, companion CLI file,
// interactive login) and serializes the whole decision per provider so
// concurrent callers cannot trigger duplicate refreshes.
type Authenticator struct {
	provider     *Provider
	store        *FileStore
	refresher    *RefreshClient
	bridge       *Bridge
	login        *LoginFlow
	journal      *journal.Journal
	disableLogin bool
	now          func() time.Time

	mu sync.Mutex
}

// NewAuthenticator builds the credential chain for providerID. A nil cfg
// uses defaults and a nil opts is allowed.
func NewAuthenticator(providerID string, cfg *config.Config, opts *Options) (*Authenticator, error) {
	p, err := Lookup(providerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if opts == nil {
		opts = &Options{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
		util.SetProxy(cfg, httpClient)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := NewFileStore(cfg.ResolvedAuthDir())
	refresher := NewRefreshClient(p, store, httpClient)
	refresher.now = now
	bridge := NewBridge(p, store, refresher)
	if bridge != nil {
		bridge.now = now
	}
	login := NewLoginFlow(p, store, httpClient)
	if login != nil {
		login.now = now
	}

	return &Authenticator{
		provider:     p,
		store:        store,
		refresher:    refresher,
		bridge:       bridge,
		login:        login,
		journal:      opts.Journal,
		disableLogin: opts.DisableLogin,
		now:          now,
	}, nil
}

// Provider exposes the catalog entry this authenticator serves.
func (a *Authenticator) Provider() *Provider { return a.provider }

// GetAccessToken returns a valid access token, renewing or acquiring one as
// needed. The error is always a *GetAccessTokenError; refresh failures are
// logged and absorbed by falling through to the next source.
func (a *Authenticator) GetAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.provider
	rec := a.store.Read(p)
	if rec.Usable(a.now()) {
		return rec.AccessToken, nil
	}

	if rec.Refreshable() {
		fresh, err := a.refresher.Refresh(ctx, rec.RefreshToken, rec)
		if err == nil {
			a.record(journal.KindRefresh, "")
			return fresh.AccessToken, nil
		}
		log.Warnf("%s token refresh failed, trying next credential source: %v", p.ID, err)
		a.record(journal.KindRefreshFailed, err.Error())
	}

	if a.bridge != nil {
		if imported, ok := a.bridge.TryImport(ctx); ok {
			a.record(journal.KindBridgeImport, a.bridge.Path())
			return imported.AccessToken, nil
		}
	}

	if a.login != nil && !a.disableLogin {
		fresh, err := a.login.Run(ctx, nil)
		if err != nil {
			return "", err
		}
		a.record(journal.KindLogin, fresh.Email)
		return fresh.AccessToken, nil
	}

	return "", &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: p.Remediation}
}

// Login acquires fresh credentials regardless of what is cached: the
// interactive flow when the provider has one, otherwise an import from the
// companion CLI file.
func (a *Authenticator) Login(ctx context.Context, opts *LoginOptions) (*TokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.login != nil {
		rec, err := a.login.Run(ctx, opts)
		if err != nil {
			return nil, err
		}
		a.record(journal.KindLogin, rec.Email)
		return rec, nil
	}
	if a.bridge != nil {
		if rec, ok := a.bridge.TryImport(ctx); ok {
			a.record(journal.KindBridgeImport, a.bridge.Path())
			return rec, nil
		}
	}
	return nil, &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: a.provider.Remediation}
}

// ForceRefresh renews the cached record now, without checking expiry.
func (a *Authenticator) ForceRefresh(ctx context.Context) (*TokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := a.store.Read(a.provider)
	if !rec.Refreshable() {
		return nil, &RefreshAccessTokenError{StatusCode: http.StatusBadRequest, Message: "no refresh token available"}
	}
	fresh, err := a.refresher.Refresh(ctx, rec.RefreshToken, rec)
	if err != nil {
		a.record(journal.KindRefreshFailed, err.Error())
		return nil, err
	}
	a.record(journal.KindRefresh, "forced")
	return fresh, nil
}

// SyncFromCompanion re-imports the companion CLI file. The watcher calls
// this when the file changes on disk.
func (a *Authenticator) SyncFromCompanion(ctx context.Context) (*TokenRecord, bool) {
	if a.bridge == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.bridge.TryImport(ctx)
	if ok {
		a.record(journal.KindBridgeImport, a.bridge.Path())
	}
	return rec, ok
}

// CompanionPath returns the bridged credential file location, or "" when the
// provider has none.
func (a *Authenticator) CompanionPath() string {
	if a.bridge == nil {
		return ""
	}
	return a.bridge.Path()
}

// GetAPIBase resolves the request base URL: environment override, then the
// resource URL the token endpoint advertised, then the provider default.
func (a *Authenticator) GetAPIBase() string {
	p := a.provider
	for _, env := range p.APIBaseEnvs {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if rec := a.store.Read(p); rec != nil && rec.ResourceURL != "" {
		if p.NormalizeResourceURL {
			return normalizeResourceURL(rec.ResourceURL)
		}
		return rec.ResourceURL
	}
	return p.DefaultAPIBase
}

// GetProjectID returns the cloud project or resource identifier recorded for
// the account, or "" when none is known.
func (a *Authenticator) GetProjectID() string {
	rec := a.store.Read(a.provider)
	if rec == nil {
		return ""
	}
	if rec.ProjectID != "" {
		return rec.ProjectID
	}
	return rec.ResourceURL
}

// DefaultHeaders returns the headers an API request to this provider needs,
// including a live bearer token.
func (a *Authenticator) DefaultHeaders(ctx context.Context) (map[string]string, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := a.provider.requestHeaders()
	h["Authorization"] = "Bearer " + token
	return h, nil
}

// Status describes the provider's credential state for the status command
// and the broker API.
type Status struct {
	Provider    string `json:"provider"`
	Label       string `json:"label"`
	Path        string `json:"path"`
	HasRecord   bool   `json:"has_record"`
	Usable      bool   `json:"usable"`
	Refreshable bool   `json:"refreshable"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	Email       string `json:"email,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	APIBase     string `json:"api_base"`
	Companion   string `json:"companion_path,omitempty"`
	LastRefresh string `json:"last_refresh,omitempty"`
}

// Status reports the current credential state without touching the network.
func (a *Authenticator) Status() Status {
	p := a.provider
	st := Status{
		Provider:  p.ID,
		Label:     p.Label,
		Path:      a.store.Path(p),
		APIBase:   a.GetAPIBase(),
		Companion: a.CompanionPath(),
	}
	rec := a.store.Read(p)
	if rec == nil {
		return st
	}
	st.HasRecord = true
	st.Usable = rec.Usable(a.now())
	st.Refreshable = rec.Refreshable()
	st.ExpiresAt = rec.ExpiresAt
	st.Email = rec.Email
	st.ProjectID = rec.ProjectID
	st.LastRefresh = rec.LastRefresh
	return st
}

func (a *Authenticator) record(kind, detail string) {
	if err := a.journal.Append(a.provider.ID, kind, detail); err != nil {
		log.Debugf("journal append failed: %v", err)
	}
}
