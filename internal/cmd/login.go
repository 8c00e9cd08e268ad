// Package cmd implements the llmauth commands: interactive login, token
// retrieval, forced refresh, credential status, companion sync, and the
// broker service lifecycle.
package cmd

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/browser"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/journal"
)

// DoLogin acquires fresh credentials for a provider: the browser flow where
// the provider has one, otherwise an import from its companion CLI file.
func DoLogin(cfg *config.Config, providerID string, opts *auth.LoginOptions) {
	if opts == nil {
		opts = &auth.LoginOptions{}
	}
	if !opts.NoBrowser && !browser.IsAvailable() {
		log.Debug("no usable browser found, printing the consent URL instead")
		opts.NoBrowser = true
	}

	a, err := auth.NewAuthenticator(providerID, cfg, &auth.Options{Journal: newJournal(cfg)})
	if err != nil {
		log.Fatalf("cannot login: %v", err)
	}

	ctx := context.Background()
	rec, err := a.Login(ctx, opts)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Infof("%s credentials ready, access token valid until %s",
		providerID, time.Unix(rec.ExpiresAt, 0).Format(time.RFC3339))
	log.Infof("API base: %s", a.GetAPIBase())
}

// newJournal opens the token event journal configured for this install.
func newJournal(cfg *config.Config) *journal.Journal {
	return journal.Open(cfg.ResolvedJournalPath())
}

// buildAuthenticators constructs one authenticator per catalog provider.
func buildAuthenticators(cfg *config.Config, opts *auth.Options) map[string]*auth.Authenticator {
	auths := make(map[string]*auth.Authenticator)
	for _, id := range auth.Providers() {
		a, err := auth.NewAuthenticator(id, cfg, opts)
		if err != nil {
			log.Fatalf("failed to build authenticator for %s: %v", id, err)
		}
		auths[id] = a
	}
	return auths
}
