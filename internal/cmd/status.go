package cmd

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/misc"
)

// DoStatus reports the credential state for one provider, or all of them,
// followed by the most recent journal entries. Nothing here touches the
// network.
func DoStatus(cfg *config.Config, providerID string) {
	providers := auth.Providers()
	if providerID != "" {
		providers = []string{providerID}
	}

	events := newJournal(cfg)
	for _, id := range providers {
		a, err := auth.NewAuthenticator(id, cfg, nil)
		if err != nil {
			log.Fatalf("cannot report status: %v", err)
		}
		st := a.Status()

		misc.LogCredentialSeparator()
		log.Infof("%s (%s)", st.Label, st.Provider)
		log.Infof("  record:    %s", st.Path)
		if !st.HasRecord {
			log.Info("  state:     no credentials")
		} else if st.Usable {
			log.Infof("  state:     valid until %s", time.Unix(st.ExpiresAt, 0).Format(time.RFC3339))
		} else if st.Refreshable {
			log.Info("  state:     expired, refreshable")
		} else {
			log.Info("  state:     expired, login required")
		}
		if st.Email != "" {
			log.Infof("  account:   %s", st.Email)
		}
		if st.ProjectID != "" {
			log.Infof("  project:   %s", st.ProjectID)
		}
		log.Infof("  api base:  %s", st.APIBase)
		if st.Companion != "" {
			log.Infof("  companion: %s", st.Companion)
		}
		if st.LastRefresh != "" {
			log.Infof("  refreshed: %s", st.LastRefresh)
		}
	}

	recent, err := events.Recent(providerID, 10)
	if err != nil {
		log.Warnf("could not read token event journal: %v", err)
		return
	}
	if len(recent) > 0 {
		misc.LogCredentialSeparator()
		log.Info("recent token events:")
		for _, ev := range recent {
			if ev.Detail != "" {
				log.Infof("  %s  %-14s %s (%s)", ev.At.Format(time.RFC3339), ev.Kind, ev.Provider, ev.Detail)
			} else {
				log.Infof("  %s  %-14s %s", ev.At.Format(time.RFC3339), ev.Kind, ev.Provider)
			}
		}
	}
}

// DoSync imports companion CLI credentials for every bridged provider once.
func DoSync(cfg *config.Config) {
	auths := buildAuthenticators(cfg, &auth.Options{Journal: newJournal(cfg), DisableLogin: true})
	ctx := context.Background()

	imported := 0
	for _, id := range auth.Providers() {
		a := auths[id]
		if a.CompanionPath() == "" {
			continue
		}
		if rec, ok := a.SyncFromCompanion(ctx); ok {
			imported++
			log.Infof("%s: imported companion credentials, valid until %s",
				id, time.Unix(rec.ExpiresAt, 0).Format(time.RFC3339))
		} else {
			log.Infof("%s: no usable companion credentials at %s", id, a.CompanionPath())
		}
	}
	log.Infof("companion sync complete: %d provider(s) imported", imported)
}
