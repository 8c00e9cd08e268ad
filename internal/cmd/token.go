package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
)

// DoToken prints a valid access token for the provider to stdout so it can
// be piped into curl or exported. Everything else goes to the log.
func DoToken(cfg *config.Config, providerID string) {
	a, err := auth.NewAuthenticator(providerID, cfg, &auth.Options{Journal: newJournal(cfg)})
	if err != nil {
		log.Fatalf("cannot get token: %v", err)
	}

	token, err := a.GetAccessToken(context.Background())
	if err != nil {
		log.Fatalf("no token available for %s: %v", providerID, err)
	}
	fmt.Println(token)
}

// DoRefresh forces a refresh for the provider even if the cached token is
// still live.
func DoRefresh(cfg *config.Config, providerID string) {
	a, err := auth.NewAuthenticator(providerID, cfg, &auth.Options{Journal: newJournal(cfg)})
	if err != nil {
		log.Fatalf("cannot refresh: %v", err)
	}

	rec, err := a.ForceRefresh(context.Background())
	if err != nil {
		log.Fatalf("refresh failed for %s: %v", providerID, err)
	}
	log.Infof("%s token refreshed, valid until %s",
		providerID, time.Unix(rec.ExpiresAt, 0).Format(time.RFC3339))
}
