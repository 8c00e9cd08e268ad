package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/api"
	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/logging"
	"github.com/looplight/llmauth/internal/watcher"
)

// StartService runs the token broker: an initial companion sync, the HTTP
// server, and the file watcher that keeps imported credentials current. It
// blocks until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) {
	events := newJournal(cfg)
	auths := buildAuthenticators(cfg, &auth.Options{Journal: events, DisableLogin: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Adopt whatever the companion CLIs have on disk before serving.
	for _, id := range auth.Providers() {
		a := auths[id]
		if a.CompanionPath() == "" {
			continue
		}
		if _, ok := a.SyncFromCompanion(ctx); ok {
			log.Infof("adopted companion credentials for %s", id)
		}
	}

	sources := make(map[string]api.Source, len(auths))
	syncers := make(map[string]watcher.Syncer)
	for id, a := range auths {
		sources[id] = a
		if a.CompanionPath() != "" {
			syncers[id] = a
		}
	}

	apiServer := api.NewServer(cfg, sources, events)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("token broker failed to start: %v", err)
		}
	}()

	fileWatcher, err := watcher.NewWatcher(configPath, cfg, syncers)
	if err != nil {
		log.Fatalf("failed to create file watcher: %v", err)
	}
	lastLoggingToFile := cfg.LoggingToFile
	fileWatcher.SetReloadCallback(func(newCfg *config.Config) {
		apiServer.UpdateAccess(newCfg)
		if newCfg.LoggingToFile != lastLoggingToFile {
			if err := logging.ConfigureLogOutput(newCfg.LoggingToFile); err != nil {
				log.Errorf("failed to reconfigure log output: %v", err)
			} else {
				lastLoggingToFile = newCfg.LoggingToFile
			}
		}
	})
	if err = fileWatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start file watcher: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Debug("received shutdown signal, cleaning up...")

	cancel()
	if err = fileWatcher.Stop(); err != nil {
		log.Debugf("error stopping file watcher: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err = apiServer.Stop(shutdownCtx); err != nil {
		log.Debugf("error stopping token broker: %v", err)
	}
	log.Info("shutdown complete")
}
