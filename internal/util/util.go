package util

import (
	"github.com/looplight/llmauth/internal/config"
	log "github.com/sirupsen/logrus"
)

// SetLogLevel configures the logrus log level based on the configuration.
// Debug mode selects DebugLevel, everything else runs at InfoLevel.
func SetLogLevel(cfg *config.Config) {
	currentLevel := log.GetLevel()
	newLevel := log.InfoLevel
	if cfg.Debug {
		newLevel = log.DebugLevel
	}
	if currentLevel != newLevel {
		log.SetLevel(newLevel)
		log.Debugf("log level changed from %s to %s (debug=%t)", currentLevel, newLevel, cfg.Debug)
	}
}
