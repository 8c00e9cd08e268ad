// Package watcher monitors companion CLI credential files and the
// configuration file. When a companion CLI rotates its tokens on disk, the
// watcher re-imports them so the broker never serves a token the CLI has
// already replaced; config changes are hot-reloaded.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/util"
)

const (
	companionReadMaxAttempts = 5
	companionReadRetryDelay  = 100 * time.Millisecond
)

// Syncer re-imports credentials from a provider's companion file.
type Syncer interface {
	CompanionPath() string
	SyncFromCompanion(ctx context.Context) (*auth.TokenRecord, bool)
}

// Watcher manages file watching for companion credentials and configuration.
type Watcher struct {
	configPath     string
	cfg            *config.Config
	watcher        *fsnotify.Watcher
	reloadCallback func(*config.Config)

	mu             sync.RWMutex
	companions     map[string]string // companion file path -> provider id
	syncers        map[string]Syncer // provider id -> syncer
	lastHashes     map[string]string
	lastConfigHash string
}

// NewWatcher creates a watcher over the given syncers, keyed by provider id.
// configPath may be empty to skip config watching.
func NewWatcher(configPath string, cfg *config.Config, syncers map[string]Syncer) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath: configPath,
		cfg:        cfg,
		watcher:    fsWatcher,
		companions: make(map[string]string),
		syncers:    syncers,
		lastHashes: make(map[string]string),
	}, nil
}

// SetReloadCallback registers a function invoked with the new configuration
// after a successful config reload.
func (w *Watcher) SetReloadCallback(fn func(*config.Config)) {
	w.reloadCallback = fn
}

// Start registers the watch paths and begins processing events. Companion
// files are watched through their parent directories because the CLIs
// replace them by rename.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	for id, syncer := range w.syncers {
		path := syncer.CompanionPath()
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); err != nil {
			log.Debugf("companion directory %s not present, skipping watch for %s", dir, id)
			continue
		}
		if !dirs[dir] {
			if err := w.watcher.Add(dir); err != nil {
				log.Errorf("failed to watch companion directory %s: %v", dir, err)
				continue
			}
			dirs[dir] = true
			log.Debugf("watching companion directory: %s", dir)
		}
		w.companions[path] = id
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			w.lastHashes[path] = contentHash(data)
		}
	}

	if w.configPath != "" {
		if err := w.watcher.Add(w.configPath); err != nil {
			log.Debugf("failed to watch config file %s: %v", w.configPath, err)
		} else {
			log.Debugf("watching config file: %s", w.configPath)
		}
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles file system events until ctx is done.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", err)
		}
	}
}

// handleEvent processes one file system event.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	written := event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create

	if event.Name == w.configPath && written {
		w.handleConfigChange()
		return
	}

	w.mu.RLock()
	providerID, isCompanion := w.companions[event.Name]
	w.mu.RUnlock()
	if !isCompanion || !written {
		return
	}
	w.handleCompanionChange(ctx, event.Name, providerID)
}

// handleCompanionChange re-imports a companion file after deduplicating by
// content hash, since editors and CLIs often fire several events per save.
func (w *Watcher) handleCompanionChange(ctx context.Context, path, providerID string) {
	data, err := readFileWithRetry(path, companionReadMaxAttempts, companionReadRetryDelay)
	if err != nil {
		log.Debugf("companion file %s not readable: %v", filepath.Base(path), err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty companion file write: %s", filepath.Base(path))
		return
	}
	newHash := contentHash(data)

	w.mu.Lock()
	if w.lastHashes[path] == newHash {
		w.mu.Unlock()
		log.Debugf("companion file unchanged (hash match), skipping: %s", filepath.Base(path))
		return
	}
	w.lastHashes[path] = newHash
	syncer := w.syncers[providerID]
	w.mu.Unlock()

	log.Infof("companion credentials changed for %s, re-importing", providerID)
	if _, ok := syncer.SyncFromCompanion(ctx); !ok {
		log.Warnf("companion credentials for %s could not be imported", providerID)
	}
}

// handleConfigChange reloads the config file and pushes it to the callback.
func (w *Watcher) handleConfigChange() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	newHash := contentHash(data)

	w.mu.Lock()
	if w.lastConfigHash != "" && w.lastConfigHash == newHash {
		w.mu.Unlock()
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	w.lastConfigHash = newHash
	w.mu.Unlock()

	newConfig, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return
	}

	w.mu.Lock()
	old := w.cfg
	w.cfg = newConfig
	w.mu.Unlock()

	util.SetLogLevel(newConfig)
	if old != nil {
		if old.Debug != newConfig.Debug {
			log.Debugf("  debug: %t -> %t", old.Debug, newConfig.Debug)
		}
		if old.AuthDir != newConfig.AuthDir {
			log.Debugf("  auth-dir: %s -> %s", old.AuthDir, newConfig.AuthDir)
		}
		if old.ProxyURL != newConfig.ProxyURL {
			log.Debugf("  proxy-url: %s -> %s", old.ProxyURL, newConfig.ProxyURL)
		}
		if len(old.APIKeys) != len(newConfig.APIKeys) {
			log.Debugf("  api-keys count: %d -> %d", len(old.APIKeys), len(newConfig.APIKeys))
		}
	}
	log.Infof("config file reloaded: %s", w.configPath)

	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
}

// readFileWithRetry reads a file, retrying briefly to ride out short-lived
// locks while a CLI is mid-write.
func readFileWithRetry(path string, attempts int, delay time.Duration) ([]byte, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
