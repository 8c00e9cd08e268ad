package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// FileStore persists one TokenRecord per provider as a JSON file named
// auth.<provider>.json inside the token directory. Reads never fail the
// caller: a missing or unreadable file is reported as "no record".
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. Per-provider environment
// variables still override the directory for individual providers.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: expandHome(dir)}
}

// Dir resolves the token directory for a provider: the provider's
// environment override wins, then the configured directory.
func (s *FileStore) Dir(p *Provider) string {
	if p.TokenDirEnv != "" {
		if dir := os.Getenv(p.TokenDirEnv); dir != "" {
			return expandHome(dir)
		}
	}
	return s.dir
}

// Path is the record file location for a provider.
func (s *FileStore) Path(p *Provider) string {
	return filepath.Join(s.Dir(p), p.AuthFileName())
}

// Read loads the provider's record. It returns nil when the file is absent,
// unreadable, or not valid JSON; corruption is logged and treated the same
// as a missing record so the caller falls through to refresh or login.
func (s *FileStore) Read(p *Provider) *TokenRecord {
	path := s.Path(p)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("failed to read token record %s: %v", path, err)
		}
		return nil
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnf("ignoring malformed token record %s: %v", path, err)
		return nil
	}
	return &rec
}

// Write replaces the provider's record on disk. The record is marshaled to
// a temporary file first and renamed into place so readers never observe a
// partial document. The file is created with 0600 and its directory with
// 0700.
func (s *FileStore) Write(p *Provider, rec *TokenRecord) error {
	path := s.Path(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	log.Debugf("saved %s credentials to %s", p.ID, path)
	return nil
}

// expandHome resolves a leading ~ against the current user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
