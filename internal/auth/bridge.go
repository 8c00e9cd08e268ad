package auth

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Bridge adopts credentials maintained by a provider's companion CLI. The
// companion file is the CLI's own state; this process reads it tolerantly
// and, after a refresh, mirrors the replacement tokens back so both sides
// keep working.
type Bridge struct {
	provider  *Provider
	store     *FileStore
	refresher *RefreshClient
	now       func() time.Time
}

// NewBridge returns a bridge for p, or nil when the provider has no
// companion CLI file.
func NewBridge(p *Provider, store *FileStore, refresher *RefreshClient) *Bridge {
	if p.Bridge == nil {
		return nil
	}
	return &Bridge{provider: p, store: store, refresher: refresher, now: time.Now}
}

// Path is the companion credential file location with ~ expanded.
func (b *Bridge) Path() string {
	return expandHome(b.provider.Bridge.Path)
}

// TryImport reads the companion file and returns a usable record from it.
// A live companion token is adopted into the store as-is; an expired one
// with a refresh token triggers a refresh (which persists and mirrors back
// on its own). Absent, malformed, or dead companion credentials return
// ok=false and never an error: the bridge is one source among several.
func (b *Bridge) TryImport(ctx context.Context) (*TokenRecord, bool) {
	p := b.provider
	rec, ok := b.load()
	if !ok {
		return nil, false
	}
	if prev := b.store.Read(p); prev != nil {
		if rec.ProjectID == "" {
			rec.ProjectID = prev.ProjectID
		}
		if rec.Email == "" {
			rec.Email = prev.Email
		}
	}
	if rec.Usable(b.now()) {
		if err := b.store.Write(p, rec); err != nil {
			log.Warnf("imported %s companion credentials could not be persisted: %v", p.ID, err)
		}
		log.Infof("imported %s credentials from %s", p.ID, b.Path())
		return rec, true
	}
	if rec.Refreshable() {
		log.Debugf("companion %s credentials are expired, refreshing", p.ID)
		fresh, err := b.refresher.Refresh(ctx, rec.RefreshToken, rec)
		if err != nil {
			log.Warnf("refresh of companion %s credentials failed: %v", p.ID, err)
			return nil, false
		}
		return fresh, true
	}
	return nil, false
}

// load parses the companion file into a record. The expiry is normalized to
// unix seconds and the provider skew is applied once, here, so the record
// obeys the same staleness test as everything else.
func (b *Bridge) load() (*TokenRecord, bool) {
	p := b.provider
	path := b.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("failed to read companion credentials %s: %v", path, err)
		}
		return nil, false
	}
	if !gjson.ValidBytes(data) {
		log.Warnf("ignoring malformed companion credentials %s", path)
		return nil, false
	}
	root := gjson.ParseBytes(data)
	rec := &TokenRecord{
		AccessToken:  root.Get("access_token").String(),
		RefreshToken: root.Get("refresh_token").String(),
		TokenType:    root.Get("token_type").String(),
		ResourceURL:  root.Get("resource_url").String(),
		Scope:        root.Get("scope").String(),
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return nil, false
	}
	if instant := root.Get(p.Bridge.ExpiryKey).Float(); instant > 0 {
		if p.Bridge.ExpiryInMilliseconds {
			instant /= 1000
		}
		rec.ExpiresAt = int64(instant) - int64(p.Skew/time.Second)
	}
	return rec, true
}

// mirrorToCompanion writes refreshed tokens back into the companion file,
// updating only the keys this package owns so whatever else the CLI stores
// there survives. The expiry is written in the companion's native unit and
// without our skew. Failures are logged; the refresh already succeeded.
func mirrorToCompanion(p *Provider, rec *TokenRecord) {
	spec := p.Bridge
	path := expandHome(spec.Path)
	base, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(base) {
		base = []byte("{}")
	}

	instant := rec.ExpiresAt + int64(p.Skew/time.Second)
	expiry := instant
	if spec.ExpiryInMilliseconds {
		expiry = instant * 1000
	}

	out := base
	out, _ = sjson.SetBytes(out, "access_token", rec.AccessToken)
	if rec.RefreshToken != "" {
		out, _ = sjson.SetBytes(out, "refresh_token", rec.RefreshToken)
	}
	out, _ = sjson.SetBytes(out, spec.ExpiryKey, expiry)
	out, _ = sjson.SetBytes(out, "token_type", rec.Type())
	if rec.ResourceURL != "" {
		out, _ = sjson.SetBytes(out, "resource_url", rec.ResourceURL)
	}
	if rec.Scope != "" {
		out, _ = sjson.SetBytes(out, "scope", rec.Scope)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Warnf("could not create companion credentials directory for %s: %v", p.ID, err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		log.Warnf("could not mirror %s credentials to %s: %v", p.ID, path, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		log.Warnf("could not mirror %s credentials to %s: %v", p.ID, path, err)
		return
	}
	log.Debugf("mirrored refreshed %s credentials to %s", p.ID, path)
}
