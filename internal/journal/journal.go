// Package journal keeps an append-only log of token lifecycle events in a
// bbolt file next to the credentials. When several tools share a refresh
// token, the journal is what tells you which process rotated it out from
// under the others.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const bucketEvents = "events"

// Event kinds.
const (
	KindLogin         = "login"
	KindRefresh       = "refresh"
	KindRefreshFailed = "refresh-failed"
	KindBridgeImport  = "bridge-import"
)

// Event is one recorded lifecycle transition.
type Event struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Journal appends events to a bbolt database. The database is opened per
// operation with a short lock timeout so independent processes can share
// the file. A nil *Journal swallows appends, which lets callers treat
// journaling as optional.
type Journal struct {
	path string
	now  func() time.Time
}

// Open returns a journal backed by the bbolt file at path. The file is not
// touched until the first append.
func Open(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

func (j *Journal) openDB() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return nil, err
	}
	return bolt.Open(j.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
}

// Append records one event under the next sequence number.
func (j *Journal) Append(provider, kind, detail string) error {
	if j == nil {
		return nil
	}
	db, err := j.openDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ev := Event{
		ID:       uuid.NewString(),
		Provider: provider,
		Kind:     kind,
		Detail:   detail,
		At:       j.now(),
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketEvents))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		val, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
}

// Recent returns up to limit events, newest first. An empty provider
// matches all providers.
func (j *Journal) Recent(provider string, limit int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if _, err := os.Stat(j.path); err != nil {
		return nil, nil
	}
	db, err := j.openDB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var events []Event
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			if provider != "" && ev.Provider != provider {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
