package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := Open(filepath.Join(t.TempDir(), "nested", "events.bolt"))
	j.now = func() time.Time { return time.Unix(1_757_000_000, 0) }
	return j
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Append("kimi-code", KindRefresh, ""))
	require.NoError(t, j.Append("qwen-portal", KindBridgeImport, "/home/dev/.qwen/oauth_creds.json"))
	require.NoError(t, j.Append("kimi-code", KindRefreshFailed, "status 401"))

	events, err := j.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, KindRefreshFailed, events[0].Kind)
	assert.Equal(t, KindBridgeImport, events[1].Kind)
	assert.Equal(t, KindRefresh, events[2].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "status 401", events[0].Detail)
}

func TestJournalRecentFiltersByProvider(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Append("kimi-code", KindRefresh, ""))
	require.NoError(t, j.Append("qwen-portal", KindRefresh, ""))
	require.NoError(t, j.Append("kimi-code", KindLogin, ""))

	events, err := j.Recent("kimi-code", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "kimi-code", ev.Provider)
	}
}

func TestJournalRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append("kimi-code", KindRefresh, ""))
	}

	events, err := j.Recent("", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestJournalRecentWithoutFile(t *testing.T) {
	j := Open(filepath.Join(t.TempDir(), "never-written.bolt"))
	events, err := j.Recent("", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Append("kimi-code", KindRefresh, ""))

	events, err := j.Recent("", 10)
	require.NoError(t, err)
	assert.Nil(t, events)
}
