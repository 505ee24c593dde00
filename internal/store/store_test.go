package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := New(dir, 3, nil)
	require.NoError(t, err)
	return s
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	sessions := map[string]*model.Session{
		"s1": {ID: "s1", UDID: "udid-1", CreatedAt: time.Now()},
	}

	require.NoError(t, s.Save(sessions))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "s1")
	assert.Equal(t, "udid-1", loaded["s1"].UDID)
}

func TestLoadOnMissingStoreReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(map[string]*model.Session{"s1": {ID: "s1", UDID: "a"}}))
	require.NoError(t, s.Save(map[string]*model.Session{"s1": {ID: "s1", UDID: "b"}}))

	// Corrupt the primary document.
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "s1")
	// Should recover the most recent valid backup (udid "a", the document
	// that was primary right before the corrupting write).
	assert.Equal(t, "a", loaded["s1"].UDID)
}

func TestRotateBackupsRespectsRetention(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Save(map[string]*model.Session{
			"s1": {ID: "s1", UDID: string(rune('a' + i))},
		}))
	}

	for _, p := range s.backupPaths() {
		_, err := os.Stat(p)
		assert.NoError(t, err, "expected backup %s to exist", filepath.Base(p))
	}
}
