// Package store implements the Session Store (spec.md §4.2): atomic
// durable persistence of the session document, nothing else. It owns no
// business logic — the session manager is the sole caller.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

const documentVersion = 1

// document is the on-disk shape: {version, sessions: {id -> Session}}.
type document struct {
	Version  int                       `json:"version"`
	Sessions map[string]*model.Session `json:"sessions"`
}

// Store is the atomic file-backed session store. Every operation, Load
// included, serializes through mu and holds it for the duration of its
// file I/O.
type Store struct {
	mu                sync.Mutex
	path              string
	backupRetention   int
	log               *logrus.Entry
}

// New opens (or initializes) a store rooted at stateDir/sessions.json.
func New(stateDir string, backupRetention int, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "failed to create state dir", err)
	}
	return &Store{
		path:            filepath.Join(stateDir, "sessions.json"),
		backupRetention: backupRetention,
		log:             log,
	}, nil
}

// Load reads the current document, falling back to rotating backups if the
// primary file is missing or corrupt, and to an empty document (with a loud
// warning) if nothing valid is found.
func (s *Store) Load() (map[string]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(s.path)
	if err == nil {
		return doc.Sessions, nil
	}
	if s.log != nil {
		s.log.WithError(err).Warn("primary session store unreadable, trying backups")
	}

	for i := 1; i <= s.backupRetention; i++ {
		backupPath := s.backupPath(i)
		doc, err := readDocument(backupPath)
		if err == nil {
			if s.log != nil {
				s.log.Warnf("recovered session store from backup %s", backupPath)
			}
			return doc.Sessions, nil
		}
	}

	if s.log != nil {
		s.log.Warn("no valid session store or backup found; starting with an empty store")
	}
	return make(map[string]*model.Session), nil
}

func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("corrupt session document at %s: %w", path, err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*model.Session)
	}
	return doc, nil
}

// Save persists the full session map atomically: write to a temp file in
// the same directory, fsync, then rename over the primary path. The
// previous primary is rotated into the backup chain before being replaced.
func (s *Store) Save(sessions map[string]*model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Version: documentVersion, Sessions: sessions}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to marshal session document", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "sessions.*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to create temp session file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindIO, "failed to write temp session file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindIO, "failed to fsync temp session file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to close temp session file", err)
	}

	s.rotateBackups()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to commit session document", err)
	}
	return nil
}

// rotateBackups shifts sessions.N.json -> sessions.N+1.json (dropping the
// oldest beyond retention) and copies the current primary into
// sessions.1.json. It runs before the new primary is installed so a crash
// mid-rotation still leaves a readable primary or a readable backup chain.
func (s *Store) rotateBackups() {
	if s.backupRetention <= 0 {
		return
	}
	if _, err := os.Stat(s.path); err != nil {
		return // nothing to rotate yet
	}

	for i := s.backupRetention; i >= 1; i-- {
		src := s.backupPath(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if i == s.backupRetention {
			os.Remove(src)
			continue
		}
		os.Rename(src, s.backupPath(i+1))
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.backupPath(1), data, 0o644)
}

func (s *Store) backupPath(n int) string {
	ext := filepath.Ext(s.path)
	base := s.path[:len(s.path)-len(ext)]
	return fmt.Sprintf("%s.%d%s", base, n, ext)
}

// backupPaths lists every backup path in ascending age order, for tests.
func (s *Store) backupPaths() []string {
	var paths []string
	for i := 1; i <= s.backupRetention; i++ {
		paths = append(paths, s.backupPath(i))
	}
	sort.Strings(paths)
	return paths
}
