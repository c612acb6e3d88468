package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotcommander/storyforge/internal/models"
)

// Store is the file-locked JSON state store (spec §3, §4.8). Only the
// orchestrator calls Mutate; worker-facing code only ever calls Read.
type Store struct {
	root    string
	docPath string
	timeout func() time.Duration
}

// Open returns a Store rooted at dir. dir is the "well-known root" shared
// identically by every worker (state document, scratch files, edit-request
// drop box, and log tree all live under it).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state root %s: %w", dir, err)
	}
	s := &Store{
		root:    dir,
		docPath: filepath.Join(dir, "state.json"),
	}
	s.timeout = func() time.Duration { return DefaultLockTimeout }
	return s, nil
}

// Root returns the shared state root directory.
func (s *Store) Root() string { return s.root }

// Init creates the initial state document if one does not already exist.
// It is idempotent: calling it against an existing run is a no-op.
func (s *Store) Init(ctx context.Context, manifestPath string) error {
	lock, err := acquireLock(ctx, s.docPath, s.timeout())
	if err != nil {
		return err
	}
	defer lock.release()

	if _, err := os.Stat(s.docPath); err == nil {
		return nil
	}
	return s.writeLocked(newDocument(manifestPath))
}

// Read loads the current document under the state lock. Workers use this
// for their read-only view; it never writes.
func (s *Store) Read(ctx context.Context) (*Document, error) {
	lock, err := acquireLock(ctx, s.docPath, s.timeout())
	if err != nil {
		return nil, err
	}
	defer lock.release()
	return s.readLocked()
}

// Mutate implements the full §4.8 protocol: acquire the lock, read the
// current document, run fn against it (validate + apply + append history),
// and — only if fn returns nil — atomically persist the result before
// releasing the lock. If fn returns an error the document on disk is left
// completely unchanged.
func (s *Store) Mutate(ctx context.Context, fn func(doc *Document) error) error {
	lock, err := acquireLock(ctx, s.docPath, s.timeout())
	if err != nil {
		return err
	}
	defer lock.release()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}

	working := doc.clone()
	if err := fn(working); err != nil {
		return err
	}

	return s.writeLocked(working)
}

func (s *Store) readLocked() (*Document, error) {
	data, err := os.ReadFile(s.docPath)
	if err != nil {
		return nil, fmt.Errorf("read state document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state document: %w", err)
	}
	if doc.Stories == nil {
		doc.Stories = make(map[string]*models.Story)
	}
	return &doc, nil
}

// writeLocked serializes doc and atomically replaces the document: write to
// a sibling temp file, fsync, then rename over the original. Rename is
// atomic on the same filesystem, so a crash mid-write never leaves a
// partially-written document in place.
func (s *Store) writeLocked(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}
	tmp := s.docPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.docPath); err != nil {
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}
