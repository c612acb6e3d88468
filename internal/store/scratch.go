package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotcommander/storyforge/pkg/cache"
)

const scratchCacheScope = "scratch"

// Scratch manages the global and per-story scratch documents (spec §3, §4.3).
// The global document is multi-writer, protected by the same lock
// discipline as the state document. A per-story document is single-writer
// by assignment invariant and needs no lock.
type Scratch struct {
	dir   string
	cache cache.Store
}

// NewScratch returns a Scratch rooted under dir/scratch.
func NewScratch(root string) (*Scratch, error) {
	dir := filepath.Join(root, "scratch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir, cache: cache.NewLRU(64)}, nil
}

func (s *Scratch) globalPath() string        { return filepath.Join(s.dir, "global.md") }
func (s *Scratch) storyPath(id string) string { return filepath.Join(s.dir, "story-"+id+".md") }
func (s *Scratch) archivePath(id string) string {
	return filepath.Join(s.dir, "archive", "story-"+id+".md")
}

// AppendGlobal appends entry to the global scratch document under the state
// lock, shared with every other writer (spec §5: "global scratch is
// multi-writer under the same lock").
func (s *Scratch) AppendGlobal(ctx context.Context, entry string) error {
	lock, err := acquireLock(ctx, filepath.Join(filepath.Dir(s.dir), "state.json"), DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := appendFile(s.globalPath(), entry); err != nil {
		return err
	}
	s.cache.Invalidate(scratchCacheScope, "", "global")
	return nil
}

// ReadGlobal returns the entire contents of the global scratch document.
func (s *Scratch) ReadGlobal() (string, error) {
	if v, ok := s.cache.Get(scratchCacheScope, "", "global"); ok {
		return v, nil
	}
	v, err := readFileOrEmpty(s.globalPath())
	if err != nil {
		return "", err
	}
	s.cache.Set(scratchCacheScope, "", "global", v)
	return v, nil
}

// AppendStory appends entry to storyID's per-story scratch document. No
// lock is taken: the assigned worker is the single writer for the lifetime
// of the story's in_progress status (spec §3 invariant).
func (s *Scratch) AppendStory(storyID, entry string) error {
	if err := appendFile(s.storyPath(storyID), entry); err != nil {
		return err
	}
	s.cache.Invalidate(scratchCacheScope, storyID, "story")
	return nil
}

// ReadStory returns the entire contents of storyID's per-story scratch document.
func (s *Scratch) ReadStory(storyID string) (string, error) {
	if v, ok := s.cache.Get(scratchCacheScope, storyID, "story"); ok {
		return v, nil
	}
	v, err := readFileOrEmpty(s.storyPath(storyID))
	if err != nil {
		return "", err
	}
	s.cache.Set(scratchCacheScope, storyID, "story", v)
	return v, nil
}

// ArchiveStory moves a completed story's scratch document out of the active
// directory, per the design note that per-story scratch has an explicit
// archival policy at story completion so composed prompts for long-running
// runs don't keep re-reading documents belonging to finished work.
func (s *Scratch) ArchiveStory(storyID string) error {
	src := s.storyPath(storyID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	dst := s.archivePath(storyID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create scratch archive dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archive story scratch: %w", err)
	}
	s.cache.Invalidate(scratchCacheScope, storyID, "story")
	return nil
}

func appendFile(path, entry string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open scratch file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append scratch file %s: %w", path, err)
	}
	if len(entry) == 0 || entry[len(entry)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}
	return nil
}

func readFileOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read scratch file %s: %w", path, err)
	}
	return string(data), nil
}
