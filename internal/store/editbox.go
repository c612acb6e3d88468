package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotcommander/storyforge/internal/models"
)

// EditBox is the drop box directory where agents write at most one pending
// edit-request file per story (spec §6).
type EditBox struct {
	dir string
}

// NewEditBox returns an EditBox rooted under dir/edits.
func NewEditBox(root string) (*EditBox, error) {
	dir := filepath.Join(root, "edits")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create edit box dir: %w", err)
	}
	return &EditBox{dir: dir}, nil
}

func (b *EditBox) path(storyID string) string {
	return filepath.Join(b.dir, storyID+".json")
}

// Take looks for a pending edit-request file for storyID, and if present,
// parses and removes it (an edit request is consumed exactly once). Returns
// nil, nil if no file is pending.
func (b *EditBox) Take(storyID string) (*models.EditRequest, error) {
	path := b.path(storyID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read edit request %s: %w", path, err)
	}

	var req models.EditRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("parse edit request %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove consumed edit request %s: %w", path, err)
	}
	return &req, nil
}

// Discard removes a pending edit-request file without applying it. Used
// when the step that wrote it ended in failure or was cancelled (spec §4.3,
// §5: "a cancelled step never has its edit request applied").
func (b *EditBox) Discard(storyID string) error {
	err := os.Remove(b.path(storyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Write is used by tests and by agent-backend adapters that receive an edit
// request out-of-band to place it in the drop box as the real agent CLI would.
func (b *EditBox) Write(req *models.EditRequest) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal edit request: %w", err)
	}
	return os.WriteFile(b.path(req.StoryID), data, 0o644)
}
