// Package runner drives a single claimed story to completion, running its
// pending steps one at a time through the executor until the workflow is
// exhausted, the story fails, or the context is cancelled (spec §4.4).
package runner

import (
	"context"
	"fmt"

	"github.com/dotcommander/storyforge/internal/executor"
	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/vcs"
)

// Runner drives one story at a time. It holds no story-specific state of
// its own: every iteration re-reads the current story from the store, so a
// runner is safe to reuse across stories sequentially within one worker slot.
type Runner struct {
	exec *executor.Executor
	st   *store.Store
}

// New returns a Runner executing steps via exec against the shared store.
func New(exec *executor.Executor, st *store.Store) *Runner {
	return &Runner{exec: exec, st: st}
}

// Run drives storyID, in repo's working tree, on behalf of workerID, until
// the story reaches a terminal status or ctx is cancelled. It returns the
// story's final status, or an error if the run could not proceed at all
// (e.g. the story disappeared from the document).
func (r *Runner) Run(ctx context.Context, repo *vcs.Repo, storyID, workerID string) (models.StoryStatus, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		doc, err := r.st.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("read state for story %s: %w", storyID, err)
		}
		s := doc.Stories[storyID]
		if s == nil {
			return "", store.ErrStoryNotFound(storyID)
		}
		if s.Status.IsTerminal() {
			return s.Status, nil
		}

		pending := s.FirstPendingStep()
		if pending == nil {
			// Every step is terminal but the story itself was never marked
			// completed or failed — this only happens immediately after a
			// crash left the last step finished and the story transition
			// unrecorded; the next loop iteration's CompleteStep call inside
			// the executor already handles the normal case, so surface this
			// as a stuck story rather than spin.
			return s.Status, fmt.Errorf("story %s has no pending steps but is not terminal (status=%s)", storyID, s.Status)
		}

		if err := r.exec.RunStep(ctx, repo, storyID, pending.ID, workerID); err != nil {
			return "", fmt.Errorf("run story %s step %d: %w", storyID, pending.ID, err)
		}
	}
}
