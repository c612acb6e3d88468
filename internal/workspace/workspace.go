// Package workspace manages each worker's isolated git checkout and the
// rebase-then-squash-merge integration strategy used when a story completes
// (spec §4.7). Conflict resolution is modeled as a scheduled step rather
// than automatic merging: a rebase failure inserts a coding step immediately
// before final_review and lets the agent resolve it like any other step.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/vcs"
)

// fetchRetryMaxElapsed bounds how long a fetch between two local checkouts
// is retried before giving up; a stuck fetch here is a filesystem problem,
// not a conflict, so it is worth a few attempts before surfacing an error.
const fetchRetryMaxElapsed = 5 * time.Second

// retryFetch retries a transient fetch failure (e.g. a momentarily locked
// object store) with exponential backoff, bounded by fetchRetryMaxElapsed.
func retryFetch(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = fetchRetryMaxElapsed
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}

// Manager creates and disposes per-story checkouts cloned from a shared
// base repository, and integrates completed stories back into it.
type Manager struct {
	base *vcs.Repo
	root string
}

// NewManager returns a Manager cloning worker checkouts under root, derived
// from base's current state.
func NewManager(base *vcs.Repo, root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace checkout root: %w", err)
	}
	return &Manager{base: base, root: root}, nil
}

func (m *Manager) checkoutDir(storyID string) string {
	return filepath.Join(m.root, storyID)
}

func branchName(storyID string) string {
	return "story/" + storyID
}

// Checkout returns an isolated working tree for storyID, cloned from the
// base repository's current HEAD and switched to a fresh story branch.
// Calling Checkout again for a story whose directory already exists resets
// and reuses it instead of re-cloning, so resumed runs don't pay clone cost
// twice.
func (m *Manager) Checkout(ctx context.Context, storyID string) (*vcs.Repo, error) {
	dir := m.checkoutDir(storyID)
	if _, err := os.Stat(dir); err == nil {
		repo := vcs.Open(dir)
		base, err := m.base.HeadRevision(ctx)
		if err != nil {
			return nil, fmt.Errorf("read base revision: %w", err)
		}
		if err := repo.HardReset(ctx, base); err != nil {
			return nil, fmt.Errorf("reset reused checkout for story %s: %w", storyID, err)
		}
		return repo, nil
	}

	repo, err := vcs.Clone(ctx, m.base.Dir(), dir)
	if err != nil {
		return nil, fmt.Errorf("clone checkout for story %s: %w", storyID, err)
	}
	if err := repo.CheckoutNewBranch(ctx, branchName(storyID)); err != nil {
		return nil, fmt.Errorf("create branch for story %s: %w", storyID, err)
	}
	return repo, nil
}

// OpenIfExists returns the Repo for storyID's checkout if one already
// exists on disk, or nil if it was never created (or was already
// disposed). Used during reconciliation, where a crashed run's checkout
// may or may not still be present.
func (m *Manager) OpenIfExists(storyID string) *vcs.Repo {
	if _, err := os.Stat(m.checkoutDir(storyID)); err != nil {
		return nil
	}
	return vcs.Open(m.checkoutDir(storyID))
}

// Reset hard-resets repo to rev and removes untracked files, used by the
// scheduler when it reconciles a step left in progress by a crashed run.
func (m *Manager) Reset(ctx context.Context, repo *vcs.Repo, rev string) error {
	return repo.HardReset(ctx, rev)
}

// Dispose removes a story's checkout directory entirely, once its work has
// been integrated.
func (m *Manager) Dispose(storyID string) error {
	return os.RemoveAll(m.checkoutDir(storyID))
}

// conflictResolutionDescription is the description stamped on an inserted
// conflict-resolution step.
const conflictResolutionDescription = "Resolve the rebase conflicts raised while integrating this story onto the current base branch, then re-run final review."

// Integrate rebases storyID's branch onto the base repository's current
// HEAD and, on success, performs a squash merge with a conventional commit
// message. On a rebase conflict it does not fail the story: instead it
// inserts a coding step immediately before final_review (spec §4.7) so the
// next runner iteration schedules conflict resolution like any other step,
// and returns ok=false so the caller knows integration did not complete.
func (m *Manager) Integrate(ctx context.Context, st *store.Store, storyID string) (ok bool, err error) {
	repo := vcs.Open(m.checkoutDir(storyID))
	base, err := m.base.HeadRevision(ctx)
	if err != nil {
		return false, fmt.Errorf("read base revision: %w", err)
	}
	if err := retryFetch(ctx, func() error { return repo.FetchFrom(ctx, m.base.Dir(), base) }); err != nil {
		return false, fmt.Errorf("fetch base revision into story %s checkout: %w", storyID, err)
	}

	if rebaseErr := repo.Rebase(ctx, base); rebaseErr != nil {
		mutateErr := st.Mutate(ctx, func(doc *store.Document) error {
			return insertConflictResolutionStep(doc, storyID, rebaseErr.Error())
		})
		if mutateErr != nil {
			return false, fmt.Errorf("record conflict resolution step for story %s: %w", storyID, mutateErr)
		}
		return false, nil
	}

	if err := retryFetch(ctx, func() error { return m.base.FetchFrom(ctx, repo.Dir(), branchName(storyID)) }); err != nil {
		return false, fmt.Errorf("fetch story %s branch into base: %w", storyID, err)
	}
	message := fmt.Sprintf("Integrate story %s", storyID)
	if err := m.base.SquashMergeInto(ctx, "FETCH_HEAD", message); err != nil {
		return false, fmt.Errorf("squash merge story %s: %w", storyID, err)
	}
	return true, nil
}

// insertConflictResolutionStep adds a pending coding step immediately
// before final_review and reopens the story for further work, appending an
// integration-conflict history entry.
func insertConflictResolutionStep(doc *store.Document, storyID, reason string) error {
	s := doc.Stories[storyID]
	if s == nil {
		return store.ErrStoryNotFound(storyID)
	}

	finalIdx := -1
	for i, st := range s.Steps {
		if st.Kind == models.StepKindFinalReview {
			finalIdx = i
			break
		}
	}
	if finalIdx < 0 {
		return fmt.Errorf("story %s has no final_review step to insert before", storyID)
	}

	conflictStep := &models.Step{
		ID:          s.NextStepID(),
		Kind:        models.StepKindCoding,
		Status:      models.StepStatusPending,
		Description: conflictResolutionDescription,
	}
	steps := make([]*models.Step, 0, len(s.Steps)+1)
	steps = append(steps, s.Steps[:finalIdx]...)
	steps = append(steps, conflictStep)
	steps = append(steps, s.Steps[finalIdx:]...)
	s.Steps = steps

	if idx := finalIdx + 1; idx < len(s.Steps) {
		s.Steps[idx].Status = models.StepStatusPending
		s.Steps[idx].StartedAt = nil
		s.Steps[idx].CompletedAt = nil
	}

	s.Status = models.StoryStatusInProgress
	s.AppendHistory("", nil, models.HistoryConflictRaised, map[string]string{"reason": reason})
	return nil
}
