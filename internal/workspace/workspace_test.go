package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/vcs"
)

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func initBaseRepo(t *testing.T) *vcs.Repo {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial commit")
	return vcs.Open(dir)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background(), "manifest.yaml"))
	return st
}

func TestCheckoutCreatesIsolatedBranch(t *testing.T) {
	ctx := context.Background()
	base := initBaseRepo(t)
	mgr, err := NewManager(base, t.TempDir())
	require.NoError(t, err)

	repo, err := mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	require.DirExists(t, repo.Dir())

	require.Nil(t, mgr.OpenIfExists("never-checked-out"))
	require.NotNil(t, mgr.OpenIfExists("story-1"))
}

func TestCheckoutReusesExistingDirectory(t *testing.T) {
	ctx := context.Background()
	base := initBaseRepo(t)
	mgr, err := NewManager(base, t.TempDir())
	require.NoError(t, err)

	first, err := mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	dirty := filepath.Join(first.Dir(), "leftover.txt")
	require.NoError(t, os.WriteFile(dirty, []byte("uncommitted"), 0o644))

	second, err := mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	require.Equal(t, first.Dir(), second.Dir())
	require.NoFileExists(t, dirty)
}

func TestDisposeRemovesCheckout(t *testing.T) {
	ctx := context.Background()
	base := initBaseRepo(t)
	mgr, err := NewManager(base, t.TempDir())
	require.NoError(t, err)

	_, err = mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	require.NotNil(t, mgr.OpenIfExists("story-1"))

	require.NoError(t, mgr.Dispose("story-1"))
	require.Nil(t, mgr.OpenIfExists("story-1"))
}

func seedStoryWithFinalReview(t *testing.T, st *store.Store, storyID string) {
	t.Helper()
	require.NoError(t, st.Mutate(context.Background(), func(doc *store.Document) error {
		doc.Stories[storyID] = &models.Story{
			ID:     storyID,
			Status: models.StoryStatusInProgress,
			Steps: []*models.Step{
				{ID: 1, Kind: models.StepKindFinalReview, Status: models.StepStatusCompleted},
			},
		}
		return nil
	}))
}

func TestIntegrateSquashMergesOnCleanRebase(t *testing.T) {
	ctx := context.Background()
	base := initBaseRepo(t)
	mgr, err := NewManager(base, t.TempDir())
	require.NoError(t, err)

	repo, err := mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "feature.txt"), []byte("feature\n"), 0o644))
	gitRun(t, repo.Dir(), "add", ".")
	gitRun(t, repo.Dir(), "commit", "-m", "add feature")

	st := newTestStore(t)
	seedStoryWithFinalReview(t, st, "story-1")

	ok, err := mgr.Integrate(ctx, st, "story-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.FileExists(t, filepath.Join(base.Dir(), "feature.txt"))
}

func TestIntegrateInsertsConflictStepOnRebaseFailure(t *testing.T) {
	ctx := context.Background()
	base := initBaseRepo(t)
	mgr, err := NewManager(base, t.TempDir())
	require.NoError(t, err)

	repo, err := mgr.Checkout(ctx, "story-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "README.md"), []byte("story change\n"), 0o644))
	gitRun(t, repo.Dir(), "add", ".")
	gitRun(t, repo.Dir(), "commit", "-m", "story edit")

	// Advance the base branch with a conflicting edit to the same line.
	require.NoError(t, os.WriteFile(filepath.Join(base.Dir(), "README.md"), []byte("base change\n"), 0o644))
	gitRun(t, base.Dir(), "add", ".")
	gitRun(t, base.Dir(), "commit", "-m", "base edit")

	st := newTestStore(t)
	seedStoryWithFinalReview(t, st, "story-1")

	ok, err := mgr.Integrate(ctx, st, "story-1")
	require.NoError(t, err)
	require.False(t, ok)

	doc, err := st.Read(ctx)
	require.NoError(t, err)
	story := doc.Stories["story-1"]
	require.Equal(t, models.StoryStatusInProgress, story.Status)

	var kinds []models.StepKind
	for _, s := range story.Steps {
		kinds = append(kinds, s.Kind)
	}
	require.Equal(t, []models.StepKind{models.StepKindCoding, models.StepKindFinalReview}, kinds)
	require.Equal(t, models.StepStatusPending, story.Steps[0].Status)
}
