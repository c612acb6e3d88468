package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/agent"
	"github.com/dotcommander/storyforge/internal/executor"
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

func newCheckout(t *testing.T) *vcs.Repo {
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

func TestRunDrivesStoryThroughEveryStepToCompletion(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := store.Open(root)
	require.NoError(t, err)
	require.NoError(t, st.Init(ctx, "manifest.yaml"))

	scratch, err := store.NewScratch(root)
	require.NoError(t, err)
	edits, err := store.NewEditBox(root)
	require.NoError(t, err)
	backend, err := agent.New("mock")
	require.NoError(t, err)

	ex := executor.New(backend, st, scratch, edits, filepath.Join(root, "logs"))
	r := New(ex, st)

	require.NoError(t, st.Mutate(ctx, func(doc *store.Document) error {
		doc.Stories["s1"] = &models.Story{
			ID:                 "s1",
			Title:              "Do the thing",
			Description:        "A story with the full default workflow",
			AcceptanceCriteria: []string{"it works"},
			Status:             models.StoryStatusUnclaimed,
		}
		_, claimErr := store.ClaimStory(doc, "s1", "worker-1")
		return claimErr
	}))

	repo := newCheckout(t)
	status, err := r.Run(ctx, repo, "s1", "worker-1")
	require.NoError(t, err)
	require.Equal(t, models.StoryStatusCompleted, status)

	doc, err := st.Read(ctx)
	require.NoError(t, err)
	story := doc.Stories["s1"]
	for _, step := range story.Steps {
		require.Equalf(t, models.StepStatusCompleted, step.Status, "step %s should be completed", step.Kind)
	}
}

func TestRunReturnsErrorForUnknownStory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := store.Open(root)
	require.NoError(t, err)
	require.NoError(t, st.Init(ctx, "manifest.yaml"))
	scratch, err := store.NewScratch(root)
	require.NoError(t, err)
	edits, err := store.NewEditBox(root)
	require.NoError(t, err)
	backend, err := agent.New("mock")
	require.NoError(t, err)

	ex := executor.New(backend, st, scratch, edits, filepath.Join(root, "logs"))
	r := New(ex, st)

	_, err = r.Run(ctx, newCheckout(t), "missing", "worker-1")
	require.Error(t, err)
}

func TestRunReturnsTerminalStatusImmediatelyWithoutRunningSteps(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := store.Open(root)
	require.NoError(t, err)
	require.NoError(t, st.Init(ctx, "manifest.yaml"))
	require.NoError(t, st.Mutate(ctx, func(doc *store.Document) error {
		doc.Stories["s1"] = &models.Story{ID: "s1", Status: models.StoryStatusFailed}
		return nil
	}))

	scratch, err := store.NewScratch(root)
	require.NoError(t, err)
	edits, err := store.NewEditBox(root)
	require.NoError(t, err)
	backend, err := agent.New("mock")
	require.NoError(t, err)

	ex := executor.New(backend, st, scratch, edits, filepath.Join(root, "logs"))
	r := New(ex, st)

	status, err := r.Run(ctx, newCheckout(t), "s1", "worker-1")
	require.NoError(t, err)
	require.Equal(t, models.StoryStatusFailed, status)
}
