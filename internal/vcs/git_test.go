package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T, dir string) *Repo {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")
	return Open(dir)
}

func TestHeadRevisionAndHardReset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := initRepo(t, dir)

	rev, err := repo.HeadRevision(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rev)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("dirty"), 0o644))
	dirty, err := repo.IsDirty(ctx)
	require.NoError(t, err)
	require.True(t, dirty)

	require.NoError(t, repo.HardReset(ctx, rev))
	dirty, err = repo.IsDirty(ctx)
	require.NoError(t, err)
	require.False(t, dirty)
	require.NoFileExists(t, filepath.Join(dir, "scratch.txt"))
}

func TestCloneAndCheckoutNewBranch(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	initRepo(t, baseDir)

	cloneDir := filepath.Join(t.TempDir(), "clone")
	repo, err := Clone(ctx, baseDir, cloneDir)
	require.NoError(t, err)
	require.Equal(t, cloneDir, repo.Dir())

	require.NoError(t, repo.CheckoutNewBranch(ctx, "story/s1"))
	dirty, err := repo.IsDirty(ctx)
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestRebaseConflictReturnsErrorWithoutLeavingRepoMidRebase(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	base := initRepo(t, baseDir)

	cloneDir := filepath.Join(t.TempDir(), "clone")
	repo, err := Clone(ctx, baseDir, cloneDir)
	require.NoError(t, err)
	require.NoError(t, repo.CheckoutNewBranch(ctx, "story/s1"))

	// Conflicting edits to the same line on both branches.
	require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "README.md"), []byte("story change\n"), 0o644))
	requireCommit(t, cloneDir, "story edit")

	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "README.md"), []byte("base change\n"), 0o644))
	requireCommit(t, baseDir, "base edit")

	baseRev, err := base.HeadRevision(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.FetchFrom(ctx, baseDir, baseRev))

	err = repo.Rebase(ctx, "FETCH_HEAD")
	require.Error(t, err)

	dirty, err := repo.IsDirty(ctx)
	require.NoError(t, err)
	require.False(t, dirty, "a failed rebase should leave the working tree clean after --abort")
}

func TestSquashMergeInto(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	base := initRepo(t, baseDir)

	cloneDir := filepath.Join(t.TempDir(), "clone")
	repo, err := Clone(ctx, baseDir, cloneDir)
	require.NoError(t, err)
	require.NoError(t, repo.CheckoutNewBranch(ctx, "story/s1"))
	require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "feature.txt"), []byte("feature\n"), 0o644))
	requireCommit(t, cloneDir, "add feature")

	require.NoError(t, base.FetchFrom(ctx, cloneDir, "story/s1"))
	require.NoError(t, base.SquashMergeInto(ctx, "FETCH_HEAD", "Integrate story s1"))

	require.FileExists(t, filepath.Join(baseDir, "feature.txt"))
}

func requireCommit(t *testing.T, dir, message string) {
	t.Helper()
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", message}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
}
