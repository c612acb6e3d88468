// Package vcs issues the small, fixed set of version-control commands the
// core needs against an isolated git checkout: the current revision, a
// full diff for diagnostics, a hard reset, and the rebase/squash-merge pair
// used by workspace integration. The VCS tool itself is an external
// collaborator (spec §1) — this package is a thin, narrow wrapper around
// `git` subprocess invocations, in the same exec.CommandContext idiom the
// teacher's agent-backend dispatcher uses for its own external CLI.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo is a git checkout the core is allowed to issue commands against.
type Repo struct {
	dir string
}

// Open returns a Repo bound to an existing checkout at dir.
func Open(dir string) *Repo { return &Repo{dir: dir} }

// Dir returns the checkout's working directory.
func (r *Repo) Dir() string { return r.dir }

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: args are fixed, caller-controlled git subcommands only
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HeadRevision returns the current commit hash.
func (r *Repo) HeadRevision(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// Diff returns the working-tree diff of tracked files against HEAD, followed
// by the `git status --porcelain` listing, for saving to a diagnostic path on
// step failure or before a restart/reset. Untracked files appear in that
// listing by path only; their contents are not included.
func (r *Repo) Diff(ctx context.Context) (string, error) {
	tracked, err := r.run(ctx, "diff", "HEAD")
	if err != nil {
		return "", err
	}
	untracked, err := r.run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(tracked)
	if untracked != "" {
		b.WriteString("\n\n--- untracked files ---\n")
		b.WriteString(untracked)
	}
	return b.String(), nil
}

// HardReset resets the working tree (and removes untracked files) back to rev.
func (r *Repo) HardReset(ctx context.Context, rev string) error {
	if _, err := r.run(ctx, "reset", "--hard", rev); err != nil {
		return err
	}
	_, err := r.run(ctx, "clean", "-fd")
	return err
}

// CheckoutNewBranch creates and switches to a new branch off the current HEAD.
func (r *Repo) CheckoutNewBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// FetchFrom fetches ref from the repository at sourceDir into FETCH_HEAD,
// without requiring a configured remote — used to pull a specific
// revision or branch from another isolated checkout before rebasing onto
// it or merging it in.
func (r *Repo) FetchFrom(ctx context.Context, sourceDir, ref string) error {
	_, err := r.run(ctx, "fetch", sourceDir, ref)
	return err
}

// Rebase rebases the current branch onto base. If the rebase stops on a
// conflict it is aborted, leaving the branch as it was, and a non-nil error
// is returned; callers should
// treat that as an integration error per spec §4.7/§7, not a fatal one.
func (r *Repo) Rebase(ctx context.Context, base string) error {
	_, err := r.run(ctx, "rebase", base)
	if err != nil {
		_, _ = r.run(ctx, "rebase", "--abort")
	}
	return err
}

// SquashMergeInto performs a squash merge of branch into the currently
// checked-out base, committing with message. The commit is made even when
// branch adds no changes over the base.
func (r *Repo) SquashMergeInto(ctx context.Context, branch, message string) error {
	if _, err := r.run(ctx, "merge", "--squash", branch); err != nil {
		return err
	}
	_, err := r.run(ctx, "commit", "--allow-empty", "-m", message)
	return err
}

// Checkout switches the working tree to ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "checkout", ref)
	return err
}

// DeleteBranch removes a local branch, ignoring "not found" failures.
func (r *Repo) DeleteBranch(ctx context.Context, name string) {
	_, _ = r.run(ctx, "branch", "-D", name)
}

// IsDirty reports whether the working tree has any uncommitted changes,
// tracked or untracked.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Clone creates a fresh checkout of sourceDir at dir, used to give each
// worker its own isolated working tree derived from the shared base
// revision (spec §4.7).
func Clone(ctx context.Context, sourceDir, dir string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", sourceDir, dir) //nolint:gosec // G204: fixed subcommand, trusted local paths
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git clone %s -> %s: %w (stderr: %s)", sourceDir, dir, err, strings.TrimSpace(stderr.String()))
	}
	return &Repo{dir: dir}, nil
}
