// Package executor drives a single step execution end to end: prompt
// composition, dispatch to the external agent backend, edit-request
// consumption, and the state transitions that record the outcome (spec
// §4.3). It is the only package that calls the agent backend directly.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/storyforge/internal/agent"
	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/vcs"
)

// Executor runs one step at a time against a worker's isolated checkout.
type Executor struct {
	backend *agent.Backend
	store   *store.Store
	scratch *store.Scratch
	edits   *store.EditBox
	logRoot string
}

// New returns an Executor wired to the shared state store, scratch area,
// and edit-request drop box, writing event logs under logRoot.
func New(backend *agent.Backend, st *store.Store, scratch *store.Scratch, edits *store.EditBox, logRoot string) *Executor {
	return &Executor{backend: backend, store: st, scratch: scratch, edits: edits, logRoot: logRoot}
}

// RunStep executes exactly one step of storyID, in repo's working tree, on
// behalf of workerID, following the six-step protocol in spec §4.3.
func (e *Executor) RunStep(ctx context.Context, repo *vcs.Repo, storyID string, stepID int, workerID string) error {
	preStartRev, err := repo.HeadRevision(ctx)
	if err != nil {
		return fmt.Errorf("capture pre-start revision for story %s step %d: %w", storyID, stepID, err)
	}

	var story *models.Story
	var step *models.Step
	err = e.store.Mutate(ctx, func(doc *store.Document) error {
		s := doc.Stories[storyID]
		if s == nil {
			return store.ErrStoryNotFound(storyID)
		}
		st, startErr := store.StartStep(doc, storyID, stepID, workerID, preStartRev)
		if startErr != nil {
			return startErr
		}
		st.LogPath = e.logPath(storyID, stepID)
		step = cloneStep(st)
		story = cloneStory(s)
		return nil
	})
	if err != nil {
		return err
	}

	prompt, err := e.composePrompt(story, step)
	if err != nil {
		return fmt.Errorf("compose prompt for story %s step %d: %w", storyID, stepID, err)
	}

	res, runErr := e.backend.Run(ctx, prompt, step.Kind.DefaultTimeout())
	logPath := e.logPath(storyID, stepID)

	if res == nil {
		// the backend never launched; there is no event stream or completed
		// step work to preserve, so fail the step directly.
		return e.failOrCancel(ctx, storyID, stepID, workerID, runErr.Error(), false)
	}
	_ = agent.SaveEventLog(logPath, res) // best effort: the step proceeds even if the log couldn't be written

	switch {
	case res.TimedOut:
		return e.abortStep(ctx, repo, storyID, stepID, workerID, preStartRev,
			fmt.Sprintf("step timed out after %s", step.Kind.DefaultTimeout()), true)
	case runErr != nil:
		return e.abortStep(ctx, repo, storyID, stepID, workerID, preStartRev, runErr.Error(), false)
	}

	restarted, err := e.consumeEditRequest(ctx, storyID)
	if err != nil {
		return err
	}
	if restarted {
		// spec §4.3 "On restart": same pre-step diff-save + reset as a
		// failure, but the step itself is already back to pending — the
		// story runner's next iteration re-invokes it with the revised
		// description.
		e.saveDiagnosticDiff(ctx, repo, storyID, stepID)
		return repo.HardReset(ctx, preStartRev)
	}

	notes := strings.TrimSpace(res.Summary)
	if notes == "" {
		notes = "(agent produced no structured summary)"
	}

	return e.store.Mutate(ctx, func(doc *store.Document) error {
		return store.CompleteStep(doc, storyID, stepID, workerID, notes, res.TokensUsed, res.CostUSD)
	})
}

// consumeEditRequest takes any pending edit-request file for storyID,
// applies it, and reports whether one of its operations was a restart.
// A rejected edit is recorded in the story's own scratch so the very next
// step sees why (spec §4.2 guardrail 9).
func (e *Executor) consumeEditRequest(ctx context.Context, storyID string) (restarted bool, err error) {
	req, takeErr := e.edits.Take(storyID)
	if takeErr != nil {
		_ = e.scratch.AppendStory(storyID, fmt.Sprintf("edit request malformed and discarded: %s", takeErr))
		return false, nil
	}
	if req == nil {
		return false, nil
	}

	for _, op := range req.Operations {
		if op.Op == models.EditOpRestart {
			restarted = true
			break
		}
	}

	applyErr := e.store.Mutate(ctx, func(doc *store.Document) error {
		return store.ApplyEditRequest(doc, req)
	})
	if applyErr != nil {
		_ = e.scratch.AppendStory(storyID, fmt.Sprintf("edit request rejected: %s", applyErr))
		return false, nil
	}
	return restarted, nil
}

// abortStep handles both execution failures and timeouts: save the
// diagnostic diff, hard-reset the workspace, discard any pending edit
// request, and record the terminal status (spec §4.3 "on failure or
// timeout").
func (e *Executor) abortStep(ctx context.Context, repo *vcs.Repo, storyID string, stepID int, workerID, preStartRev, reason string, timedOut bool) error {
	e.saveDiagnosticDiff(ctx, repo, storyID, stepID)
	_ = repo.HardReset(ctx, preStartRev)
	return e.failOrCancel(ctx, storyID, stepID, workerID, reason, timedOut)
}

func (e *Executor) failOrCancel(ctx context.Context, storyID string, stepID int, workerID, reason string, timedOut bool) error {
	_ = e.edits.Discard(storyID)
	_ = e.scratch.AppendGlobal(ctx, fmt.Sprintf("story %s step %d failed: %s", storyID, stepID, reason))
	return e.store.Mutate(ctx, func(doc *store.Document) error {
		if timedOut {
			return store.CancelStep(doc, storyID, stepID, workerID, reason)
		}
		return store.FailStep(doc, storyID, stepID, workerID, reason)
	})
}

func (e *Executor) saveDiagnosticDiff(ctx context.Context, repo *vcs.Repo, storyID string, stepID int) {
	diff, err := repo.Diff(ctx)
	if err != nil || diff == "" {
		return
	}
	_ = agent.SaveEventLog(e.diagnosticPath(storyID, stepID), &agent.Result{EventLog: diff})
}
