package executor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dotcommander/storyforge/internal/models"
)

// composePrompt builds the prompt for step, following the ordering in spec
// §4.3 step 2: kind instructions, story description and acceptance
// criteria, the step's own description, prior completed steps' notes in
// order, the global scratch, then the per-story scratch.
func (e *Executor) composePrompt(story *models.Story, step *models.Step) (string, error) {
	var b strings.Builder

	b.WriteString(kindInstructions(step.Kind))
	b.WriteString("\n\n## Story\n")
	fmt.Fprintf(&b, "Title: %s\n", story.Title)
	fmt.Fprintf(&b, "Description: %s\n", story.Description)
	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range story.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	fmt.Fprintf(&b, "\n## Current Step (%s)\n%s\n", step.Kind, step.Description)

	if notes := priorStepNotes(story, step.ID); notes != "" {
		b.WriteString("\n## Notes From Prior Steps\n")
		b.WriteString(notes)
	}

	global, err := e.scratch.ReadGlobal()
	if err != nil {
		return "", fmt.Errorf("read global scratch: %w", err)
	}
	if global != "" {
		b.WriteString("\n## Global Scratch\n")
		b.WriteString(global)
	}

	storyScratch, err := e.scratch.ReadStory(story.ID)
	if err != nil {
		return "", fmt.Errorf("read story scratch: %w", err)
	}
	if storyScratch != "" {
		b.WriteString("\n## Story Scratch\n")
		b.WriteString(storyScratch)
	}

	return b.String(), nil
}

// priorStepNotes collects the notes field of every completed step preceding
// beforeID, in execution order (position in story.Steps, not ID order — an
// add_after/split inserts steps with higher IDs that still run earlier than
// the step that triggered the insertion).
func priorStepNotes(story *models.Story, beforeID int) string {
	idx := -1
	for i, st := range story.Steps {
		if st.ID == beforeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(story.Steps)
	}

	var b strings.Builder
	for _, st := range story.Steps[:idx] {
		if st.Status == models.StepStatusCompleted && st.Notes != "" {
			fmt.Fprintf(&b, "- [%s] %s\n", st.Kind, st.Notes)
		}
	}
	return b.String()
}

// cloneStep returns a shallow copy of st, safe to read after the state lock
// that produced it has been released.
func cloneStep(st *models.Step) *models.Step {
	c := *st
	return &c
}

// cloneStory returns a copy of s deep enough for prompt composition:
// its own fields plus an independent copy of its steps slice, so a later
// mutation under the lock can't race with the prompt-composition read.
func cloneStory(s *models.Story) *models.Story {
	c := *s
	c.Steps = make([]*models.Step, len(s.Steps))
	for i, st := range s.Steps {
		c.Steps[i] = cloneStep(st)
	}
	c.AcceptanceCriteria = append([]string(nil), s.AcceptanceCriteria...)
	return &c
}

// logPath returns the well-known path for a step's captured event stream
// (spec §6: "keyed by story ID and step ID").
func (e *Executor) logPath(storyID string, stepID int) string {
	return filepath.Join(e.logRoot, storyID, fmt.Sprintf("step-%d.log", stepID))
}

// diagnosticPath returns the well-known path for a step's diagnostic
// working-tree diff, saved on failure, timeout, or restart.
func (e *Executor) diagnosticPath(storyID string, stepID int) string {
	return filepath.Join(e.logRoot, storyID, fmt.Sprintf("step-%d.diagnostic.diff", stepID))
}
