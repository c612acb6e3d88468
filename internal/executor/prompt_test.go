package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/store"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	scratch, err := store.NewScratch(dir)
	require.NoError(t, err)
	return &Executor{scratch: scratch}
}

func TestComposePromptOrdering(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, e.scratch.AppendGlobal(context.Background(), "global note"))
	require.NoError(t, e.scratch.AppendStory("story-1", "story-specific note"))

	story := &models.Story{
		ID:                 "story-1",
		Title:              "Build the thing",
		Description:        "A thorough description",
		AcceptanceCriteria: []string{"it works", "it is tested"},
		Steps: []*models.Step{
			{ID: 1, Kind: models.StepKindContextGathering, Status: models.StepStatusCompleted, Notes: "gathered context"},
			{ID: 2, Kind: models.StepKindCoding, Status: models.StepStatusInProgress, Description: "write the code"},
		},
	}
	step := story.Steps[1]

	prompt, err := e.composePrompt(story, step)
	require.NoError(t, err)

	kindIdx := strings.Index(prompt, kindInstructions(models.StepKindCoding))
	storyIdx := strings.Index(prompt, "## Story")
	stepIdx := strings.Index(prompt, "## Current Step")
	notesIdx := strings.Index(prompt, "## Notes From Prior Steps")
	globalIdx := strings.Index(prompt, "## Global Scratch")
	storyScratchIdx := strings.Index(prompt, "## Story Scratch")

	require.True(t, kindIdx >= 0 && kindIdx < storyIdx)
	require.True(t, storyIdx < stepIdx)
	require.True(t, stepIdx < notesIdx)
	require.True(t, notesIdx < globalIdx)
	require.True(t, globalIdx < storyScratchIdx)

	require.Contains(t, prompt, "gathered context")
	require.Contains(t, prompt, "global note")
	require.Contains(t, prompt, "story-specific note")
	require.Contains(t, prompt, "write the code")
}

func TestPriorStepNotesStopsBeforeTargetStep(t *testing.T) {
	story := &models.Story{Steps: []*models.Step{
		{ID: 1, Status: models.StepStatusCompleted, Notes: "first"},
		{ID: 2, Status: models.StepStatusCompleted, Notes: "second"},
		{ID: 3, Status: models.StepStatusPending},
	}}
	notes := priorStepNotes(story, 3)
	require.Contains(t, notes, "first")
	require.Contains(t, notes, "second")

	notes = priorStepNotes(story, 2)
	require.Contains(t, notes, "first")
	require.NotContains(t, notes, "second")
}

func TestPriorStepNotesSkipsIncompleteSteps(t *testing.T) {
	story := &models.Story{Steps: []*models.Step{
		{ID: 1, Status: models.StepStatusFailed, Notes: "should not appear"},
		{ID: 2, Status: models.StepStatusPending},
	}}
	require.Empty(t, priorStepNotes(story, 2))
}

func TestPriorStepNotesUsesExecutionOrderNotIDOrder(t *testing.T) {
	// Mirrors an add_after/split insertion: steps 11-13 were inserted after
	// step 7 and run immediately before step 8 (review), even though their
	// IDs are higher than 8's.
	story := &models.Story{Steps: []*models.Step{
		{ID: 7, Status: models.StepStatusCompleted, Notes: "seventh"},
		{ID: 11, Status: models.StepStatusCompleted, Notes: "inserted coding"},
		{ID: 12, Status: models.StepStatusCompleted, Notes: "inserted linting"},
		{ID: 13, Status: models.StepStatusCompleted, Notes: "inserted testing"},
		{ID: 8, Status: models.StepStatusInProgress, Notes: ""},
		{ID: 9, Status: models.StepStatusPending},
		{ID: 10, Status: models.StepStatusPending},
	}}

	notes := priorStepNotes(story, 8)
	require.Contains(t, notes, "seventh")
	require.Contains(t, notes, "inserted coding")
	require.Contains(t, notes, "inserted linting")
	require.Contains(t, notes, "inserted testing")
}

func TestCloneStoryIsIndependentOfOriginal(t *testing.T) {
	story := &models.Story{ID: "s1", Steps: []*models.Step{{ID: 1, Notes: "original"}}}
	clone := cloneStory(story)
	clone.Steps[0].Notes = "mutated"
	require.Equal(t, "original", story.Steps[0].Notes)
}
