package executor

import "github.com/dotcommander/storyforge/internal/models"

// kindInstructions returns the fixed, kind-specific instructions every
// prompt for a step of this kind opens with (spec §4.3 step 2).
func kindInstructions(k models.StepKind) string {
	if s, ok := instructions[k]; ok {
		return s
	}
	return "Work the current step of this story to completion."
}

var instructions = map[models.StepKind]string{
	models.StepKindContextGathering: "Read the existing codebase relevant to this story. " +
		"Summarize the files, conventions, and constraints a contributor would need before planning work here.",
	models.StepKindPlanning: "Produce a concrete implementation plan for this story: the sequence of " +
		"changes, the files touched, and how each acceptance criterion will be satisfied.",
	models.StepKindArchitecture: "Decide the structural shape of the change: new types, package boundaries, " +
		"and how this story's code fits the surrounding design.",
	models.StepKindTestArchitecture: "Decide what needs test coverage and how: unit boundaries, fixtures, " +
		"and which behaviors the acceptance criteria require tests to pin down.",
	models.StepKindCoding: "Implement the story. Write the production code the plan and architecture steps called for.",
	models.StepKindLinting: "Run the project's linter and formatter over the changed files and fix every finding. " +
		"This step may not be skipped.",
	models.StepKindInitialTesting: "Run the test suite relevant to this story's changes and fix any failures.",
	models.StepKindReview: "Review the change as a careful peer would: correctness, naming, and whether it " +
		"actually satisfies every acceptance criterion.",
	models.StepKindPruneTests: "Remove redundant or low-value tests added along the way, keeping coverage " +
		"that actually guards against regressions.",
	models.StepKindFinalReview: "Perform one last end-to-end check that the story's acceptance criteria are " +
		"met and the change is ready to integrate. This step may not be skipped and always runs last.",
}
