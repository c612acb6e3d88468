package workflow

import "github.com/dotcommander/storyforge/internal/models"

// NewDefaultSteps builds the default ten-step workflow for a freshly
// claimed story. Step descriptions are left for the step executor to fill
// in from the story's title/acceptance criteria when it composes the
// kind-specific prompt; the template only fixes kind, order, and status.
func NewDefaultSteps() []*models.Step {
	steps := make([]*models.Step, 0, len(models.DefaultWorkflow))
	for i, kind := range models.DefaultWorkflow {
		steps = append(steps, &models.Step{
			ID:     i + 1,
			Kind:   kind,
			Status: models.StepStatusPending,
		})
	}
	return steps
}
