// Package workflow implements the pure edit algebra over a story's step
// list: validating and applying the six workflow-mutation operations an
// agent may request, under the guardrails of spec §4.2. Nothing here
// touches disk or a lock — callers (the step executor) are responsible for
// doing so atomically around a call to Apply.
package workflow

import (
	"fmt"

	"github.com/dotcommander/storyforge/internal/models"
)

// GuardrailError reports a rejected edit file. Per spec §4.2 guardrail 9,
// rejection is all-or-nothing: no operation in the request is applied and
// the story is left byte-for-byte unchanged.
type GuardrailError struct {
	Op     models.EditOp
	Reason string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("edit rejected (%s): %s", e.Op, e.Reason)
}

func (e *GuardrailError) ErrorCode() string { return "GUARDRAIL_VIOLATION" }

func (e *GuardrailError) Context() map[string]string {
	return map[string]string{"operation": string(e.Op)}
}

func (e *GuardrailError) SuggestedAction() string {
	return "revise the edit request to satisfy the workflow guardrails and resubmit"
}

// Apply validates every operation in req against story's current workflow
// and, only if all of them are individually valid and jointly keep the
// workflow within its invariants, applies them in order and returns one
// history entry per accepted operation. On any validation failure the
// story's Steps are left completely unmodified and the first error
// encountered is returned.
//
// Apply does not check that req.WorkerID matches the story's assigned
// worker — callers must do that before invoking Apply (guardrail 8), since
// the assignment check needs access to the state store's current snapshot
// under lock, which this package deliberately does not touch.
func Apply(story *models.Story, req *models.EditRequest) ([]models.HistoryEntry, error) {
	work := cloneSteps(story.Steps)

	entries := make([]models.HistoryEntry, 0, len(req.Operations))
	for _, op := range req.Operations {
		var err error
		work, err = applyOne(work, op)
		if err != nil {
			return nil, err
		}
		stepID := op.TargetStepID
		entries = append(entries, models.HistoryEntry{
			WorkerID: req.WorkerID,
			StepID:   &stepID,
			Action:   models.HistoryWorkflowEdit,
			Details: map[string]string{
				"operation": string(op.Op),
				"reason":    op.Reason,
			},
		})
	}

	if err := validateWhole(work); err != nil {
		return nil, err
	}

	story.Steps = work
	return entries, nil
}

func cloneSteps(steps []*models.Step) []*models.Step {
	out := make([]*models.Step, len(steps))
	for i, s := range steps {
		cp := *s
		out[i] = &cp
	}
	return out
}

func applyOne(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	switch op.Op {
	case models.EditOpAddAfter:
		return applyAddAfter(steps, op)
	case models.EditOpSplit:
		return applySplit(steps, op)
	case models.EditOpSkip:
		return applySkip(steps, op)
	case models.EditOpReorder:
		return applyReorder(steps, op)
	case models.EditOpEditDescription:
		return applyEditDescription(steps, op)
	case models.EditOpRestart:
		return applyRestart(steps, op)
	default:
		return nil, &GuardrailError{Op: op.Op, Reason: "unknown operation"}
	}
}

func findIndex(steps []*models.Step, id int) int {
	for i, s := range steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func nextID(steps []*models.Step) int {
	next := 0
	for _, s := range steps {
		if s.ID >= next {
			next = s.ID + 1
		}
	}
	return next
}

func isLastIndex(steps []*models.Step, idx int) bool {
	return idx == len(steps)-1
}

func applyAddAfter(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	idx := findIndex(steps, op.TargetStepID)
	if idx < 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "target step not found"}
	}
	if steps[idx].Kind == models.StepKindFinalReview {
		return nil, &GuardrailError{Op: op.Op, Reason: "cannot insert a step after final_review"}
	}
	if len(op.NewSteps) == 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "no steps supplied"}
	}

	inserted := make([]*models.Step, 0, len(op.NewSteps))
	id := nextID(steps)
	for _, spec := range op.NewSteps {
		inserted = append(inserted, &models.Step{
			ID:          id,
			Kind:        spec.Kind,
			Status:      models.StepStatusPending,
			Description: spec.Description,
		})
		id++
	}

	out := make([]*models.Step, 0, len(steps)+len(inserted))
	out = append(out, steps[:idx+1]...)
	out = append(out, inserted...)
	out = append(out, steps[idx+1:]...)
	return out, nil
}

func applySplit(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	idx := findIndex(steps, op.TargetStepID)
	if idx < 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "target step not found"}
	}
	target := steps[idx]
	if !target.IsPending() {
		return nil, &GuardrailError{Op: op.Op, Reason: "split may only target a pending step"}
	}
	if target.Kind == models.StepKindFinalReview || target.Kind == models.StepKindLinting {
		return nil, &GuardrailError{Op: op.Op, Reason: "mandatory steps cannot be split away"}
	}
	if len(op.NewSteps) < 2 {
		return nil, &GuardrailError{Op: op.Op, Reason: "split requires at least two replacement steps"}
	}

	replacement := make([]*models.Step, 0, len(op.NewSteps))
	id := nextID(steps)
	for _, spec := range op.NewSteps {
		replacement = append(replacement, &models.Step{
			ID:          id,
			Kind:        spec.Kind,
			Status:      models.StepStatusPending,
			Description: spec.Description,
		})
		id++
	}

	out := make([]*models.Step, 0, len(steps)+len(replacement)-1)
	out = append(out, steps[:idx]...)
	out = append(out, replacement...)
	out = append(out, steps[idx+1:]...)
	return out, nil
}

func applySkip(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	idx := findIndex(steps, op.TargetStepID)
	if idx < 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "target step not found"}
	}
	target := steps[idx]
	if !target.IsPending() {
		return nil, &GuardrailError{Op: op.Op, Reason: "skip may only target a pending step"}
	}
	if target.Kind.IsMandatory() {
		return nil, &GuardrailError{Op: op.Op, Reason: fmt.Sprintf("%s is mandatory and cannot be skipped", target.Kind)}
	}
	if op.Reason == "" {
		return nil, &GuardrailError{Op: op.Op, Reason: "skip requires a reason"}
	}

	cp := *target
	cp.Status = models.StepStatusSkipped
	cp.SkipReason = op.Reason
	out := cloneSteps(steps)
	out[idx] = &cp
	return out, nil
}

func applyReorder(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	var pendingIdx []int
	for i, s := range steps {
		if s.IsPending() {
			pendingIdx = append(pendingIdx, i)
		}
	}
	if len(op.NewOrder) != len(pendingIdx) {
		return nil, &GuardrailError{Op: op.Op, Reason: "new order must be a permutation of exactly the current pending steps"}
	}
	seen := make(map[int]bool, len(pendingIdx))
	pendingSet := make(map[int]bool, len(pendingIdx))
	for _, i := range pendingIdx {
		pendingSet[steps[i].ID] = true
	}
	for _, id := range op.NewOrder {
		if seen[id] {
			return nil, &GuardrailError{Op: op.Op, Reason: "new order contains a duplicate step id"}
		}
		seen[id] = true
		if !pendingSet[id] {
			return nil, &GuardrailError{Op: op.Op, Reason: "new order references a step id that is not pending"}
		}
	}
	if steps[findIndex(steps, op.NewOrder[len(op.NewOrder)-1])].Kind != models.StepKindFinalReview {
		return nil, &GuardrailError{Op: op.Op, Reason: "final_review must remain last after reorder"}
	}

	out := cloneSteps(steps)
	pos := 0
	for _, id := range op.NewOrder {
		out[pendingIdx[pos]] = cloneOne(steps[findIndex(steps, id)])
		pos++
	}
	return out, nil
}

func cloneOne(s *models.Step) *models.Step {
	cp := *s
	return &cp
}

func applyEditDescription(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	idx := findIndex(steps, op.TargetStepID)
	if idx < 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "target step not found"}
	}
	if !steps[idx].IsPending() {
		return nil, &GuardrailError{Op: op.Op, Reason: "edit_description may only target a pending step"}
	}
	cp := *steps[idx]
	cp.Description = op.NewDescription
	out := cloneSteps(steps)
	out[idx] = &cp
	return out, nil
}

func applyRestart(steps []*models.Step, op models.EditOperation) ([]*models.Step, error) {
	idx := findIndex(steps, op.TargetStepID)
	if idx < 0 {
		return nil, &GuardrailError{Op: op.Op, Reason: "target step not found"}
	}
	target := steps[idx]
	if target.Status != models.StepStatusInProgress {
		return nil, &GuardrailError{Op: op.Op, Reason: "restart may only target the current in_progress step"}
	}
	if target.RestartCount >= models.MaxRestarts {
		return nil, &GuardrailError{Op: op.Op, Reason: fmt.Sprintf("step already restarted the maximum of %d times", models.MaxRestarts)}
	}

	cp := *target
	cp.Status = models.StepStatusPending
	cp.RestartCount++
	cp.StartedAt = nil
	if op.NewDescription != "" {
		cp.Description = op.NewDescription
	}
	out := cloneSteps(steps)
	out[idx] = &cp
	return out, nil
}

// validateWhole re-checks the structural invariants of the resulting step
// list as a whole, after every individual operation has already been
// applied to the working copy. Per-operation checks above catch most
// violations locally; this is the final backstop for guardrails 2, 3, and 5.
func validateWhole(steps []*models.Step) error {
	if len(steps) == 0 {
		return &GuardrailError{Reason: "workflow cannot be emptied"}
	}
	if len(steps) > models.MaxStepsPerStory {
		return &GuardrailError{Reason: fmt.Sprintf("workflow would exceed the maximum of %d steps", models.MaxStepsPerStory)}
	}

	last := steps[len(steps)-1]
	if last.Kind != models.StepKindFinalReview {
		return &GuardrailError{Reason: "final_review must remain the last step"}
	}

	hasFinalReview, hasLinting := false, false
	for _, s := range steps {
		if s.Kind == models.StepKindFinalReview {
			hasFinalReview = true
			if s.Status == models.StepStatusSkipped {
				return &GuardrailError{Reason: "final_review may not be skipped"}
			}
		}
		if s.Kind == models.StepKindLinting {
			hasLinting = true
			if s.Status == models.StepStatusSkipped {
				return &GuardrailError{Reason: "linting may not be skipped"}
			}
		}
	}
	if !hasFinalReview {
		return &GuardrailError{Reason: "final_review must remain present"}
	}
	if !hasLinting {
		return &GuardrailError{Reason: "linting must remain present"}
	}
	return nil
}
