package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/workflow"
)

// ErrStoryNotFound is returned by any operation targeting an unknown story ID.
type ErrStoryNotFound string

func (e ErrStoryNotFound) Error() string { return fmt.Sprintf("story not found: %s", string(e)) }

// ErrStepNotFound is returned by any operation targeting an unknown step ID.
type ErrStepNotFound struct {
	StoryID string
	StepID  int
}

func (e *ErrStepNotFound) Error() string {
	return fmt.Sprintf("step %d not found in story %s", e.StepID, e.StoryID)
}

// SeedStories inserts any story from specs that is not already present in
// doc. Existing stories (e.g. on --resume) are left untouched, so SeedStories
// is safe to call unconditionally at startup.
func SeedStories(doc *Document, specs []*models.Story) {
	for _, spec := range specs {
		if _, exists := doc.Stories[spec.ID]; exists {
			continue
		}
		s := *spec
		s.Status = models.StoryStatusUnclaimed
		doc.Stories[spec.ID] = &s
	}
}

// ClaimStory assigns story to workerID, seeds its default step template if
// it has none yet (fresh claim) or leaves existing steps alone (resumed
// claim after reconciliation), and appends a story_claimed history entry.
func ClaimStory(doc *Document, storyID, workerID string) (*models.Story, error) {
	s, ok := doc.Stories[storyID]
	if !ok {
		return nil, ErrStoryNotFound(storyID)
	}
	if s.Status != models.StoryStatusUnclaimed {
		return nil, fmt.Errorf("story %s is not unclaimed (status=%s)", storyID, s.Status)
	}

	if len(s.Steps) == 0 {
		s.Steps = workflow.NewDefaultSteps()
	}

	now := time.Now()
	s.Status = models.StoryStatusInProgress
	s.WorkerID = &workerID
	s.ClaimedAt = &now
	s.AppendHistory(workerID, nil, models.HistoryStoryClaimed, nil)
	return s, nil
}

// StartStep transitions stepID from pending to in_progress, recording the
// pre-start VCS revision and start timestamp (spec §4.3 step 1).
func StartStep(doc *Document, storyID string, stepID int, workerID, preStartRev string) (*models.Step, error) {
	s, ok := doc.Stories[storyID]
	if !ok {
		return nil, ErrStoryNotFound(storyID)
	}
	st := s.StepByID(stepID)
	if st == nil {
		return nil, &ErrStepNotFound{StoryID: storyID, StepID: stepID}
	}
	if !st.IsPending() {
		return nil, fmt.Errorf("step %d is not pending (status=%s)", stepID, st.Status)
	}

	now := time.Now()
	st.Status = models.StepStatusInProgress
	st.StartedAt = &now
	st.PreStartRev = preStartRev
	s.AppendHistory(workerID, &stepID, models.HistoryStepStarted, map[string]string{"kind": string(st.Kind)})
	return st, nil
}

// CompleteStep transitions stepID to completed, writes its notes, and — if
// it was the workflow's last step and of the mandatory closing kind —
// completes the parent story.
func CompleteStep(doc *Document, storyID string, stepID int, workerID, notes string, tokens int64, costUSD float64) error {
	s, ok := doc.Stories[storyID]
	if !ok {
		return ErrStoryNotFound(storyID)
	}
	st := s.StepByID(stepID)
	if st == nil {
		return &ErrStepNotFound{StoryID: storyID, StepID: stepID}
	}
	if notes == "" {
		return fmt.Errorf("step %d cannot complete with empty notes", stepID)
	}

	now := time.Now()
	st.Status = models.StepStatusCompleted
	st.CompletedAt = &now
	st.Notes = notes
	st.TokensUsed += tokens
	st.CostUSD += costUSD
	s.AppendHistory(workerID, &stepID, models.HistoryStepCompleted, map[string]string{"kind": string(st.Kind)})

	if last := s.LastStep(); last != nil && last.ID == st.ID && last.Kind == models.StepKindFinalReview && s.FirstPendingStep() == nil {
		completeStory(s, workerID)
	}
	return nil
}

func completeStory(s *models.Story, workerID string) {
	now := time.Now()
	s.Status = models.StoryStatusCompleted
	s.CompletedAt = &now
	s.AppendHistory(workerID, nil, models.HistoryStoryCompleted, nil)
}

// FailStep transitions stepID to failed and fails the parent story — per
// spec §4.3, both execution errors and timeouts ultimately fail the story;
// only the step's own terminal status (failed vs cancelled) differs.
func FailStep(doc *Document, storyID string, stepID int, workerID, reason string) error {
	return terminateStep(doc, storyID, stepID, workerID, reason, models.StepStatusFailed, models.HistoryStepFailed)
}

// CancelStep transitions stepID to cancelled (timeout or external
// termination) and fails the parent story, mirroring FailStep.
func CancelStep(doc *Document, storyID string, stepID int, workerID, reason string) error {
	return terminateStep(doc, storyID, stepID, workerID, reason, models.StepStatusCancelled, models.HistoryStepCancelled)
}

func terminateStep(doc *Document, storyID string, stepID int, workerID, reason string, status models.StepStatus, action models.HistoryAction) error {
	s, ok := doc.Stories[storyID]
	if !ok {
		return ErrStoryNotFound(storyID)
	}
	st := s.StepByID(stepID)
	if st == nil {
		return &ErrStepNotFound{StoryID: storyID, StepID: stepID}
	}

	now := time.Now()
	st.Status = status
	st.CompletedAt = &now
	st.Error = reason
	s.AppendHistory(workerID, &stepID, action, map[string]string{"error": reason})

	s.Status = models.StoryStatusFailed
	s.AppendHistory(workerID, nil, models.HistoryStoryFailed, map[string]string{"step_id": fmt.Sprint(stepID)})
	return nil
}

// ApplyEditRequest enforces guardrail 8 (requesting worker must be the
// assigned worker) and then delegates to workflow.Apply, appending the
// resulting history entries on success. On rejection it appends a single
// edit_rejected history entry and returns the rejection error; callers are
// responsible for also surfacing the reason via scratch (spec §4.2 #9).
func ApplyEditRequest(doc *Document, req *models.EditRequest) error {
	s, ok := doc.Stories[req.StoryID]
	if !ok {
		return ErrStoryNotFound(req.StoryID)
	}
	if s.WorkerID == nil || *s.WorkerID != req.WorkerID {
		err := fmt.Errorf("worker %s is not assigned to story %s", req.WorkerID, req.StoryID)
		s.AppendHistory(req.WorkerID, nil, models.HistoryEditRejected, map[string]string{"reason": err.Error()})
		return err
	}

	entries, err := workflow.Apply(s, req)
	if err != nil {
		s.AppendHistory(req.WorkerID, nil, models.HistoryEditRejected, map[string]string{"reason": err.Error()})
		return err
	}
	for _, e := range entries {
		e.Timestamp = time.Now()
		s.History = append(s.History, e)
	}
	return nil
}

// PropagateFailure moves every story that depends, directly or
// transitively, on failedID from unclaimed to blocked. Stories already
// terminal or already blocked are left alone. Returns the IDs newly blocked.
func PropagateFailure(doc *Document, failedID string) []string {
	deps := make(map[string][]string) // storyID -> depends_on
	for id, s := range doc.Stories {
		deps[id] = s.DependsOn
	}

	var blocked []string
	var visit func(target string)
	visited := map[string]bool{}
	visit = func(target string) {
		for id, dependsOn := range deps {
			if visited[id] {
				continue
			}
			for _, d := range dependsOn {
				if d == target {
					visited[id] = true
					if s := doc.Stories[id]; s != nil && s.Status == models.StoryStatusUnclaimed {
						s.Status = models.StoryStatusBlocked
						s.BlockedReason = fmt.Sprintf("dependency failed: %s", failedID)
						s.AppendHistory("", nil, models.HistoryStoryBlocked, map[string]string{"failed_dependency": failedID})
						blocked = append(blocked, id)
					}
					visit(id)
				}
			}
		}
	}
	visit(failedID)
	return blocked
}

// ReviewBlocked re-evaluates every blocked story: if none of its
// dependencies are failed and all are completed, it re-enters the unclaimed
// pool. Called once per scheduler loop iteration (spec §4.5).
func ReviewBlocked(doc *Document) []string {
	var unblocked []string
	for id, s := range doc.Stories {
		if s.Status != models.StoryStatusBlocked {
			continue
		}
		allDone, anyFailed := true, false
		for _, dep := range s.DependsOn {
			d := doc.Stories[dep]
			if d == nil {
				allDone = false
				continue
			}
			if d.Status == models.StoryStatusFailed {
				anyFailed = true
			}
			if d.Status != models.StoryStatusCompleted {
				allDone = false
			}
		}
		if anyFailed {
			continue
		}
		if allDone {
			s.Status = models.StoryStatusUnclaimed
			s.BlockedReason = ""
			s.AppendHistory("", nil, models.HistoryStoryUnblocked, nil)
			unblocked = append(unblocked, id)
		}
	}
	return unblocked
}

// AssignableStories returns the IDs of every unclaimed story whose
// dependencies are all completed, in a stable order (by ID) so test
// assertions and scheduling are both deterministic.
func AssignableStories(doc *Document) []string {
	var out []string
	for id, s := range doc.Stories {
		if s.IsAssignable(doc.Stories) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AllTerminal reports whether every story in doc has reached a terminal or
// permanently-blocked state, i.e. the scheduler has nothing left to do.
func AllTerminal(doc *Document) bool {
	for _, s := range doc.Stories {
		switch s.Status {
		case models.StoryStatusCompleted, models.StoryStatusFailed:
			continue
		case models.StoryStatusBlocked:
			continue
		default:
			return false
		}
	}
	return true
}
