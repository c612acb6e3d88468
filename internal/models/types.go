// Package models holds the pure data types shared across the orchestrator:
// stories, steps, history entries, and edit requests. Nothing in this
// package touches disk, a lock, or a subprocess.
package models

import "time"

// StepKind identifies one of the ten fixed kinds of work a step can perform.
type StepKind string

// The fixed set of step kinds, in the order a default workflow uses them.
const (
	StepKindContextGathering StepKind = "context_gathering"
	StepKindPlanning         StepKind = "planning"
	StepKindArchitecture     StepKind = "architecture"
	StepKindTestArchitecture StepKind = "test_architecture"
	StepKindCoding           StepKind = "coding"
	StepKindLinting          StepKind = "linting"
	StepKindInitialTesting   StepKind = "initial_testing"
	StepKindReview           StepKind = "review"
	StepKindPruneTests       StepKind = "prune_tests"
	StepKindFinalReview      StepKind = "final_review"
)

// DefaultWorkflow is the template step sequence a story receives when claimed,
// absent any edits. final_review is always last; linting is always present.
var DefaultWorkflow = []StepKind{
	StepKindContextGathering,
	StepKindPlanning,
	StepKindArchitecture,
	StepKindTestArchitecture,
	StepKindCoding,
	StepKindLinting,
	StepKindInitialTesting,
	StepKindReview,
	StepKindPruneTests,
	StepKindFinalReview,
}

// IsMandatory reports whether a kind can never be skipped or removed from a workflow.
func (k StepKind) IsMandatory() bool {
	return k == StepKindLinting || k == StepKindFinalReview
}

// DefaultTimeout returns the kind's default execution timeout (Table T1).
func (k StepKind) DefaultTimeout() time.Duration {
	switch k {
	case StepKindContextGathering:
		return 15 * time.Minute
	case StepKindPlanning:
		return 10 * time.Minute
	case StepKindArchitecture:
		return 10 * time.Minute
	case StepKindTestArchitecture:
		return 10 * time.Minute
	case StepKindCoding:
		return 30 * time.Minute
	case StepKindLinting:
		return 5 * time.Minute
	case StepKindInitialTesting:
		return 20 * time.Minute
	case StepKindReview:
		return 10 * time.Minute
	case StepKindPruneTests:
		return 10 * time.Minute
	case StepKindFinalReview:
		return 15 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// AllowsEdits reports whether an agent running a step of this kind may
// submit a workflow edit request. Every kind may request edits except the
// mechanical, output-checking kinds where there is nothing to replan.
func (k StepKind) AllowsEdits() bool {
	switch k {
	case StepKindLinting:
		return false
	default:
		return true
	}
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusCancelled  StepStatus = "cancelled"
	StepStatusSkipped    StepStatus = "skipped"
)

// IsTerminal reports whether the status admits no further transitions.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusCancelled, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// MaxRestarts bounds how many times a single step may be restarted.
const MaxRestarts = 3

// MaxStepsPerStory bounds the total number of steps (pending, terminal, or
// in progress) a single story's workflow may ever hold.
const MaxStepsPerStory = 30

// Step is one scheduled unit of agent work within a story.
type Step struct {
	ID            int        `json:"id"`
	Kind          StepKind   `json:"kind"`
	Status        StepStatus `json:"status"`
	Description   string     `json:"description"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	PreStartRev   string     `json:"pre_start_revision"`
	Notes         string     `json:"notes"`
	Error         string     `json:"error"`
	SkipReason    string     `json:"skip_reason"`
	RestartCount  int        `json:"restart_count"`
	TokensUsed    int64      `json:"tokens_used"`
	CostUSD       float64    `json:"cost_usd"`
	LogPath       string     `json:"log_path"`
}

// IsPending reports whether the step has not yet started.
func (s *Step) IsPending() bool { return s.Status == StepStatusPending }

// CanRestart reports whether the step may still absorb a restart edit.
func (s *Step) CanRestart() bool {
	return s.Status == StepStatusInProgress && s.RestartCount < MaxRestarts
}

// StoryStatus is the lifecycle state of a story.
type StoryStatus string

const (
	StoryStatusUnclaimed  StoryStatus = "unclaimed"
	StoryStatusInProgress StoryStatus = "in_progress"
	StoryStatusCompleted  StoryStatus = "completed"
	StoryStatusFailed     StoryStatus = "failed"
	StoryStatusBlocked    StoryStatus = "blocked"
)

// IsTerminal reports whether the story status admits no further scheduler action.
func (s StoryStatus) IsTerminal() bool {
	return s == StoryStatusCompleted || s == StoryStatusFailed
}

// HistoryAction enumerates the story/step lifecycle events and workflow-edit
// operations recorded in a story's append-only history log.
type HistoryAction string

const (
	HistoryStoryClaimed    HistoryAction = "story_claimed"
	HistoryStoryCompleted  HistoryAction = "story_completed"
	HistoryStoryFailed     HistoryAction = "story_failed"
	HistoryStoryBlocked    HistoryAction = "story_blocked"
	HistoryStoryUnblocked  HistoryAction = "story_unblocked"
	HistoryStepStarted     HistoryAction = "step_started"
	HistoryStepCompleted   HistoryAction = "step_completed"
	HistoryStepFailed      HistoryAction = "step_failed"
	HistoryStepCancelled   HistoryAction = "step_cancelled"
	HistoryWorkflowEdit    HistoryAction = "workflow_edit"
	HistoryEditRejected    HistoryAction = "edit_rejected"
	HistoryReconciled      HistoryAction = "reconciled"
	HistoryIntegrated      HistoryAction = "integrated"
	HistoryConflictRaised  HistoryAction = "conflict_raised"
)

// HistoryEntry is an append-only audit record. StepID is nil for
// story-level events (e.g. story_claimed, story_blocked).
type HistoryEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	WorkerID  string            `json:"worker_id"`
	StepID    *int              `json:"step_id"`
	Action    HistoryAction     `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
}

// Story is a unit of user intent realized as an ordered sequence of steps.
type Story struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	DependsOn          []string       `json:"depends_on,omitempty"`
	WorkerID           *string        `json:"worker_id"`
	ClaimedAt          *time.Time     `json:"claimed_at"`
	CompletedAt        *time.Time     `json:"completed_at"`
	Status             StoryStatus    `json:"status"`
	BlockedReason      string         `json:"blocked_reason,omitempty"`
	Steps              []*Step        `json:"steps"`
	History            []HistoryEntry `json:"history"`
}

// NextStepID returns the next free step ID for this story. IDs are
// monotonic and scoped to the story: derived from the highest ID currently
// present, so they never decrease even across splits, skips, or restarts,
// and survive a JSON round trip without any separate persisted counter.
func (s *Story) NextStepID() int {
	next := 0
	for _, st := range s.Steps {
		if st.ID >= next {
			next = st.ID + 1
		}
	}
	return next
}

// CurrentStep returns the single in-progress step, if any.
func (s *Story) CurrentStep() *Step {
	for _, st := range s.Steps {
		if st.Status == StepStatusInProgress {
			return st
		}
	}
	return nil
}

// FirstPendingStep returns the first step whose status is pending, in
// execution order, or nil if none remain.
func (s *Story) FirstPendingStep() *Step {
	for _, st := range s.Steps {
		if st.Status == StepStatusPending {
			return st
		}
	}
	return nil
}

// StepByID returns the step with the given ID, or nil.
func (s *Story) StepByID(id int) *Step {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// LastStep returns the final step in execution order, or nil if the story
// has no steps.
func (s *Story) LastStep() *Step {
	if len(s.Steps) == 0 {
		return nil
	}
	return s.Steps[len(s.Steps)-1]
}

// IsAssignable reports whether the story may be handed to a worker: it must
// be unclaimed and every dependency must already show completed, evaluated
// against the given snapshot of sibling stories.
func (s *Story) IsAssignable(allStories map[string]*Story) bool {
	if s.Status != StoryStatusUnclaimed {
		return false
	}
	for _, dep := range s.DependsOn {
		d, ok := allStories[dep]
		if !ok || d.Status != StoryStatusCompleted {
			return false
		}
	}
	return true
}

// AppendHistory appends one history entry. Every mutation of the state
// document must correspond to exactly one call to this method.
func (s *Story) AppendHistory(workerID string, stepID *int, action HistoryAction, details map[string]string) {
	s.History = append(s.History, HistoryEntry{
		Timestamp: timeNow(),
		WorkerID:  workerID,
		StepID:    stepID,
		Action:    action,
		Details:   details,
	})
}

// timeNow is a package-level indirection so tests can freeze history
// timestamps without threading a clock through every call site.
var timeNow = time.Now
