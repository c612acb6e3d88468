package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/models"
)

func TestCompletedPercentComputesFraction(t *testing.T) {
	s := &models.Story{Steps: []*models.Step{
		{Status: models.StepStatusCompleted},
		{Status: models.StepStatusCompleted},
		{Status: models.StepStatusPending},
		{Status: models.StepStatusPending},
	}}
	require.InDelta(t, 50.0, completedPercent(s), 0.001)
}

func TestCompletedPercentOfEmptyStoryIsZero(t *testing.T) {
	require.Zero(t, completedPercent(&models.Story{}))
}

func TestTotalTokensSumsAcrossSteps(t *testing.T) {
	s := &models.Story{Steps: []*models.Step{
		{TokensUsed: 10},
		{TokensUsed: 32},
	}}
	require.Equal(t, int64(42), totalTokens(s))
}

func TestClaimedAgoEmptyWhenUnclaimed(t *testing.T) {
	require.Empty(t, claimedAgo(&models.Story{}))
}

func TestClaimedAgoHumanizesClaimTime(t *testing.T) {
	claimed := time.Now().Add(-2 * time.Hour)
	got := claimedAgo(&models.Story{ClaimedAt: &claimed})
	require.NotEmpty(t, got)
}

func TestCurrentStepKindReflectsInProgressStep(t *testing.T) {
	s := &models.Story{Steps: []*models.Step{
		{Kind: models.StepKindCoding, Status: models.StepStatusInProgress},
	}}
	require.Equal(t, "coding", currentStepKind(s))
}

func TestCurrentStepKindEmptyWhenNoneInProgress(t *testing.T) {
	s := &models.Story{Steps: []*models.Step{{Status: models.StepStatusPending}}}
	require.Empty(t, currentStepKind(s))
}

func TestStoryNotFoundError(t *testing.T) {
	err := storyNotFoundError("missing-1")
	require.Equal(t, "story not found: missing-1", err.Error())

	var typed *storyNotFoundErr
	require.ErrorAs(t, err, &typed)
	require.Equal(t, "STORY_NOT_FOUND", typed.ErrorCode())
	require.Equal(t, "missing-1", typed.Context()["story_id"])
	require.NotEmpty(t, typed.SuggestedAction())
}
