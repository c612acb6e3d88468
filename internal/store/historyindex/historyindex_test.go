package historyindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/models"
)

func TestRebuildAndQuery(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	stepID := 1
	stories := map[string]*models.Story{
		"s1": {
			ID: "s1",
			History: []models.HistoryEntry{
				{Timestamp: time.Now().Add(-time.Minute), WorkerID: "w1", StepID: &stepID, Action: models.HistoryStepStarted},
				{Timestamp: time.Now(), WorkerID: "w1", StepID: &stepID, Action: models.HistoryStepCompleted},
			},
		},
	}

	ctx := context.Background()
	require.NoError(t, idx.Rebuild(ctx, stories))

	rows, err := idx.Query(ctx, "s1", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Most recent first.
	require.Equal(t, string(models.HistoryStepCompleted), rows[0].Action)
}

func TestQueryFiltersByAction(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Append(ctx, "s1", models.HistoryEntry{Timestamp: time.Now(), Action: models.HistoryStepStarted}))
	require.NoError(t, idx.Append(ctx, "s1", models.HistoryEntry{Timestamp: time.Now(), Action: models.HistoryStepCompleted}))

	rows, err := idx.Query(ctx, "", string(models.HistoryStepCompleted), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, string(models.HistoryStepCompleted), rows[0].Action)
}

func TestRebuildTruncatesPreviousEntries(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Append(ctx, "stale", models.HistoryEntry{Timestamp: time.Now(), Action: models.HistoryStepStarted}))

	require.NoError(t, idx.Rebuild(ctx, map[string]*models.Story{}))

	rows, err := idx.Query(ctx, "", "", 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
