package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/storyforge/internal/models"
)

func TestEditBoxTakeConsumesOnce(t *testing.T) {
	box, err := NewEditBox(t.TempDir())
	require.NoError(t, err)

	req, err := box.Take("s1")
	require.NoError(t, err)
	require.Nil(t, req)

	require.NoError(t, box.Write(&models.EditRequest{StoryID: "s1", WorkerID: "w1"}))

	got, err := box.Take("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "s1", got.StoryID)

	again, err := box.Take("s1")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestEditBoxDiscard(t *testing.T) {
	box, err := NewEditBox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, box.Write(&models.EditRequest{StoryID: "s1", WorkerID: "w1"}))
	require.NoError(t, box.Discard("s1"))

	req, err := box.Take("s1")
	require.NoError(t, err)
	require.Nil(t, req)

	// Discarding an already-absent request is a no-op, not an error.
	require.NoError(t, box.Discard("s1"))
}
