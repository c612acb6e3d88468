package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func storySpec(id string, deps ...string) StorySpec {
	return StorySpec{
		ID: id, Title: id, AcceptanceCriteria: []string{"done"}, DependsOn: deps,
	}
}

func TestValidateDAGAcyclic(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{
		storySpec("a"),
		storySpec("b", "a"),
		storySpec("c", "a", "b"),
	}}
	require.NoError(t, ValidateDAG(m))
}

func TestValidateDAGDetectsDirectCycle(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{
		storySpec("a", "b"),
		storySpec("b", "a"),
	}}
	err := ValidateDAG(m)
	require.Error(t, err)
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Cycle, "a")
	require.Contains(t, ce.Cycle, "b")
}

func TestValidateDAGDetectsTransitiveCycle(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{
		storySpec("a", "c"),
		storySpec("b", "a"),
		storySpec("c", "b"),
	}}
	err := ValidateDAG(m)
	require.Error(t, err)
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Cycle, 4) // three nodes plus the repeated closing node
}

func TestValidateDAGSelfDependency(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{storySpec("a", "a")}}
	err := ValidateDAG(m)
	require.Error(t, err)
}

func TestValidateFieldsRejectsUnknownDependency(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{storySpec("a", "ghost")}}
	err := validateFields(m)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Problems[0], "ghost")
}

func TestValidateFieldsRejectsDuplicateID(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{storySpec("a"), storySpec("a")}}
	err := validateFields(m)
	require.Error(t, err)
}

func TestValidateFieldsRejectsMissingAcceptanceCriteria(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{{ID: "a", Title: "a"}}}
	err := validateFields(m)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Problems[0], "acceptance criteria")
}

func TestToStories(t *testing.T) {
	m := &Manifest{Stories: []StorySpec{storySpec("a", "b"), storySpec("b")}}
	stories := m.ToStories()
	require.Len(t, stories, 2)
	require.Equal(t, "a", stories[0].ID)
	require.Equal(t, []string{"b"}, stories[0].DependsOn)
}
