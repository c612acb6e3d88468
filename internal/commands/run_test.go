package commands

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	require.Equal(t, "add-a-login-page", slugify("Add a login page!"))
	require.Equal(t, "request", slugify("???"))
	long := strings.Repeat("a", 60)
	require.Len(t, slugify(long), 40)
}

func TestResolveManifestPathReturnsExistingFileUnchanged(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("stories: []\n"), 0o644))

	resolved, err := resolveManifestPath(dir, manifestPath)
	require.NoError(t, err)
	require.Equal(t, manifestPath, resolved)
}

func TestResolveManifestPathSynthesizesOneShotRequest(t *testing.T) {
	dir := t.TempDir()

	resolved, err := resolveManifestPath(dir, "Add a login page")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "adhoc-manifest.yaml"), resolved)

	content, err := os.ReadFile(resolved)
	require.NoError(t, err)
	require.Contains(t, string(content), "adhoc-add-a-login-page")
	require.Contains(t, string(content), "Add a login page")
}

func TestCmdErrWrapsWithoutChangingMessage(t *testing.T) {
	original := errors.New("boom")
	wrapped := cmdErr(original)

	require.Equal(t, "boom", wrapped.Error())
	require.ErrorIs(t, wrapped, original)
}
