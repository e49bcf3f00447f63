package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/canon/internal/config"
)

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))

	err := validateFormat("yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestStoredPath_InsideRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w := &workspace{root: root}

	got, err := w.storedPath(filepath.Join(root, "pkg", "mod.py"))
	require.NoError(t, err)
	assert.Equal(t, "pkg/mod.py", got)
}

func TestStoredPath_OutsideRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "other.py")
	w := &workspace{root: root}

	got, err := w.storedPath(outside)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(outside), got)
}

func TestListDirectory_RelativeToRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	files := map[string]string{
		"pkg/a.py":             "x = 1\n",
		"pkg/sub/b.py":         "y = 2\n",
		"pkg/notes.md":         "# notes\n",
		"pkg/__pycache__/a.py": "cached\n",
		"other/c.py":           "z = 3\n",
		"pkg/sub/.hidden/d.py": "w = 4\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	rels, err := listDirectory(root, filepath.Join(root, "pkg"), config.DefaultConfig().Ingest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkg/a.py", "pkg/sub/b.py"}, rels)
}
