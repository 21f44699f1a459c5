package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestFilesSortedByMtimeDescending(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()

	oldPath := filepath.Join(dir, "old.jsonl")
	newPath := filepath.Join(dir, "new.jsonl")
	touch(t, oldPath, base.Add(-time.Hour))
	touch(t, newPath, base)

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, newPath, files[0])
	assert.Equal(t, oldPath, files[1])
}

func TestFilesIgnoresNonJSONL(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jsonl"), time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := Files(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFilesMissingRootReturnsEmpty(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFilesRecursesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	touch(t, filepath.Join(sub, "nested.jsonl"), time.Now())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(sub, "nested.jsonl"), files[0])
}
