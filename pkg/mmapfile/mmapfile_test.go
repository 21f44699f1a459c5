//go:build linux || darwin

package mmapfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFindLinesSkipsPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\ntwo\npartial")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	for line := range f.FindLines(0, f.Size()) {
		lines = append(lines, string(line.Content))
	}
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestFindLinesStripsCR(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\r\ntwo\r\n")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	for line := range f.FindLines(0, f.Size()) {
		lines = append(lines, string(line.Content))
	}
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestRemapIfChangedDetectsGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\n")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	gen0 := f.Generation()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString("two\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	kind, err := f.RemapIfChanged()
	require.NoError(t, err)
	assert.Equal(t, Grew, kind)
	assert.Greater(t, f.Generation(), gen0)
	assert.EqualValues(t, 8, f.Size())
}

func TestRemapIfChangedDetectsRotationViaTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\ntwo\n")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.Truncate(path, 0))

	kind, err := f.RemapIfChanged()
	require.NoError(t, err)
	assert.Equal(t, Rotated, kind)
	assert.EqualValues(t, 0, f.Size())
}

func TestRemapIfChangedDetectsRotationViaIdentityChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\n")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.Remove(path))
	writeFile(t, path, "fresh\nnew\nfile\n")

	kind, err := f.RemapIfChanged()
	require.NoError(t, err)
	assert.Equal(t, Rotated, kind)
	assert.EqualValues(t, len("fresh\nnew\nfile\n"), f.Size())
}

func TestRemapIfChangedNoChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	writeFile(t, path, "one\n")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	kind, err := f.RemapIfChanged()
	require.NoError(t, err)
	assert.Equal(t, NoChange, kind)
}
