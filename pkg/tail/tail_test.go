//go:build linux || darwin

package tail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerosumquant/claude-extractor-core/pkg/mmapfile"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

func TestFromMappedFileParsesBeyondLastByte(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"type":"user","content":"already imported"}`+"\n"+
			`{"type":"user","content":"tail one"}`+"\n"+
			`{"type":"assistant","content":"tail two"}`+"\n",
	), 0o644))

	mf, err := mmapfile.Open(path)
	require.NoError(t, err)
	defer mf.Close()

	firstLineEnd := int64(len(`{"type":"user","content":"already imported"}` + "\n"))

	msgs := FromMappedFile(mf, firstLineEnd, "a", 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].Position)
	assert.Equal(t, "tail one", msgs[0].Content)
	assert.Equal(t, int64(3), msgs[1].Position)
	assert.Equal(t, "tail two", msgs[1].Content)
}

func TestFromMappedFileNoGrowthReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","content":"x"}`+"\n"), 0o644))

	mf, err := mmapfile.Open(path)
	require.NoError(t, err)
	defer mf.Close()

	msgs := FromMappedFile(mf, mf.Size(), "a", 1)
	assert.Nil(t, msgs)
}

func TestMergePreservesNewestFirstOrder(t *testing.T) {
	tailMsgs := []Message{
		{Position: 2, Content: "tail-older"},
		{Position: 3, Content: "tail-newer"},
	}
	storePage := []store.Message{
		{Position: 1, Content: "stored"},
	}

	merged := Merge(tailMsgs, storePage)
	require.Len(t, merged, 3)
	assert.Equal(t, "tail-newer", merged[0].Content)
	assert.Equal(t, "tail-older", merged[1].Content)
	assert.Equal(t, "stored", merged[2].Content)
}
