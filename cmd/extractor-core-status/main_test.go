package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

func TestRunStatusMissingDatabaseDoesNotError(t *testing.T) {
	t.Setenv("EXTRACTOR_HOME", t.TempDir())
	require.NoError(t, runStatus("", filepath.Join(t.TempDir(), "missing.db")))
}

func TestRunStatusWithEmptyDatabaseDoesNotError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	require.NoError(t, runStatus("", dbPath))
}
