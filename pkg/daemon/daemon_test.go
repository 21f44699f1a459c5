package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerosumquant/claude-extractor-core/pkg/config"
	"github.com/zerosumquant/claude-extractor-core/pkg/protocol"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

func testClock() int64 { return 1000 }

func newTestDaemon(t *testing.T, root string) *Daemon {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.DefaultRoot = root

	d := New(cfg, st, testClock)
	t.Cleanup(d.Close)
	return d
}

func writeJSONL(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noopEmit(string, float64) {}
func neverCancelled() bool     { return false }

func TestBuildIndexEmptyTree(t *testing.T) {
	root := t.TempDir()
	d := newTestDaemon(t, root)

	data, code, msg := d.Handle(context.Background(), protocol.Request{ID: "1", Method: "build_index"}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	assert.Equal(t, map[string]any{"status": "ok", "conversations": 0}, data)
}

func TestSearchBeforeIndexReturnsIndexRequired(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())

	_, code, _ := d.Handle(context.Background(), protocol.Request{ID: "1", Method: "search", Params: map[string]any{"q": "anything"}}, noopEmit, neverCancelled)
	assert.Equal(t, protocol.CodeIndexRequired, code)
}

func TestBuildIndexThenListExtractAndSearch(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, root, "a.jsonl",
		`{"type":"user","message":{"role":"user","content":"Hello"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"Hi"}}`,
	)
	d := newTestDaemon(t, root)
	ctx := context.Background()

	data, code, msg := d.Handle(ctx, protocol.Request{ID: "1", Method: "build_index"}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	assert.Equal(t, map[string]any{"status": "ok", "conversations": 1}, data)

	listData, code, msg := d.Handle(ctx, protocol.Request{ID: "2", Method: "list_sessions"}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	sessions, ok := listData.([]sessionEntry)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	assert.Equal(t, "session_0", sessions[0].ID)
	assert.Equal(t, "a.jsonl", sessions[0].Name)

	extractData, code, msg := d.Handle(ctx, protocol.Request{
		ID: "3", Method: "extract",
		Params: map[string]any{"session_id": "session_0", "format": "json", "export": false},
	}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	body, ok := extractData.(map[string]any)
	require.True(t, ok)
	messages, ok := body["messages"].([]messageView)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[0].Role)
	assert.Equal(t, "Hi", messages[0].Content)
	assert.Equal(t, "user", messages[1].Role)
	assert.False(t, body["has_more"].(bool))

	searchData, code, msg := d.Handle(ctx, protocol.Request{
		ID: "4", Method: "search",
		Params: map[string]any{"q": "Hello"},
	}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	result, ok := searchData.(map[string]any)
	require.True(t, ok)
	results := result["results"].([]searchResultEntry)
	require.Len(t, results, 1)
	assert.Equal(t, "session_0", results[0].SessionID)
	assert.Contains(t, results[0].Snippet, "Hello")
	assert.EqualValues(t, 1, results[0].Position)
}

func TestExtractUnknownSessionReturnsSessionMissing(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, root, "a.jsonl", `{"type":"user","message":{"role":"user","content":"Hello"}}`)
	d := newTestDaemon(t, root)
	ctx := context.Background()

	_, _, _ = d.Handle(ctx, protocol.Request{ID: "1", Method: "build_index"}, noopEmit, neverCancelled)

	_, code, _ := d.Handle(ctx, protocol.Request{
		ID: "2", Method: "extract",
		Params: map[string]any{"session_id": "session_7"},
	}, noopEmit, neverCancelled)
	assert.Equal(t, protocol.CodeSessionMissing, code)
}

func TestBuildIndexCancelledMidImportReturnsCancelled(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, root, "a.jsonl", `{"type":"user","message":{"role":"user","content":"Hello"}}`)
	writeJSONL(t, root, "b.jsonl", `{"type":"user","message":{"role":"user","content":"World"}}`)
	d := newTestDaemon(t, root)

	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 1
	}

	_, code, _ := d.Handle(context.Background(), protocol.Request{ID: "1", Method: "build_index"}, noopEmit, cancelled)
	assert.Equal(t, protocol.CodeCancelled, code)
}

func TestUnknownMethodReturnsUnknownMethod(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	_, code, _ := d.Handle(context.Background(), protocol.Request{ID: "1", Method: "bogus"}, noopEmit, neverCancelled)
	assert.Equal(t, protocol.CodeUnknownMethod, code)
}

func TestScheduledBuildIndexRequestIsWellFormed(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())

	req1 := d.ScheduledBuildIndexRequest()
	req2 := d.ScheduledBuildIndexRequest()
	assert.Equal(t, "build_index", req1.Method)
	assert.NotEmpty(t, req1.ID)
	assert.NotEqual(t, req1.ID, req2.ID, "each scheduled request gets its own id")
}

func TestSearchAfterRestartWithPopulatedStoreSkipsIndexRequired(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, root, "a.jsonl", `{"type":"user","message":{"role":"user","content":"Hello there"}}`)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cfg := config.DefaultConfig()
	cfg.DefaultRoot = root

	st1, err := store.Open(dbPath)
	require.NoError(t, err)
	d1 := New(cfg, st1, testClock)

	_, code, msg := d1.Handle(context.Background(), protocol.Request{ID: "1", Method: "build_index"}, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	d1.Close()
	st1.Close()

	// Simulate a process restart: a brand new Daemon/Store pair over the
	// same database, with no build_index call yet in this process's
	// lifetime.
	st2, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st2.Close()
	d2 := New(cfg, st2, testClock)
	defer d2.Close()

	searchData, code, msg := d2.Handle(context.Background(), protocol.Request{
		ID: "2", Method: "search",
		Params: map[string]any{"q": "Hello"},
	}, noopEmit, neverCancelled)
	require.Empty(t, code, msg, "a restarted process with a populated store must not demand a redundant build_index")
	result, ok := searchData.(map[string]any)
	require.True(t, ok)
	results := result["results"].([]searchResultEntry)
	require.Len(t, results, 1)
	assert.Equal(t, "session_0", results[0].SessionID)
}

func TestScheduledBuildIndexRequestRunsThroughHandle(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, root, "a.jsonl", `{"type":"user","message":{"role":"user","content":"Hello"}}`)
	d := newTestDaemon(t, root)

	req := d.ScheduledBuildIndexRequest()
	data, code, msg := d.Handle(context.Background(), req, noopEmit, neverCancelled)
	require.Empty(t, code, msg)
	assert.Equal(t, map[string]any{"status": "ok", "conversations": 1}, data)
}
