// Package daemon wires the store, importer, filesystem scan, and tail
// overlay into the handlers for each protocol method.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zerosumquant/claude-extractor-core/pkg/config"
	"github.com/zerosumquant/claude-extractor-core/pkg/extract"
	"github.com/zerosumquant/claude-extractor-core/pkg/importer"
	"github.com/zerosumquant/claude-extractor-core/pkg/logger"
	"github.com/zerosumquant/claude-extractor-core/pkg/mmapfile"
	"github.com/zerosumquant/claude-extractor-core/pkg/protocol"
	"github.com/zerosumquant/claude-extractor-core/pkg/scan"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
	"github.com/zerosumquant/claude-extractor-core/pkg/tail"
)

// Daemon holds the process-wide state behind the protocol handlers: the
// store connection and the session_N -> path mapping from the most recent
// scan. Per the design notes, these plus the importer's own mapped-file/
// block-index registry are the only process-wide state this core keeps.
type Daemon struct {
	cfg *config.Config
	st  *store.Store
	imp *importer.Importer

	mu          sync.RWMutex
	sessions    []string // index -> absolute path, most-recent-first
	everIndexed bool
	tailHandles map[string]*mmapfile.File
}

// New builds a Daemon around cfg and st, using now to stamp timestamps.
func New(cfg *config.Config, st *store.Store, now func() int64) *Daemon {
	return &Daemon{
		cfg:         cfg,
		st:          st,
		imp:         importer.New(st, now),
		tailHandles: make(map[string]*mmapfile.File),
	}
}

// Close releases the importer's mapped files and this daemon's own tail
// handles.
func (d *Daemon) Close() {
	d.imp.Close()
	for _, mf := range d.tailHandles {
		mf.Close()
	}
}

// ScheduledBuildIndexRequest builds a build_index request carrying a
// freshly generated id, for the scheduler to hand to protocol.Server.Enqueue.
// It deliberately does not call Handle itself: the scheduler runs on its
// own goroutine, and invoking Handle directly from there would race the
// server's main loop over the store and the importer's mapped-file/block-
// index registry. Routing the request through Enqueue instead keeps every
// build_index, scheduled or not, on the single serialized request stream.
func (d *Daemon) ScheduledBuildIndexRequest() protocol.Request {
	return protocol.Request{ID: "scheduled-" + uuid.NewString(), Method: "build_index"}
}

// Handle implements protocol.Handler, dispatching to the method named in req.
func (d *Daemon) Handle(ctx context.Context, req protocol.Request, emit func(stage string, progress float64), cancelled func() bool) (any, string, string) {
	logger.DebugCF("daemon", "dispatching request", map[string]any{"method": req.Method})
	switch req.Method {
	case "build_index":
		return d.buildIndex(ctx, req, emit, cancelled)
	case "list_sessions", "list":
		return d.listSessions(ctx, req)
	case "search":
		return d.search(ctx, req, cancelled)
	case "extract":
		return d.extract(ctx, req)
	default:
		return nil, protocol.CodeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method)
	}
}

// decodeParams re-marshals the generically-decoded params back into a
// typed struct. Unknown fields are silently ignored, matching the wire
// contract.
func decodeParams(raw any, out any) error {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type buildIndexParams struct {
	Root string `json:"root"`
}

func (d *Daemon) buildIndex(ctx context.Context, req protocol.Request, emit func(string, float64), cancelled func() bool) (any, string, string) {
	var params buildIndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, protocol.CodeInvalidParams, "params must be an object"
	}

	root := params.Root
	if root == "" {
		root = d.cfg.DefaultRoot
	}

	emit("scan", 0.0)
	paths, err := scan.Files(root)
	if err != nil {
		logger.ErrorCF("daemon", "build_index scan failed", map[string]any{"root": root, "error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("scan failed: %v", err)
	}

	d.mu.Lock()
	d.sessions = paths
	d.mu.Unlock()

	emit("import", 0.2)
	_, stoppedForCancel := d.imp.ImportAll(ctx, paths, cancelled, nil)
	if stoppedForCancel {
		return nil, protocol.CodeCancelled, "build_index cancelled"
	}

	emit("index", 0.8)
	// Block index persistence already happened per-file inside ImportFile;
	// this checkpoint marks the conceptual "index" phase complete for
	// progress reporting purposes.

	d.mu.Lock()
	d.everIndexed = true
	d.mu.Unlock()

	emit("complete", 1.0)

	conversations, err := d.st.ListConversations(ctx)
	if err != nil {
		logger.ErrorCF("daemon", "build_index: listing conversations failed", map[string]any{"error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("listing conversations: %v", err)
	}

	return map[string]any{"status": "ok", "conversations": len(conversations)}, "", ""
}

// ensureIndexed reports whether this core has anything to search, and
// returns the session_N -> path mapping to search against. everIndexed is
// only set in-process by a build_index call in this daemon's lifetime, so a
// freshly restarted process with an already-populated database would
// otherwise see everIndexed as false and wrongly demand a redundant
// build_index. ensureIndexed falls back to store.HasAnyIndex for that case,
// and if the in-memory session mapping is empty, rebuilds it with the same
// filesystem scan build_index itself uses, so search and extract can resolve
// session ids without requiring an explicit rescan first.
func (d *Daemon) ensureIndexed(ctx context.Context) ([]string, bool, error) {
	d.mu.RLock()
	indexed := d.everIndexed
	sessions := append([]string(nil), d.sessions...)
	d.mu.RUnlock()

	if indexed {
		return sessions, true, nil
	}

	has, err := d.st.HasAnyIndex(ctx)
	if err != nil {
		return nil, false, err
	}
	if !has {
		return nil, false, nil
	}

	if len(sessions) == 0 {
		paths, err := scan.Files(d.cfg.DefaultRoot)
		if err != nil {
			return nil, false, err
		}
		sessions = paths
	}

	d.mu.Lock()
	d.everIndexed = true
	d.sessions = sessions
	d.mu.Unlock()

	return sessions, true, nil
}

type sessionEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (d *Daemon) listSessions(ctx context.Context, req protocol.Request) (any, string, string) {
	var params buildIndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, protocol.CodeInvalidParams, "params must be an object"
	}

	root := params.Root
	if root == "" {
		root = d.cfg.DefaultRoot
	}

	paths, err := scan.Files(root)
	if err != nil {
		return nil, protocol.CodeInternal, fmt.Sprintf("scan failed: %v", err)
	}

	d.mu.Lock()
	d.sessions = paths
	d.mu.Unlock()

	entries := make([]sessionEntry, 0, len(paths))
	for i, p := range paths {
		mf, err := d.openTailHandle(p)
		var size int64
		if err == nil {
			size = mf.Size()
		}
		entries = append(entries, sessionEntry{
			ID:   sessionID(i),
			Path: p,
			Name: baseName(p),
			Size: size,
		})
	}
	return entries, "", ""
}

type searchParams struct {
	Q     string `json:"q"`
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResultEntry struct {
	SessionID   string  `json:"session_id"`
	SessionName string  `json:"session_name"`
	Score       float64 `json:"score"`
	Snippet     string  `json:"snippet"`
	Position    int64   `json:"position"`
	MatchCount  int     `json:"match_count"`
}

func (d *Daemon) search(ctx context.Context, req protocol.Request, cancelled func() bool) (any, string, string) {
	sessions, indexed, err := d.ensureIndexed(ctx)
	if err != nil {
		logger.ErrorCF("daemon", "search: checking index state failed", map[string]any{"error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("checking index state: %v", err)
	}
	if !indexed {
		return nil, protocol.CodeIndexRequired, "search requires a successful build_index first"
	}

	var params searchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, protocol.CodeInvalidParams, "params must be an object"
	}
	query := params.Q
	if query == "" {
		query = params.Query
	}
	if query == "" {
		return nil, protocol.CodeInvalidParams, "q (or query) is required"
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	if cancelled() {
		return nil, protocol.CodeCancelled, "search cancelled"
	}

	rows, err := d.st.Search(ctx, query, "", limit*4)
	if err != nil {
		logger.ErrorCF("daemon", "search query failed", map[string]any{"query": query, "error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("search failed: %v", err)
	}

	pathBySession := make(map[string]string, len(sessions))
	sessionByConversation := make(map[string]string, len(sessions))
	for i, p := range sessions {
		id := sessionID(i)
		pathBySession[id] = p
		sessionByConversation[extract.DeriveConversationID(p)] = id
	}

	// Aggregate per conversation: match_count is the number of raw FTS
	// rows found for that conversation; score is the bm25() rank of its
	// best (lowest-rank) row.
	type agg struct {
		count       int
		bestRank    float64
		bestSnippet string
		bestPos     int64
	}
	byConv := make(map[string]*agg)
	var order []string
	for _, r := range rows {
		a, ok := byConv[r.ConversationID]
		if !ok {
			a = &agg{bestRank: r.Rank, bestSnippet: r.Snippet, bestPos: r.Position}
			byConv[r.ConversationID] = a
			order = append(order, r.ConversationID)
		}
		a.count++
		if r.Rank < a.bestRank {
			a.bestRank = r.Rank
			a.bestSnippet = r.Snippet
			a.bestPos = r.Position
		}
	}

	results := make([]searchResultEntry, 0, len(order))
	for _, convID := range order {
		if len(results) >= limit {
			break
		}
		a := byConv[convID]
		sessID, ok := sessionByConversation[convID]
		if !ok {
			continue
		}
		results = append(results, searchResultEntry{
			SessionID:   sessID,
			SessionName: baseName(pathBySession[sessID]),
			Score:       a.bestRank,
			Snippet:     a.bestSnippet,
			Position:    a.bestPos,
			MatchCount:  a.count,
		})
	}

	return map[string]any{"results": results}, "", ""
}

type extractParams struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
	Export    bool   `json:"export"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

type messageView struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

func (d *Daemon) extract(ctx context.Context, req protocol.Request) (any, string, string) {
	var params extractParams
	if err := decodeParams(req.Params, &params); err != nil {
		return nil, protocol.CodeInvalidParams, "params must be an object"
	}
	if params.SessionID == "" {
		return nil, protocol.CodeInvalidParams, "session_id is required"
	}
	if params.Format == "" {
		params.Format = "json"
	}

	sessions, _, err := d.ensureIndexed(ctx)
	if err != nil {
		logger.ErrorCF("daemon", "extract: checking index state failed", map[string]any{"error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("checking index state: %v", err)
	}

	idx, ok := sessionIndex(params.SessionID)
	if !ok || idx < 0 || idx >= len(sessions) {
		return nil, protocol.CodeSessionMissing, fmt.Sprintf("unknown session %q", params.SessionID)
	}
	path := sessions[idx]
	conversationID := extract.DeriveConversationID(path)

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	storePage, err := d.st.GetMessagesBefore(ctx, conversationID, int64(params.Offset), limit)
	if err != nil {
		logger.ErrorCF("daemon", "extract: loading messages failed", map[string]any{"conversation_id": conversationID, "error": err.Error()})
		return nil, protocol.CodeInternal, fmt.Sprintf("loading messages: %v", err)
	}

	var tailMsgs []tail.Message
	if params.Offset == 0 {
		tailMsgs, err = d.tailFor(path, conversationID)
		if err != nil {
			logger.WarnCF("daemon", "tail overlay failed, serving store results only", map[string]any{"path": path, "error": err.Error()})
		}
	}

	merged := tail.Merge(tailMsgs, storePage)
	hasMore := len(storePage) == limit

	messages := make([]messageView, 0, len(merged))
	for _, m := range merged {
		mv := messageView{Role: m.Role, Content: m.Content}
		if m.Timestamp.Valid {
			mv.Timestamp = m.Timestamp.Float64
		}
		messages = append(messages, mv)
	}

	if params.Export {
		// Export serialization beyond the minimum needed to return
		// messages over the protocol is an external concern; this core
		// only reports the session id and requested format.
		return map[string]any{"id": params.SessionID, "format": params.Format}, "", ""
	}

	return map[string]any{
		"id":       params.SessionID,
		"messages": messages,
		"has_more": hasMore,
	}, "", ""
}

func (d *Daemon) tailFor(path, conversationID string) ([]tail.Message, error) {
	mf, err := d.openTailHandle(path)
	if err != nil {
		return nil, err
	}
	if _, err := mf.RemapIfChanged(); err != nil {
		return nil, err
	}

	_, _, lastByte, found, err := d.st.GetLatestSourceForConversation(context.Background(), conversationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	summary, found, err := d.st.GetConversation(context.Background(), conversationID)
	if err != nil {
		return nil, err
	}
	lastPosition := int64(0)
	if found {
		lastPosition = summary.LastPosition
	}

	return tail.FromMappedFile(mf, lastByte, conversationID, lastPosition), nil
}

func (d *Daemon) openTailHandle(path string) (*mmapfile.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mf, ok := d.tailHandles[path]; ok {
		return mf, nil
	}
	mf, err := mmapfile.Open(path)
	if err != nil {
		return nil, err
	}
	d.tailHandles[path] = mf
	return mf, nil
}

func sessionID(i int) string {
	return fmt.Sprintf("session_%d", i)
}

func sessionIndex(id string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(id, "session_%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
