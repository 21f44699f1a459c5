// Package importer drives the Mapped File and Block Index forward for a
// set of source paths, parses JSON lines, deduplicates via the store's
// uniqueness constraint, assigns monotonic per-conversation positions, and
// batches inserts in transactions.
package importer

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/zerosumquant/claude-extractor-core/pkg/blockindex"
	"github.com/zerosumquant/claude-extractor-core/pkg/extract"
	"github.com/zerosumquant/claude-extractor-core/pkg/logger"
	"github.com/zerosumquant/claude-extractor-core/pkg/mmapfile"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

// MaxLineBytes bounds a single JSONL record; longer lines are skipped
// without aborting the file.
const MaxLineBytes = 8 << 20

// BatchSize is the number of successful inserts between transaction commits.
const BatchSize = 5000

// Clock supplies the current Unix-seconds timestamp for row stamping. A
// field rather than time.Now() directly so tests can hold it fixed.
type Clock func() int64

// FileResult summarizes one file's import pass.
type FileResult struct {
	Path           string
	ConversationID string
	MessagesAdded  int
	Rotated        bool
	Err            error
}

// Importer holds the process-wide registry of per-path mapped files and
// block indexes, the two pieces of global state this core keeps, kept
// alive for the process lifetime and closed on shutdown.
type Importer struct {
	st    *store.Store
	clock Clock

	mapped map[string]*mmapfile.File
	blocks map[string]*blockindex.Index
}

// New builds an Importer backed by st.
func New(st *store.Store, clock Clock) *Importer {
	return &Importer{
		st:     st,
		clock:  clock,
		mapped: make(map[string]*mmapfile.File),
		blocks: make(map[string]*blockindex.Index),
	}
}

// Close releases every mapped file this importer has opened.
func (imp *Importer) Close() {
	for _, mf := range imp.mapped {
		mf.Close()
	}
	imp.mapped = make(map[string]*mmapfile.File)
	imp.blocks = make(map[string]*blockindex.Index)
}

// ImportAll runs ImportFile over paths in order, calling onFile after each
// one (for progress events), and stopping early if cancelled reports true
// (checked once per file, per the documented cancellation granularity). A
// per-file I/O error aborts only that file; the rest are still attempted.
// The second return value reports whether the loop stopped early due to
// cancellation rather than exhausting paths.
func (imp *Importer) ImportAll(ctx context.Context, paths []string, cancelled func() bool, onFile func(FileResult)) ([]FileResult, bool) {
	results := make([]FileResult, 0, len(paths))
	for _, p := range paths {
		if cancelled != nil && cancelled() {
			return results, true
		}
		res := imp.ImportFile(ctx, p)
		results = append(results, res)
		if onFile != nil {
			onFile(res)
		}
	}
	return results, false
}

// ImportFile runs the per-file algorithm: acquire/remap the mapped file
// (state machine: Idle -> Mapping), resolve or create the source_files row
// (Rotation-detected resets the cursor to zero), acquire/load the block
// index, resolve the resumption cursor as min(store, sidecar) (Indexing),
// parse and commit new lines in batches (Parsing/Committing), then advance
// source progress and persist the sidecar.
func (imp *Importer) ImportFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path, ConversationID: extract.DeriveConversationID(path)}

	mf, rotated, err := imp.acquireMappedFile(path)
	if err != nil {
		res.Err = fmt.Errorf("importer: mapped file: %w", err)
		return res
	}
	if !rotated {
		// The recorded row no longer fits the file: identity changed, the file
		// shrank below last_byte, or last_byte no longer follows a newline.
		sf, found, err := imp.st.GetSourceFileByPath(ctx, path)
		if err != nil {
			res.Err = fmt.Errorf("importer: source file row: %w", err)
			return res
		}
		devID, inode := mf.Identity()
		rotated = found && (sf.DeviceID != devID || sf.Inode != inode || sf.LastByte > mf.Size() ||
			(sf.LastByte > 0 && mf.Bytes()[sf.LastByte-1] != '\n'))
	}
	res.Rotated = rotated

	sfID, startByte, startLine, err := imp.resolveSourceFile(ctx, path, mf, rotated)
	if err != nil {
		res.Err = fmt.Errorf("importer: source file row: %w", err)
		return res
	}

	added, lastLineNo, err := imp.parseAndCommit(ctx, mf, sfID, res.ConversationID, startByte, startLine)
	if err != nil {
		res.Err = fmt.Errorf("importer: parse and commit: %w", err)
		return res
	}
	res.MessagesAdded = added

	// last_byte is the end of the last complete line; a partial trailing
	// line stays beyond it until its newline arrives.
	lastByte := int64(bytes.LastIndexByte(mf.Bytes(), '\n') + 1)
	if err := imp.st.UpdateSourceProgress(ctx, sfID, lastLineNo, lastByte, mf.Size(), imp.clock()); err != nil {
		res.Err = fmt.Errorf("importer: update source progress: %w", err)
		return res
	}

	// Commit DB first, then persist the sidecar: if this fails, the next
	// run detects last_byte < source_files.last_byte and rebuilds it.
	bix := imp.blocks[path]
	if err := bix.AppendIncremental(mf, blockindex.SidecarPath(path)); err != nil {
		logger.WarnCF("importer", "block index persist failed, will rebuild next run", map[string]any{
			"path": path, "error": err.Error(),
		})
	}

	return res
}

func (imp *Importer) acquireMappedFile(path string) (*mmapfile.File, bool, error) {
	mf, ok := imp.mapped[path]
	if !ok {
		fresh, err := mmapfile.Open(path)
		if err != nil {
			return nil, false, err
		}
		imp.mapped[path] = fresh
		return fresh, false, nil
	}

	kind, err := mf.RemapIfChanged()
	if err != nil {
		return nil, false, err
	}
	return mf, kind == mmapfile.Rotated, nil
}

// resolveSourceFile returns the source_files row id to write against, the
// byte offset to resume parsing from, and the line number immediately
// preceding that byte offset. The two must always describe the same
// cursor: whichever of store/sidecar contributes the winning (smaller)
// start_byte also contributes its matching line count, so the lines
// re-parsed from start_byte get assigned line numbers that collide with
// any rows already committed for them and get deduped by the unique
// constraint instead of re-inserted as new rows. On rotation it marks the
// old row (if any) rotated, creates a fresh disambiguated row, and resets
// the in-memory block index for this path so both cursors restart at zero.
func (imp *Importer) resolveSourceFile(ctx context.Context, path string, mf *mmapfile.File, rotated bool) (sfID int64, startByte int64, startLine int64, err error) {
	devID, inode := mf.Identity()

	if rotated {
		existing, found, err := imp.st.GetSourceFileByPath(ctx, path)
		if err != nil {
			return 0, 0, 0, err
		}
		if found {
			if err := imp.st.MarkRotated(ctx, existing.ID); err != nil {
				return 0, 0, 0, err
			}
		}
		imp.blocks[path] = blockindex.Empty()

		storagePath := path
		if found {
			storagePath = fmt.Sprintf("%s#rotated-from-%d", path, existing.ID)
		}
		id, err := imp.st.GetOrCreateSourceFile(ctx, storagePath, devID, inode, mf.Size(), imp.clock())
		return id, 0, 0, err
	}

	id, err := imp.st.GetOrCreateSourceFile(ctx, path, devID, inode, mf.Size(), imp.clock())
	if err != nil {
		return 0, 0, 0, err
	}

	bix, ok := imp.blocks[path]
	if !ok {
		bix, err = blockindex.LoadOrEmpty(blockindex.SidecarPath(path))
		if err != nil {
			return 0, 0, 0, err
		}
		imp.blocks[path] = bix
	}

	sf, err := imp.st.GetSourceFile(ctx, id)
	if err != nil {
		return 0, 0, 0, err
	}

	startByte = sf.LastByte
	startLine = sf.LastLine
	if int64(bix.LastByte) < startByte {
		startByte = int64(bix.LastByte)
		startLine = int64(bix.TotalLines)
	}
	return id, startByte, startLine, nil
}

func (imp *Importer) parseAndCommit(ctx context.Context, mf *mmapfile.File, sfID int64, conversationID string, startByte, startLine int64) (added int, lastLineNo int64, err error) {
	lastLineNo = startLine
	tx, err := imp.st.BeginImmediate(ctx)
	if err != nil {
		return 0, startLine, err
	}

	lastPosition, err := imp.st.GetOrCreateConversation(ctx, tx, conversationID, imp.clock())
	if err != nil {
		tx.Rollback()
		return 0, startLine, err
	}

	sinceCommit := 0
	commit := func() error {
		if err := tx.Commit(); err != nil {
			return err
		}
		sinceCommit = 0
		tx, err = imp.st.BeginImmediate(ctx)
		return err
	}

	now := imp.clock()
	for line := range mf.FindLines(startByte, mf.Size()) {
		lastLineNo++
		lineNo := lastLineNo

		if len(line.Content) > MaxLineBytes {
			continue
		}
		ext, ok := extract.FromJSON(line.Content)
		if !ok {
			continue
		}

		lastPosition++
		var ts sql.NullFloat64
		if ext.HasTime {
			ts = sql.NullFloat64{Float64: ext.Timestamp, Valid: true}
		}

		n, insertErr := imp.st.InsertMessage(ctx, tx, conversationID, sfID, lineNo,
			line.StartOffset, line.EndOffsetExclNL, lastPosition, ext.Role, ext.Content, ts)
		if insertErr != nil {
			tx.Rollback()
			return added, startLine, insertErr
		}
		if n == 0 {
			// Already imported: don't let the in-memory position counter
			// drift from what's actually in the conversation row.
			lastPosition--
			continue
		}

		if err := imp.st.AdvanceConversation(ctx, tx, conversationID, lastPosition, len(ext.Content), now); err != nil {
			tx.Rollback()
			return added, startLine, err
		}

		added++
		sinceCommit++
		if sinceCommit >= BatchSize {
			if err := commit(); err != nil {
				return added, startLine, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return added, startLine, err
	}
	return added, lastLineNo, nil
}
