package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// maxRequestLine bounds a single incoming request line; requests are small
// control messages, not log content, so this is generous but not unbounded.
const maxRequestLine = 1 << 20

// Handler dispatches one decoded request to the method it names, emitting
// events through emit as it progresses and returning the terminal result
// data or an error. cancelled reports whether cancellation was requested
// for this request at the last point the handler checked it.
type Handler func(ctx context.Context, req Request, emit func(stage string, progress float64), cancelled func() bool) (data any, errCode, errMessage string)

// Server reads one JSON request per line from r, dispatches it to handle,
// and writes framed events/result/error responses to w. Exactly one
// request is processed at a time, matching the single-threaded cooperative
// scheduling model: handle never runs two requests concurrently, and the
// loop never starts acting on the next non-cancel request until the
// current one has produced its terminal response. Stdin itself, however,
// is read on its own goroutine so that a "cancel" line arriving while a
// request is still in flight can be observed immediately instead of
// waiting behind it.
type Server struct {
	r           *bufio.Scanner
	w           io.Writer
	writeMu     sync.Mutex
	handle      Handler
	coreVersion string
	cancelFlag  atomic.Bool
	external    chan Request
}

// NewServer builds a Server reading from r and writing framed responses to w.
func NewServer(r io.Reader, w io.Writer, coreVersion string, handle Handler) *Server {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
	return &Server{r: scanner, w: w, handle: handle, coreVersion: coreVersion, external: make(chan Request, 1)}
}

// Enqueue injects a synthetic request (e.g. a scheduler-triggered
// build_index) into the same serialized stream Run already uses for
// requests read from stdin, so it never runs concurrently with one of
// those. At most one enqueued request can be pending at a time; a second
// Enqueue call before the first has been picked up is dropped, since a
// scheduled rescan that's already queued makes a newer one redundant.
func (s *Server) Enqueue(req Request) {
	select {
	case s.external <- req:
	default:
	}
}

// Run emits hello, then services requests until the input is exhausted or
// ctx is cancelled. It returns nil on clean EOF.
func (s *Server) Run(ctx context.Context) error {
	if err := s.writeLine(NewHello(s.coreVersion)); err != nil {
		return err
	}

	requests := make(chan Request)
	scanDone := make(chan error, 1)
	go s.readLoop(requests, scanDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return <-scanDone
			}
			s.cancelFlag.Store(false)
			s.serveOne(ctx, IDString(req.ID), req)
		case req := <-s.external:
			s.cancelFlag.Store(false)
			s.serveOne(ctx, IDString(req.ID), req)
		}
	}
}

// readLoop scans stdin on its own goroutine, independent of whatever
// request serveOne is currently blocked handling on the main goroutine.
// It answers "cancel" and malformed-envelope lines directly, and forwards
// everything else down requests. Running this apart from serveOne is what
// lets a "cancel" line set cancelFlag while an earlier build_index/search
// is still in flight, instead of queuing behind it unread.
func (s *Server) readLoop(requests chan<- Request, done chan<- error) {
	defer close(requests)
	for s.r.Scan() {
		line := s.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = s.writeLine(NewError("", CodeBadRequest, "malformed request envelope"))
			continue
		}

		id := IDString(req.ID)
		if id == "" || req.Method == "" {
			_ = s.writeLine(NewError(id, CodeBadRequest, "request must carry id and method"))
			continue
		}

		if req.Method == "cancel" {
			s.cancelFlag.Store(true)
			_ = s.writeLine(NewResult(id, "cancelled"))
			continue
		}

		requests <- req
	}
	done <- s.r.Err()
}

func (s *Server) serveOne(ctx context.Context, id string, req Request) {
	emit := func(stage string, progress float64) {
		_ = s.writeLine(NewEvent(id, stage, progress))
	}
	cancelled := func() bool { return s.cancelFlag.Load() }

	data, code, message := s.handle(ctx, req, emit, cancelled)
	if code != "" {
		_ = s.writeLine(NewError(id, code, message))
		return
	}
	_ = s.writeLine(NewResult(id, data))
}

// writeLine is called from both the main loop (events/results/errors for
// the request being served) and readLoop (immediate acks/errors for lines
// it answers itself), so writes to w are serialized under writeMu.
func (s *Server) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal response: %w", err)
	}
	line = append(line, '\n')
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.w.Write(line)
	return err
}
