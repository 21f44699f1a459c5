// Package protocol defines the line-delimited JSON wire types exchanged
// between the core and an external front end over stdin/stdout: one JSON
// object per line, a request keyed by id, and event/result/error responses
// carrying that same id.
package protocol

import "strconv"

const (
	// ProtocolVersion is advertised in the hello message.
	ProtocolVersion = 1

	TypeHello  = "hello"
	TypeEvent  = "event"
	TypeResult = "result"
	TypeError  = "error"
)

// Error codes, per the taxonomy this core reports.
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeInvalidParams  = "INVALID_PARAMS"
	CodeUnknownMethod  = "UNKNOWN_METHOD"
	CodeIndexRequired  = "INDEX_REQUIRED"
	CodeSessionMissing = "SESSION_NOT_FOUND"
	CodeCancelled      = "CANCELLED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Capabilities is the fixed method set advertised in hello.
var Capabilities = []string{"build_index", "list_sessions", "list", "search", "extract", "cancel"}

// Hello is emitted once, immediately on startup, before any request is read.
type Hello struct {
	Type         string   `json:"type"`
	CoreVersion  string   `json:"core_version"`
	Protocol     int      `json:"protocol"`
	Capabilities []string `json:"capabilities"`
}

// NewHello builds the startup announcement for coreVersion.
func NewHello(coreVersion string) Hello {
	return Hello{
		Type:         TypeHello,
		CoreVersion:  coreVersion,
		Protocol:     ProtocolVersion,
		Capabilities: Capabilities,
	}
}

// Request is the shape of one incoming line. Params is decoded generically
// (as any) and each method handler re-decodes its own expected shape;
// unknown fields within params are ignored by virtue of never being
// referenced.
type Request struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Event reports progress for a request still in flight. Events for a given
// id are emitted in increasing Progress order and always precede its
// terminal Result or Error.
type Event struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

// NewEvent builds a progress event for id.
func NewEvent(id, stage string, progress float64) Event {
	return Event{ID: id, Type: TypeEvent, Stage: stage, Progress: progress}
}

// Result is the terminal success response for a request.
type Result struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewResult builds a terminal result for id.
func NewResult(id string, data any) Result {
	return Result{ID: id, Type: TypeResult, Data: data}
}

// ErrorDetail carries the taxonomy code and a short diagnostic message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the terminal failure response for a request.
type ErrorResponse struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// NewError builds a terminal error response for id.
func NewError(id, code, message string) ErrorResponse {
	return ErrorResponse{ID: id, Type: TypeError, Error: ErrorDetail{Code: code, Message: message}}
}

// IDString coerces a decoded id (string or JSON number) to its decimal
// string form for correlation, per the framing contract.
func IDString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
