// Package extract turns a raw JSONL log line into the role, content, and
// timestamp of a message, and derives the conversation id a line belongs to.
package extract

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Extracted is the result of successfully pulling a message out of one log
// line. Content is always plain text, never raw JSON.
type Extracted struct {
	Role      string
	Content   string
	Timestamp float64 // seconds; zero if absent
	HasTime   bool
}

// contentBlock models one element of a typed content array, e.g.
// {"type":"text","text":"..."} or {"type":"tool_use","name":"..."}.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// rawLine is the permissive shape of one JSONL record. content may be a bare
// string or an array of blocks, so it is decoded as json.RawMessage and
// resolved by decodeContent.
type rawLine struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt json.RawMessage `json:"created_at"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// FromJSON parses one JSONL record and extracts role/content/timestamp.
// It returns ok=false if the line is not a JSON object or no usable content
// can be found. Role and content are each resolved independently, tried in
// order: {type, message.{role,content}}, then {message.{role,content}},
// then {role, content} at the top level, so a record carrying only
// "type" and a top-level "content" (no nested "message") still yields a
// role, with "type" standing in for it.
func FromJSON(line []byte) (Extracted, bool) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return Extracted{}, false
	}

	var role string
	var rawContent json.RawMessage

	if raw.Message != nil {
		role = raw.Message.Role
		rawContent = raw.Message.Content
	}
	if role == "" {
		role = firstNonEmpty(raw.Role, raw.Type)
	}
	if len(rawContent) == 0 {
		rawContent = raw.Content
	}

	content, ok := decodeContent(rawContent)
	if !ok || role == "" {
		return Extracted{}, false
	}

	ts, hasTime := decodeTimestamp(raw.CreatedAt)

	return Extracted{
		Role:      NormalizeRole(role),
		Content:   content,
		Timestamp: ts,
		HasTime:   hasTime,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// decodeContent resolves a content field that is either a bare string or an
// array of typed blocks. Only type=="text" blocks contribute text
// (concatenated with "\n"); type=="tool_use" blocks contribute a
// "[Tool: <name>]" marker.
func decodeContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "tool_use":
			parts = append(parts, "[Tool: "+b.Name+"]")
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// decodeTimestamp accepts an integer or float seconds value for created_at.
func decodeTimestamp(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// NormalizeRole maps any role not in {user, assistant, system} to "system".
func NormalizeRole(role string) string {
	switch role {
	case "user", "assistant", "system":
		return role
	default:
		return "system"
	}
}

// DeriveConversationID returns the conversation id for a source file: the
// basename with the .jsonl extension stripped. This conflates "file" and
// "conversation" deliberately, isolated behind this single function so it
// can be replaced if that assumption ever changes.
func DeriveConversationID(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
