// Package tail implements the live tail overlay: parsing the byte range of
// a log file beyond the store's last committed offset, synchronously, at
// query time, and merging the result with already-stored messages.
package tail

import (
	"database/sql"

	"github.com/zerosumquant/claude-extractor-core/pkg/extract"
	"github.com/zerosumquant/claude-extractor-core/pkg/mmapfile"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

// Message is an in-memory message produced by the overlay; it is never
// inserted into the store.
type Message struct {
	Position  int64
	Role      string
	Content   string
	Timestamp sql.NullFloat64
}

// FromMappedFile iterates complete lines in [lastByte, mf.Size()), keeping
// only those whose derived conversation id equals conversationID, and
// returns them oldest-first with positions continuing on from
// lastPosition. The caller is responsible for reversing/merging with store
// results to produce an overall newest-first response.
func FromMappedFile(mf *mmapfile.File, lastByte int64, conversationID string, lastPosition int64) []Message {
	if mf.Size() <= lastByte {
		return nil
	}

	var out []Message
	pos := lastPosition
	for line := range mf.FindLines(lastByte, mf.Size()) {
		ext, ok := extract.FromJSON(line.Content)
		if !ok {
			continue
		}
		if extract.DeriveConversationID(mf.Path()) != conversationID {
			continue
		}
		pos++
		ts := sql.NullFloat64{}
		if ext.HasTime {
			ts = sql.NullFloat64{Float64: ext.Timestamp, Valid: true}
		}
		out = append(out, Message{
			Position:  pos,
			Role:      ext.Role,
			Content:   ext.Content,
			Timestamp: ts,
		})
	}
	return out
}

// Merge returns tail-derived messages followed by store messages. The tail
// arrives oldest-first (as FromMappedFile returns it) and the store page
// newest-first; since every tail message is newer than anything the store
// holds for this conversation, concatenation with the tail reversed to
// newest-first preserves overall newest-first order.
func Merge(tailOldestFirst []Message, storePage []store.Message) []Message {
	merged := make([]Message, 0, len(tailOldestFirst)+len(storePage))
	for i := len(tailOldestFirst) - 1; i >= 0; i-- {
		merged = append(merged, tailOldestFirst[i])
	}
	for _, m := range storePage {
		merged = append(merged, Message{
			Position:  m.Position,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return merged
}
