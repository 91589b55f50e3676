package domain

import (
	"encoding/json"
	"fmt"
)

// Relay payloads are a closed tagged union keyed by msgType. The server
// forwards payloads verbatim but validates the tag at the door so an unknown
// type is rejected loudly instead of silently fanning out garbage.
const (
	RelayChat                = "chat"
	RelayFileMeta            = "file-meta"
	RelayFileChunk           = "file-chunk"
	RelayFileDone            = "file-done"
	RelayAnnotationDraw      = "annotation-draw"
	RelayAnnotationStrokeEnd = "annotation-stroke-end"
	RelayAnnotationClear     = "annotation-clear"
)

type ChatPayload struct {
	MsgType string `json:"msgType"`
	Text    string `json:"text"`
}

type FileMetaPayload struct {
	MsgType string `json:"msgType"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Mime    string `json:"mime"`
}

// FileChunkPayload carries one base64-encoded byte range of a transfer.
// Seq is optional: receivers historically concatenate chunks in receipt
// order, which corrupts the file if the transport reorders. Senders that
// populate Seq let receivers reassemble by sequence instead.
type FileChunkPayload struct {
	MsgType string `json:"msgType"`
	ID      string `json:"id"`
	Seq     int    `json:"seq,omitempty"`
	Data    string `json:"data"`
}

type FileDonePayload struct {
	MsgType string `json:"msgType"`
	ID      string `json:"id"`
}

// AnnotationDrawPayload describes one stroke segment. Coordinates are
// normalized to [0,1] of the shared surface so they are resolution
// independent across peers.
type AnnotationDrawPayload struct {
	MsgType     string  `json:"msgType"`
	FromX       float64 `json:"fromX"`
	FromY       float64 `json:"fromY"`
	ToX         float64 `json:"toX"`
	ToY         float64 `json:"toY"`
	Color       string  `json:"color"`
	Size        float64 `json:"size"`
	CompositeOp string  `json:"compositeOp,omitempty"`
}

type AnnotationStrokeEndPayload struct {
	MsgType string `json:"msgType"`
}

type AnnotationClearPayload struct {
	MsgType string `json:"msgType"`
}

// ValidateRelayPayload checks that a relay payload is well-formed JSON whose
// msgType belongs to the closed union, and returns the tag.
func ValidateRelayPayload(payload json.RawMessage) (string, error) {
	var envelope struct {
		MsgType string `json:"msgType"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("malformed relay payload: %w", err)
	}
	switch envelope.MsgType {
	case RelayChat, RelayFileMeta, RelayFileChunk, RelayFileDone,
		RelayAnnotationDraw, RelayAnnotationStrokeEnd, RelayAnnotationClear:
		return envelope.MsgType, nil
	case "":
		return "", fmt.Errorf("relay payload missing msgType")
	default:
		return "", fmt.Errorf("unknown relay msgType %q", envelope.MsgType)
	}
}

// PeerColors is the fixed palette annotation strokes are attributed with.
// Peers get a color by join order, cycling when a room outgrows the palette;
// the assignment is stable for the lifetime of the session.
var PeerColors = []string{
	"#ef4444",
	"#f97316",
	"#eab308",
	"#22c55e",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
	"#6b7280",
	"#000000",
	"#ffffff",
}

// ColorAt returns the palette color for the nth peer to join a room.
func ColorAt(n int) string {
	if n < 0 {
		n = 0
	}
	return PeerColors[n%len(PeerColors)]
}
