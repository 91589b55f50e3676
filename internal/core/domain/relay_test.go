package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRelayPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		msgType string
		wantErr bool
	}{
		{"chat", `{"msgType":"chat","text":"hi"}`, RelayChat, false},
		{"file meta", `{"msgType":"file-meta","id":"t1","name":"a.txt","mime":"text/plain"}`, RelayFileMeta, false},
		{"annotation draw", `{"msgType":"annotation-draw","fromX":0.1,"fromY":0.2,"toX":0.3,"toY":0.4,"color":"#ef4444","size":4}`, RelayAnnotationDraw, false},
		{"stroke end", `{"msgType":"annotation-stroke-end"}`, RelayAnnotationStrokeEnd, false},
		{"clear", `{"msgType":"annotation-clear"}`, RelayAnnotationClear, false},
		{"unknown tag", `{"msgType":"telemetry"}`, "", true},
		{"missing tag", `{"text":"hi"}`, "", true},
		{"not json", `{{{`, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateRelayPayload(json.RawMessage(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.msgType, got)
		})
	}
}

// reassemble mimics the client-side convention: decode each chunk
// individually and concatenate in receipt order.
func reassemble(chunks []FileChunkPayload) ([]byte, error) {
	var out bytes.Buffer
	for _, c := range chunks {
		raw, err := base64.StdEncoding.DecodeString(c.Data)
		if err != nil {
			return nil, err
		}
		out.Write(raw)
	}
	return out.Bytes(), nil
}

func chunkFile(id string, data []byte, chunkSize int) []FileChunkPayload {
	var chunks []FileChunkPayload
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, FileChunkPayload{
			MsgType: RelayFileChunk,
			ID:      id,
			Seq:     len(chunks),
			Data:    base64.StdEncoding.EncodeToString(data[off:end]),
		})
	}
	return chunks
}

func TestFileRelayRoundTripInOrder(t *testing.T) {
	original := make([]byte, 100*1024+17)
	for i := range original {
		original[i] = byte(i * 31)
	}

	chunks := chunkFile("xfer-1", original, 16*1024)
	require.Greater(t, len(chunks), 1)

	got, err := reassemble(chunks)
	require.NoError(t, err)
	assert.Equal(t, original, got, "in-order delivery must reassemble exactly")
}

// The chunk protocol has no mandatory sequence numbers: receipt-order
// concatenation silently corrupts the payload if the transport reorders.
// This test pins down that fragility rather than papering over it; senders
// that populate Seq allow receivers to sort before concatenating.
func TestFileRelayReorderedChunksCorrupt(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog")
	chunks := chunkFile("xfer-2", original, 8)
	require.GreaterOrEqual(t, len(chunks), 3)

	reordered := make([]FileChunkPayload, len(chunks))
	copy(reordered, chunks)
	reordered[0], reordered[1] = reordered[1], reordered[0]

	got, err := reassemble(reordered)
	require.NoError(t, err)
	assert.NotEqual(t, original, got, "reordering corrupts receipt-order reassembly")

	// Seq-aware receivers can recover the original ordering.
	sorted := make([]FileChunkPayload, len(reordered))
	for _, c := range reordered {
		sorted[c.Seq] = c
	}
	got, err = reassemble(sorted)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestColorAssignmentCyclesDeterministically(t *testing.T) {
	assert.Equal(t, PeerColors[0], ColorAt(0))
	assert.Equal(t, PeerColors[3], ColorAt(3))
	assert.Equal(t, PeerColors[0], ColorAt(len(PeerColors)))
	assert.Equal(t, PeerColors[1], ColorAt(len(PeerColors)+1))
}

func TestRoleFromAppData(t *testing.T) {
	assert.Equal(t, RoleCamera, RoleFromAppData(nil))
	assert.Equal(t, RoleScreen, RoleFromAppData(json.RawMessage(`{"role":"screen"}`)))
	assert.Equal(t, RoleScreenAudio, RoleFromAppData(json.RawMessage(`{"role":"screen-audio"}`)))
	assert.Equal(t, RoleCamera, RoleFromAppData(json.RawMessage(`{"role":"hologram"}`)))
	assert.Equal(t, RoleCamera, RoleFromAppData(json.RawMessage(`not json`)))
}

func ExampleValidateRelayPayload() {
	tag, _ := ValidateRelayPayload(json.RawMessage(`{"msgType":"chat","text":"hello"}`))
	fmt.Println(tag)
	// Output: chat
}
