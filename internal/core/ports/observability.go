package ports

import (
	"context"

	"huddlenet/internal/core/domain"
)

// MetricsSink receives coordination-level counters. Implementations must be
// safe for concurrent use; a nil-safe wrapper lives in the services package.
type MetricsSink interface {
	RoomOpened()
	RoomClosed()
	PeerJoined(roomID domain.RoomID)
	PeerLeft(roomID domain.RoomID)
	TransportCreated(direction domain.TransportDirection)
	TransportClosed()
	ProducerCreated(kind domain.MediaKind, role domain.StreamRole)
	ProducerClosed()
	ConsumerCreated()
	ConsumerClosed()
	RelayMessage(msgType string, bytes int)
	EngineCall(operation string, seconds float64)
}

// EventPublisher mirrors room membership changes onto an external bus for
// observers outside the signaling path. Publishing is best-effort and never
// blocks protocol progress.
type EventPublisher interface {
	PublishRoomCreated(ctx context.Context, roomID domain.RoomID)
	PublishRoomClosed(ctx context.Context, roomID domain.RoomID)
	PublishPeerJoined(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID)
	PublishPeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID)
}
