package ports

import (
	"context"
	"encoding/json"

	"huddlenet/internal/core/domain"
)

// Notifier delivers server-to-client messages for one connection. Sends are
// fire-and-forget from the coordinator's point of view: a failed delivery is
// the connection's problem, never the room's.
type Notifier interface {
	Send(message interface{}) error
}

// RoomService is the coordination core consumed by the signaling layer.
type RoomService interface {
	// Join admits a connection into a room, creating the room (and its media
	// router) on first use, and announces the new peer to current members.
	Join(ctx context.Context, notifier Notifier, roomID domain.RoomID) (*domain.JoinInfo, error)

	// Leave removes the peer and cascades cleanup over everything it owned.
	// Idempotent: repeat calls for the same peer are no-ops.
	Leave(ctx context.Context, peerID domain.PeerID) error

	// CreateTransport allocates one directional transport for the peer.
	CreateTransport(ctx context.Context, peerID domain.PeerID, direction domain.TransportDirection) (*domain.TransportInfo, error)

	// ConnectTransport completes the transport handshake. Unknown transport
	// ids indicate protocol desync and surface as explicit errors.
	ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, dtlsParameters json.RawMessage) error

	// Produce registers an outgoing stream and announces it to the room.
	Produce(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, rtpParameters, appData json.RawMessage) (domain.ProducerID, error)

	// Consume subscribes the peer to a producer in its room. Fails with
	// CANNOT_CONSUME when the engine reports incompatible capabilities.
	Consume(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*domain.ConsumerInfo, error)

	// ResumeConsumer starts media flow on a paused consumer.
	ResumeConsumer(ctx context.Context, peerID domain.PeerID, consumerID domain.ConsumerID) error

	// CloseProducer closes an owned producer and notifies the room.
	CloseProducer(ctx context.Context, peerID domain.PeerID, producerID domain.ProducerID) error

	// GetProducers snapshots the live producers in the peer's room,
	// excluding the peer's own.
	GetProducers(ctx context.Context, peerID domain.PeerID) ([]domain.ProducerInfo, error)

	// Relay fans an opaque application payload out to every other member of
	// the sender's room.
	Relay(ctx context.Context, peerID domain.PeerID, payload json.RawMessage) error

	// RoomStats snapshots all rooms for the observational HTTP surface.
	RoomStats(ctx context.Context) []domain.RoomStats
}
