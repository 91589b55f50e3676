package ports

import (
	"context"
	"encoding/json"
)

// MediaEngine is the boundary to the SFU media layer. The coordinator never
// inspects negotiation parameters: ICE/DTLS/RTP blobs cross this boundary as
// raw JSON and are round-tripped verbatim to clients.
type MediaEngine interface {
	// CreateRouter allocates the shared media router backing one room.
	CreateRouter(ctx context.Context) (Router, error)
}

// Router is the per-room media hub.
type Router interface {
	// RTPCapabilities describes the codec/negotiation parameters a joining
	// client needs to load its device.
	RTPCapabilities() json.RawMessage

	// CreateTransport allocates one directional transport and gathers its
	// negotiation parameters.
	CreateTransport(ctx context.Context) (Transport, error)

	// CanConsume reports whether a subscriber with the given receive
	// capabilities can consume the producer. Must be checked before Consume.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	// Close releases the router and everything built on it.
	Close() error
}

// Transport is one negotiated ICE/DTLS context for a single peer and
// direction.
type Transport interface {
	ID() string
	ICEParameters() json.RawMessage
	ICECandidates() json.RawMessage
	DTLSParameters() json.RawMessage

	// Connect completes the DTLS handshake with the remote parameters.
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error

	// Produce registers an incoming media stream on this transport. The
	// appData tag is opaque to the engine and round-tripped verbatim.
	Produce(ctx context.Context, kind string, rtpParameters, appData json.RawMessage) (Producer, error)

	// Consume subscribes this transport to a producer. Consumers are created
	// paused; media flows only after Resume.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)

	Close() error
}

// Producer is an engine-side outgoing stream handle.
type Producer interface {
	ID() string
	Kind() string
	AppData() json.RawMessage
	Close() error
}

// Consumer is an engine-side subscription handle.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RTPParameters() json.RawMessage

	// Resume starts media flow. Consumers are created paused so the
	// subscriber's receive side is ready before frames arrive.
	Resume(ctx context.Context) error

	// OnProducerClose registers a callback fired when the source producer
	// closes. The engine delivers this per consumer; the coordinator turns
	// it into the consumer-id flavored producerClosed notification.
	OnProducerClose(fn func())

	Close() error
}
