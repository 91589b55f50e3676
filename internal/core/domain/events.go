package domain

import "encoding/json"

// Wire message types. Responses correlate to requests by type alone (no
// request id), so clients keep at most one in-flight request per type.
const (
	// Client -> server requests.
	MsgJoin             = "join"
	MsgCreateTransport  = "createWebRtcTransport"
	MsgConnectTransport = "connectWebRtcTransport"
	MsgProduce          = "produce"
	MsgConsume          = "consume"
	MsgResumeConsumer   = "resumeConsumer"
	MsgCloseProducer    = "closeProducer"
	MsgGetProducers     = "getProducers"
	MsgDataChannel      = "dataChannelMessage"

	// Server -> client responses and events.
	MsgJoined             = "joined"
	MsgTransportCreated   = "webRtcTransportCreated"
	MsgTransportConnected = "webRtcTransportConnected"
	MsgProduced           = "produced"
	MsgConsumed           = "consumed"
	MsgConsumerResumed    = "consumerResumed"
	MsgCannotConsume      = "cannotConsume"
	MsgNewPeer            = "newPeer"
	MsgNewProducer        = "newProducer"
	MsgProducerClosed     = "producerClosed"
	MsgPeerLeft           = "peerLeft"
	MsgProducers          = "producers"
	MsgError              = "error"
)

// Events fanned out by the coordination core. The signaling layer serializes
// them as-is.

type NewPeerEvent struct {
	Type   string `json:"type"`
	PeerID PeerID `json:"peerId"`
	Color  string `json:"color"`
}

type PeerLeftEvent struct {
	Type   string `json:"type"`
	PeerID PeerID `json:"peerId"`
}

type NewProducerEvent struct {
	Type       string     `json:"type"`
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       MediaKind  `json:"kind"`
	Role       StreamRole `json:"roleTag"`
}

// ProducerClosedEvent has two shapes on the wire, both live in the legacy
// protocol: the room-wide broadcast identifies the producer by peer/producer
// pair, while the per-consumer notification delivered through the engine
// carries only the consumer id. Clients must handle either; the shapes are
// deliberately not unified.
type ProducerClosedEvent struct {
	Type       string     `json:"type"`
	PeerID     PeerID     `json:"peerId,omitempty"`
	ProducerID ProducerID `json:"producerId,omitempty"`
	ConsumerID ConsumerID `json:"consumerId,omitempty"`
}

type DataChannelEvent struct {
	Type    string          `json:"type"`
	From    PeerID          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}
