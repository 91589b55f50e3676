package domain

import "encoding/json"

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// TransportDirection mirrors the producing/consuming flags of the wire
// protocol. A peer holds at most one transport per direction.
type TransportDirection string

const (
	DirectionProducing TransportDirection = "producing"
	DirectionConsuming TransportDirection = "consuming"
)

// TransportState transitions created -> connected -> closed only. Connect is
// irreversible per handle; closed is terminal.
type TransportState string

const (
	TransportCreated   TransportState = "created"
	TransportConnected TransportState = "connected"
	TransportClosed    TransportState = "closed"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// StreamRole is advisory metadata attached to a producer. The media engine
// round-trips it verbatim; only clients interpret it when routing streams to
// UI slots.
type StreamRole string

const (
	RoleCamera      StreamRole = "camera"
	RoleScreen      StreamRole = "screen"
	RoleScreenAudio StreamRole = "screen-audio"
)

// Transport is the coordination-layer record of one negotiated transport.
type Transport struct {
	ID        TransportID
	Owner     PeerID
	Direction TransportDirection
	State     TransportState
}

// Producer is the coordination-layer record of one outgoing media stream.
type Producer struct {
	ID        ProducerID
	Owner     PeerID
	Transport TransportID
	Kind      MediaKind
	Role      StreamRole
	AppData   json.RawMessage
}

type ConsumerState string

const (
	ConsumerPaused ConsumerState = "paused"
	ConsumerActive ConsumerState = "active"
	ConsumerClosed ConsumerState = "closed"
)

// Consumer is the coordination-layer record of one subscription. Consumers
// start paused and never outlive their source producer or their owner's
// session.
type Consumer struct {
	ID        ConsumerID
	Owner     PeerID
	Transport TransportID
	Source    ProducerID
	Kind      MediaKind
	State     ConsumerState
}

// RoleFromAppData extracts the stream role tag from a producer's appData
// blob. Producers without an explicit role default to camera.
func RoleFromAppData(appData json.RawMessage) StreamRole {
	if len(appData) == 0 {
		return RoleCamera
	}
	var tagged struct {
		Role StreamRole `json:"role"`
	}
	if err := json.Unmarshal(appData, &tagged); err != nil {
		return RoleCamera
	}
	switch tagged.Role {
	case RoleScreen, RoleScreenAudio, RoleCamera:
		return tagged.Role
	default:
		return RoleCamera
	}
}

// JoinInfo is returned to a successfully joined peer.
type JoinInfo struct {
	PeerID          PeerID
	Color           string
	RTPCapabilities json.RawMessage
}

// TransportInfo carries the negotiation parameters for a freshly created
// transport back to its owner.
type TransportInfo struct {
	ID             TransportID
	ICEParameters  json.RawMessage
	ICECandidates  json.RawMessage
	DTLSParameters json.RawMessage
}

// ConsumerInfo is the descriptor returned from a successful consume request.
// Role carries the source producer's tag so the subscriber can route the
// stream to the right UI slot.
type ConsumerInfo struct {
	ConsumerID    ConsumerID
	ProducerID    ProducerID
	ProducerPeer  PeerID
	Kind          MediaKind
	Role          StreamRole
	RTPParameters json.RawMessage
}

// ProducerInfo is one entry of the live-producer snapshot handed to late
// joiners.
type ProducerInfo struct {
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       MediaKind  `json:"kind"`
	Role       StreamRole `json:"roleTag"`
}
