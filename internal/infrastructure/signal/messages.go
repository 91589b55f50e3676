package signal

import (
	"encoding/json"

	"huddlenet/internal/core/domain"
)

// envelope is the minimal decode of any inbound frame; the payload is
// re-parsed per type. Responses correlate to requests by type alone.
type envelope struct {
	Type string `json:"type"`
}

// Client -> server request payloads.

type joinRequest struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type createTransportRequest struct {
	Type      string `json:"type"`
	Producing bool   `json:"producing"`
	Consuming bool   `json:"consuming"`
}

type connectTransportRequest struct {
	Type           string          `json:"type"`
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type produceRequest struct {
	Type          string          `json:"type"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       json.RawMessage `json:"appData,omitempty"`
}

type consumeRequest struct {
	Type            string          `json:"type"`
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type resumeConsumerRequest struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumerId"`
}

type closeProducerRequest struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
}

type dataChannelRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Server -> client responses.

type joinedResponse struct {
	Type                  string          `json:"type"`
	Room                  domain.RoomID   `json:"room"`
	PeerID                domain.PeerID   `json:"peerId"`
	Color                 string          `json:"color"`
	RouterRTPCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

// transportOptions is the negotiation envelope clients feed straight into
// their device's transport constructor.
type transportOptions struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type transportCreatedResponse struct {
	Type             string           `json:"type"`
	Producing        bool             `json:"producing"`
	Consuming        bool             `json:"consuming"`
	TransportOptions transportOptions `json:"transportOptions"`
}

type transportConnectedResponse struct {
	Type        string             `json:"type"`
	TransportID domain.TransportID `json:"transportId"`
}

// producedResponse duplicates the producer id under both names: legacy
// clients destructure `id`, newer ones read `producerId`.
type producedResponse struct {
	Type       string            `json:"type"`
	ID         domain.ProducerID `json:"id"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type consumedResponse struct {
	Type          string            `json:"type"`
	ConsumerID    domain.ConsumerID `json:"consumerId"`
	ProducerID    domain.ProducerID `json:"producerId"`
	PeerID        domain.PeerID     `json:"peerId"`
	Kind          domain.MediaKind  `json:"kind"`
	Role          domain.StreamRole `json:"roleTag"`
	RTPParameters json.RawMessage   `json:"rtpParameters"`
}

type cannotConsumeResponse struct {
	Type       string            `json:"type"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type consumerResumedResponse struct {
	Type       string            `json:"type"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type producersResponse struct {
	Type      string                `json:"type"`
	Producers []domain.ProducerInfo `json:"producers"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
