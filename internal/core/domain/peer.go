package domain

import "time"

type PeerID string

// PeerSession is the bookkeeping for one connected peer. It holds only index
// sets over the room's id-keyed stores, so cascade close is a sweep over
// those stores rather than a traversal of a nested object graph.
type PeerSession struct {
	ID       PeerID
	RoomID   RoomID
	Color    string
	JoinedAt time.Time

	Transports map[TransportID]struct{}
	Producers  map[ProducerID]struct{}
	Consumers  map[ConsumerID]struct{}
}

// NewPeerSession creates a session with empty ownership sets.
func NewPeerSession(id PeerID, roomID RoomID, color string) *PeerSession {
	return &PeerSession{
		ID:         id,
		RoomID:     roomID,
		Color:      color,
		JoinedAt:   time.Now(),
		Transports: make(map[TransportID]struct{}),
		Producers:  make(map[ProducerID]struct{}),
		Consumers:  make(map[ConsumerID]struct{}),
	}
}
