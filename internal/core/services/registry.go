package services

import (
	"sync"
	"time"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/core/ports"
)

// member couples a peer's bookkeeping with its outbound channel.
type member struct {
	session  *domain.PeerSession
	notifier ports.Notifier
}

// The arena entries pair the coordination-layer record with the engine
// handle it shadows. All handles are owned exclusively by the room's arena;
// engine close calls happen outside the room lock.

type transportEntry struct {
	rec    domain.Transport
	handle ports.Transport
}

type producerEntry struct {
	rec    domain.Producer
	handle ports.Producer
}

type consumerEntry struct {
	rec    domain.Consumer
	handle ports.Consumer
}

// room is the runtime state behind one room id. A single mutex serializes
// every mutation for members of the room; distinct rooms proceed in
// parallel. The ready channel settles once router allocation (a long-latency
// engine call performed outside any lock) has succeeded or failed.
type room struct {
	id      domain.RoomID
	created time.Time
	ready   chan struct{}

	mu         sync.Mutex
	router     ports.Router
	routerErr  error
	closed     bool
	joinSeq    int
	members    map[domain.PeerID]*member
	transports map[domain.TransportID]*transportEntry
	producers  map[domain.ProducerID]*producerEntry
	consumers  map[domain.ConsumerID]*consumerEntry
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:         id,
		created:    time.Now(),
		ready:      make(chan struct{}),
		members:    make(map[domain.PeerID]*member),
		transports: make(map[domain.TransportID]*transportEntry),
		producers:  make(map[domain.ProducerID]*producerEntry),
		consumers:  make(map[domain.ConsumerID]*consumerEntry),
	}
}

// notifiersExcept snapshots the outbound channels of every member but one.
// Callers hold r.mu; sends happen after release.
func (r *room) notifiersExcept(exclude domain.PeerID) []ports.Notifier {
	out := make([]ports.Notifier, 0, len(r.members))
	for id, m := range r.members {
		if id != exclude {
			out = append(out, m.notifier)
		}
	}
	return out
}

// Registry maps room ids to live rooms. It is an injected service object:
// constructed at server start, no ambient globals, so the coordination core
// is unit-testable without a network listener.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// getOrCreate returns the room for id, creating a placeholder when absent.
// The second result reports whether this caller created it and therefore
// owes the router allocation.
func (reg *Registry) getOrCreate(id domain.RoomID) (*room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rm, ok := reg.rooms[id]; ok {
		return rm, false
	}
	rm := newRoom(id)
	reg.rooms[id] = rm
	return rm, true
}

// remove deletes the room when the registry still maps id to this exact
// instance. Lock order is always registry before room.
func (reg *Registry) remove(rm *room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if current, ok := reg.rooms[rm.id]; ok && current == rm {
		delete(reg.rooms, rm.id)
	}
}

// stats snapshots every live room. Rooms still waiting on router allocation
// are included with zero members.
func (reg *Registry) stats() []domain.RoomStats {
	reg.mu.RLock()
	rooms := make([]*room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.mu.RUnlock()

	out := make([]domain.RoomStats, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		out = append(out, domain.RoomStats{
			ID:        rm.id,
			Members:   len(rm.members),
			Producers: len(rm.producers),
			CreatedAt: rm.created,
		})
		rm.mu.Unlock()
	}
	return out
}

// size reports the number of live rooms, used by tests and metrics.
func (reg *Registry) size() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
