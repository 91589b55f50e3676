package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/core/ports"
	apperrors "huddlenet/pkg/errors"
	"huddlenet/pkg/tracing"
	"huddlenet/pkg/utils"

	"go.uber.org/zap"
)

// Coordinator implements ports.RoomService: room and peer lifecycle, the
// transport/producer/consumer handshakes against the media engine, and the
// relay fan-out. All engine calls happen outside room locks so a hung
// negotiation stalls only the requesting peer, never the room.
type Coordinator struct {
	registry *Registry
	engine   ports.MediaEngine
	metrics  ports.MetricsSink
	events   ports.EventPublisher
	maxPeers int
	logger   *zap.SugaredLogger

	indexMu   sync.RWMutex
	peerIndex map[domain.PeerID]*room
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithMetrics attaches a metrics sink.
func WithMetrics(sink ports.MetricsSink) Option {
	return func(c *Coordinator) { c.metrics = sink }
}

// WithEventPublisher attaches an external event publisher.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(c *Coordinator) { c.events = pub }
}

// WithMaxPeers caps room membership. Zero means unlimited.
func WithMaxPeers(n int) Option {
	return func(c *Coordinator) { c.maxPeers = n }
}

func NewCoordinator(registry *Registry, engine ports.MediaEngine, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  registry,
		engine:    engine,
		metrics:   noopMetrics{},
		events:    noopEvents{},
		logger:    logger.Sugar(),
		peerIndex: make(map[domain.PeerID]*room),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join admits a connection into roomID. The first joiner of a room allocates
// the media router; concurrent joiners wait on the allocation instead of
// racing their own.
func (c *Coordinator) Join(ctx context.Context, notifier ports.Notifier, roomID domain.RoomID) (*domain.JoinInfo, error) {
	if roomID == "" {
		return nil, apperrors.New(apperrors.ErrCodeEmptyRoomID, "join with empty room id")
	}

	for {
		rm, created := c.registry.getOrCreate(roomID)

		if created {
			if err := c.allocateRouter(ctx, rm); err != nil {
				return nil, err
			}
			c.metrics.RoomOpened()
			c.events.PublishRoomCreated(ctx, roomID)
			c.logger.Infow("room created", "room_id", roomID)
		} else {
			select {
			case <-rm.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		rm.mu.Lock()
		if rm.routerErr != nil {
			err := rm.routerErr
			rm.mu.Unlock()
			return nil, err
		}
		if rm.closed {
			// Lost a race with the last leaver tearing the room down; the
			// registry no longer maps this instance, so start over.
			rm.mu.Unlock()
			continue
		}
		if c.maxPeers > 0 && len(rm.members) >= c.maxPeers {
			rm.mu.Unlock()
			return nil, apperrors.Newf(apperrors.ErrCodeRoomFull, "room %s is full", roomID)
		}

		peerID := domain.PeerID(utils.GeneratePeerID())
		color := domain.ColorAt(rm.joinSeq)
		rm.joinSeq++
		rm.members[peerID] = &member{
			session:  domain.NewPeerSession(peerID, roomID, color),
			notifier: notifier,
		}
		others := rm.notifiersExcept(peerID)
		caps := rm.router.RTPCapabilities()
		rm.mu.Unlock()

		c.indexMu.Lock()
		c.peerIndex[peerID] = rm
		c.indexMu.Unlock()

		c.broadcast(others, domain.NewPeerEvent{
			Type:   domain.MsgNewPeer,
			PeerID: peerID,
			Color:  color,
		})

		c.metrics.PeerJoined(roomID)
		c.events.PublishPeerJoined(ctx, roomID, peerID)
		c.logger.Infow("peer joined", "room_id", roomID, "peer_id", peerID, "members", len(others)+1)

		return &domain.JoinInfo{PeerID: peerID, Color: color, RTPCapabilities: caps}, nil
	}
}

// allocateRouter performs the engine call for a freshly created room and
// settles the room's ready channel either way.
func (c *Coordinator) allocateRouter(ctx context.Context, rm *room) error {
	ctx, span := tracing.TraceEngineCall(ctx, "createRouter", "", string(rm.id))
	defer span.End()
	start := time.Now()

	router, err := c.engine.CreateRouter(ctx)
	c.metrics.EngineCall("createRouter", time.Since(start).Seconds())

	rm.mu.Lock()
	if err != nil {
		rm.routerErr = apperrors.Wrap(err, apperrors.ErrCodeEngineFailure, "router allocation failed")
		rm.closed = true
	} else {
		rm.router = router
	}
	close(rm.ready)
	failed := rm.routerErr
	rm.mu.Unlock()

	if failed != nil {
		tracing.RecordError(ctx, err)
		c.registry.remove(rm)
		c.logger.Errorw("router allocation failed", "room_id", rm.id, "error", err)
		return failed
	}
	return nil
}

// Leave removes the peer from its room and cascades cleanup across every
// transport, producer and consumer it owned. Safe to call more than once;
// only the first call does work, so the peerLeft broadcast fires exactly
// once even when an error and a close event both trigger teardown.
func (c *Coordinator) Leave(ctx context.Context, peerID domain.PeerID) error {
	c.indexMu.Lock()
	rm, ok := c.peerIndex[peerID]
	if ok {
		delete(c.peerIndex, peerID)
	}
	c.indexMu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	m, ok := rm.members[peerID]
	if !ok {
		rm.mu.Unlock()
		return nil
	}
	delete(rm.members, peerID)

	// Sweep the arena for everything the session owned. Records go first,
	// under the lock, so concurrent requests observe a consistent world;
	// engine handles are closed after release.
	var (
		consumerHandles  []ports.Consumer
		producerHandles  []ports.Producer
		transportHandles []ports.Transport
	)
	for cid := range m.session.Consumers {
		if entry, ok := rm.consumers[cid]; ok {
			delete(rm.consumers, cid)
			consumerHandles = append(consumerHandles, entry.handle)
		}
	}
	for pid := range m.session.Producers {
		if entry, ok := rm.producers[pid]; ok {
			delete(rm.producers, pid)
			producerHandles = append(producerHandles, entry.handle)
		}
	}
	for tid := range m.session.Transports {
		if entry, ok := rm.transports[tid]; ok {
			delete(rm.transports, tid)
			transportHandles = append(transportHandles, entry.handle)
		}
	}

	remaining := rm.notifiersExcept(peerID)
	empty := len(rm.members) == 0
	var router ports.Router
	if empty {
		rm.closed = true
		router = rm.router
	}
	rm.mu.Unlock()

	if empty {
		c.registry.remove(rm)
	}

	// Cleanup failures are logged, never retried: the bookkeeping is gone
	// either way so protocol state cannot leak even if an engine resource
	// does.
	for _, h := range consumerHandles {
		if err := h.Close(); err != nil {
			c.logger.Warnw("consumer close failed during leave", "peer_id", peerID, "error", err)
		}
		c.metrics.ConsumerClosed()
	}
	for _, h := range producerHandles {
		if err := h.Close(); err != nil {
			c.logger.Warnw("producer close failed during leave", "peer_id", peerID, "error", err)
		}
		c.metrics.ProducerClosed()
	}
	for _, h := range transportHandles {
		if err := h.Close(); err != nil {
			c.logger.Warnw("transport close failed during leave", "peer_id", peerID, "error", err)
		}
		c.metrics.TransportClosed()
	}
	if router != nil {
		if err := router.Close(); err != nil {
			c.logger.Warnw("router close failed", "room_id", rm.id, "error", err)
		}
		c.metrics.RoomClosed()
		c.events.PublishRoomClosed(ctx, rm.id)
		c.logger.Infow("room destroyed", "room_id", rm.id)
	}

	c.broadcast(remaining, domain.PeerLeftEvent{Type: domain.MsgPeerLeft, PeerID: peerID})

	c.metrics.PeerLeft(rm.id)
	c.events.PublishPeerLeft(ctx, rm.id, peerID)
	c.logger.Infow("peer left", "room_id", rm.id, "peer_id", peerID)
	return nil
}

// Relay fans an opaque application payload out to every other member of the
// sender's room. The payload is validated against the closed msgType union
// and forwarded verbatim.
func (c *Coordinator) Relay(ctx context.Context, peerID domain.PeerID, payload json.RawMessage) error {
	msgType, err := domain.ValidateRelayPayload(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidPayload, "relay payload rejected")
	}

	rm := c.roomOf(peerID)
	if rm == nil {
		return apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	if _, ok := rm.members[peerID]; !ok {
		rm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}
	recipients := rm.notifiersExcept(peerID)
	rm.mu.Unlock()

	c.broadcast(recipients, domain.DataChannelEvent{
		Type:    domain.MsgDataChannel,
		From:    peerID,
		Payload: payload,
	})

	c.metrics.RelayMessage(msgType, len(payload))
	return nil
}

// RoomStats snapshots all live rooms.
func (c *Coordinator) RoomStats(ctx context.Context) []domain.RoomStats {
	return c.registry.stats()
}

// roomOf resolves the room a peer currently belongs to, or nil.
func (c *Coordinator) roomOf(peerID domain.PeerID) *room {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return c.peerIndex[peerID]
}

// broadcast delivers an event to a set of notifiers, fire and forget.
func (c *Coordinator) broadcast(recipients []ports.Notifier, event interface{}) {
	for _, n := range recipients {
		if err := n.Send(event); err != nil {
			c.logger.Debugw("broadcast delivery failed", "error", err)
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) RoomOpened()                                              {}
func (noopMetrics) RoomClosed()                                              {}
func (noopMetrics) PeerJoined(domain.RoomID)                                 {}
func (noopMetrics) PeerLeft(domain.RoomID)                                   {}
func (noopMetrics) TransportCreated(domain.TransportDirection)               {}
func (noopMetrics) TransportClosed()                                         {}
func (noopMetrics) ProducerCreated(domain.MediaKind, domain.StreamRole)      {}
func (noopMetrics) ProducerClosed()                                          {}
func (noopMetrics) ConsumerCreated()                                         {}
func (noopMetrics) ConsumerClosed()                                          {}
func (noopMetrics) RelayMessage(string, int)                                 {}
func (noopMetrics) EngineCall(string, float64)                               {}

type noopEvents struct{}

func (noopEvents) PublishRoomCreated(context.Context, domain.RoomID)                {}
func (noopEvents) PublishRoomClosed(context.Context, domain.RoomID)                 {}
func (noopEvents) PublishPeerJoined(context.Context, domain.RoomID, domain.PeerID)  {}
func (noopEvents) PublishPeerLeft(context.Context, domain.RoomID, domain.PeerID)    {}
