package services

import (
	"context"
	"encoding/json"
	"time"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/core/ports"
	apperrors "huddlenet/pkg/errors"
	"huddlenet/pkg/tracing"
)

// CreateTransport allocates one directional transport for the peer. A peer
// may hold one producing and one consuming transport; a second request for
// a direction that already has a live transport is rejected.
func (c *Coordinator) CreateTransport(ctx context.Context, peerID domain.PeerID, direction domain.TransportDirection) (*domain.TransportInfo, error) {
	rm := c.roomOf(peerID)
	if rm == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	m, ok := rm.members[peerID]
	if !ok {
		rm.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}
	for tid := range m.session.Transports {
		if entry, ok := rm.transports[tid]; ok && entry.rec.Direction == direction {
			rm.mu.Unlock()
			return nil, apperrors.Newf(apperrors.ErrCodeTransportState,
				"peer %s already holds a %s transport", peerID, direction)
		}
	}
	router := rm.router
	rm.mu.Unlock()

	engineCtx, span := tracing.TraceEngineCall(ctx, "createTransport", string(peerID), string(rm.id))
	start := time.Now()
	handle, err := router.CreateTransport(engineCtx)
	c.metrics.EngineCall("createTransport", time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(engineCtx, err)
		span.End()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeEngineFailure, "transport allocation failed")
	}
	span.End()

	transportID := domain.TransportID(handle.ID())

	rm.mu.Lock()
	m, ok = rm.members[peerID]
	if !ok || rm.closed {
		rm.mu.Unlock()
		if cerr := handle.Close(); cerr != nil {
			c.logger.Warnw("orphaned transport close failed", "transport_id", transportID, "error", cerr)
		}
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s left during transport allocation", peerID)
	}
	rm.transports[transportID] = &transportEntry{
		rec: domain.Transport{
			ID:        transportID,
			Owner:     peerID,
			Direction: direction,
			State:     domain.TransportCreated,
		},
		handle: handle,
	}
	m.session.Transports[transportID] = struct{}{}
	rm.mu.Unlock()

	c.metrics.TransportCreated(direction)
	c.logger.Infow("transport created",
		"room_id", rm.id, "peer_id", peerID, "transport_id", transportID, "direction", direction)

	return &domain.TransportInfo{
		ID:             transportID,
		ICEParameters:  handle.ICEParameters(),
		ICECandidates:  handle.ICECandidates(),
		DTLSParameters: handle.DTLSParameters(),
	}, nil
}

// ConnectTransport completes the two-sided handshake. An unknown transport
// id means the client and server disagree about state; that is a protocol
// desync and is surfaced loudly rather than dropped.
func (c *Coordinator) ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	rm := c.roomOf(peerID)
	if rm == nil {
		return apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	entry, ok := rm.transports[transportID]
	if !ok || entry.rec.Owner != peerID {
		rm.mu.Unlock()
		c.logger.Errorw("connect for unknown transport, likely client/server desync",
			"room_id", rm.id, "peer_id", peerID, "transport_id", transportID)
		return apperrors.Newf(apperrors.ErrCodeTransportNotFound, "transport %s not found", transportID)
	}
	switch entry.rec.State {
	case domain.TransportConnected:
		rm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s already connected", transportID)
	case domain.TransportClosed:
		rm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s is closed", transportID)
	}
	handle := entry.handle
	rm.mu.Unlock()

	engineCtx, span := tracing.TraceEngineCall(ctx, "connectTransport", string(peerID), string(rm.id))
	start := time.Now()
	err := handle.Connect(engineCtx, dtlsParameters)
	c.metrics.EngineCall("connectTransport", time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(engineCtx, err)
		span.End()
		return apperrors.Wrap(err, apperrors.ErrCodeEngineFailure, "transport connect failed")
	}
	span.End()

	rm.mu.Lock()
	if entry, ok := rm.transports[transportID]; ok && entry.rec.State == domain.TransportCreated {
		entry.rec.State = domain.TransportConnected
	}
	rm.mu.Unlock()

	c.logger.Infow("transport connected", "room_id", rm.id, "peer_id", peerID, "transport_id", transportID)
	return nil
}

// Produce registers an outgoing stream on a connected producing transport
// and announces it to the rest of the room.
func (c *Coordinator) Produce(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, rtpParameters, appData json.RawMessage) (domain.ProducerID, error) {
	rm := c.roomOf(peerID)
	if rm == nil {
		return "", apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	entry, ok := rm.transports[transportID]
	switch {
	case !ok || entry.rec.Owner != peerID:
		rm.mu.Unlock()
		return "", apperrors.Newf(apperrors.ErrCodeTransportNotFound, "transport %s not found", transportID)
	case entry.rec.State != domain.TransportConnected:
		rm.mu.Unlock()
		return "", apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s is not connected", transportID)
	case entry.rec.Direction != domain.DirectionProducing:
		rm.mu.Unlock()
		return "", apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s is not a producing transport", transportID)
	}
	handle := entry.handle
	rm.mu.Unlock()

	engineCtx, span := tracing.TraceEngineCall(ctx, "produce", string(peerID), string(rm.id))
	start := time.Now()
	pHandle, err := handle.Produce(engineCtx, string(kind), rtpParameters, appData)
	c.metrics.EngineCall("produce", time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(engineCtx, err)
		span.End()
		return "", apperrors.Wrap(err, apperrors.ErrCodeEngineFailure, "produce failed")
	}
	span.End()

	producerID := domain.ProducerID(pHandle.ID())
	role := domain.RoleFromAppData(appData)

	rm.mu.Lock()
	m, alive := rm.members[peerID]
	tEntry, tAlive := rm.transports[transportID]
	if !alive || !tAlive || tEntry.rec.State == domain.TransportClosed {
		rm.mu.Unlock()
		if cerr := pHandle.Close(); cerr != nil {
			c.logger.Warnw("orphaned producer close failed", "producer_id", producerID, "error", cerr)
		}
		return "", apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s left during produce", peerID)
	}
	rm.producers[producerID] = &producerEntry{
		rec: domain.Producer{
			ID:        producerID,
			Owner:     peerID,
			Transport: transportID,
			Kind:      kind,
			Role:      role,
			AppData:   appData,
		},
		handle: pHandle,
	}
	m.session.Producers[producerID] = struct{}{}
	others := rm.notifiersExcept(peerID)
	rm.mu.Unlock()

	c.broadcast(others, domain.NewProducerEvent{
		Type:       domain.MsgNewProducer,
		PeerID:     peerID,
		ProducerID: producerID,
		Kind:       kind,
		Role:       role,
	})

	c.metrics.ProducerCreated(kind, role)
	c.logger.Infow("producer created",
		"room_id", rm.id, "peer_id", peerID, "producer_id", producerID, "kind", kind, "role", role)
	return producerID, nil
}

// Consume subscribes the peer to a producer in its room. The engine must
// affirm capability compatibility first; a negative answer surfaces as
// CANNOT_CONSUME, never as a silently broken consumer. Consumers come back
// paused and must be resumed by their owner.
func (c *Coordinator) Consume(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*domain.ConsumerInfo, error) {
	rm := c.roomOf(peerID)
	if rm == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	entry, ok := rm.transports[transportID]
	switch {
	case !ok || entry.rec.Owner != peerID:
		rm.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrCodeTransportNotFound, "transport %s not found", transportID)
	case entry.rec.State != domain.TransportConnected:
		rm.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s is not connected", transportID)
	case entry.rec.Direction != domain.DirectionConsuming:
		rm.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrCodeTransportState, "transport %s is not a consuming transport", transportID)
	}
	pEntry, ok := rm.producers[producerID]
	if !ok {
		rm.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrCodeProducerNotFound, "producer %s not found in room", producerID)
	}
	router := rm.router
	handle := entry.handle
	sourceOwner := pEntry.rec.Owner
	sourceRole := pEntry.rec.Role
	rm.mu.Unlock()

	if !router.CanConsume(string(producerID), rtpCapabilities) {
		return nil, apperrors.Newf(apperrors.ErrCodeCannotConsume,
			"capabilities incompatible with producer %s", producerID)
	}

	engineCtx, span := tracing.TraceEngineCall(ctx, "consume", string(peerID), string(rm.id))
	start := time.Now()
	cHandle, err := handle.Consume(engineCtx, string(producerID), rtpCapabilities)
	c.metrics.EngineCall("consume", time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(engineCtx, err)
		span.End()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCannotConsume, "consume failed")
	}
	span.End()

	consumerID := domain.ConsumerID(cHandle.ID())

	// Register the producer-close hook before committing the record: the
	// callback tolerates a record that never materialized, but a missed
	// close would leak bookkeeping.
	cHandle.OnProducerClose(func() {
		c.handleProducerClosed(rm, consumerID)
	})

	rm.mu.Lock()
	m, alive := rm.members[peerID]
	_, producerAlive := rm.producers[producerID]
	tEntry, tAlive := rm.transports[transportID]
	if !alive || !producerAlive || !tAlive || tEntry.rec.State == domain.TransportClosed {
		rm.mu.Unlock()
		if cerr := cHandle.Close(); cerr != nil {
			c.logger.Warnw("orphaned consumer close failed", "consumer_id", consumerID, "error", cerr)
		}
		return nil, apperrors.Newf(apperrors.ErrCodeProducerNotFound,
			"producer %s closed during consume", producerID)
	}
	rm.consumers[consumerID] = &consumerEntry{
		rec: domain.Consumer{
			ID:        consumerID,
			Owner:     peerID,
			Transport: transportID,
			Source:    producerID,
			Kind:      domain.MediaKind(cHandle.Kind()),
			State:     domain.ConsumerPaused,
		},
		handle: cHandle,
	}
	m.session.Consumers[consumerID] = struct{}{}
	rm.mu.Unlock()

	c.metrics.ConsumerCreated()
	c.logger.Infow("consumer created",
		"room_id", rm.id, "peer_id", peerID, "consumer_id", consumerID, "producer_id", producerID)

	return &domain.ConsumerInfo{
		ConsumerID:    consumerID,
		ProducerID:    producerID,
		ProducerPeer:  sourceOwner,
		Kind:          domain.MediaKind(cHandle.Kind()),
		Role:          sourceRole,
		RTPParameters: cHandle.RTPParameters(),
	}, nil
}

// ResumeConsumer starts media flow on a consumer its owner created earlier.
func (c *Coordinator) ResumeConsumer(ctx context.Context, peerID domain.PeerID, consumerID domain.ConsumerID) error {
	rm := c.roomOf(peerID)
	if rm == nil {
		return apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	entry, ok := rm.consumers[consumerID]
	if !ok || entry.rec.Owner != peerID {
		rm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrCodeConsumerNotFound, "consumer %s not found", consumerID)
	}
	handle := entry.handle
	rm.mu.Unlock()

	engineCtx, span := tracing.TraceEngineCall(ctx, "resumeConsumer", string(peerID), string(rm.id))
	start := time.Now()
	err := handle.Resume(engineCtx)
	c.metrics.EngineCall("resumeConsumer", time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(engineCtx, err)
		span.End()
		return apperrors.Wrap(err, apperrors.ErrCodeEngineFailure, "consumer resume failed")
	}
	span.End()

	rm.mu.Lock()
	if entry, ok := rm.consumers[consumerID]; ok && entry.rec.State == domain.ConsumerPaused {
		entry.rec.State = domain.ConsumerActive
	}
	rm.mu.Unlock()

	c.logger.Infow("consumer resumed", "room_id", rm.id, "peer_id", peerID, "consumer_id", consumerID)
	return nil
}

// CloseProducer closes a producer its owner registered earlier and
// broadcasts the peer/producer flavored notification to the room. Remote
// subscribers additionally receive the consumer-id flavored notification
// through the engine's per-consumer close event.
func (c *Coordinator) CloseProducer(ctx context.Context, peerID domain.PeerID, producerID domain.ProducerID) error {
	rm := c.roomOf(peerID)
	if rm == nil {
		return apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	entry, ok := rm.producers[producerID]
	if !ok || entry.rec.Owner != peerID {
		rm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrCodeProducerNotFound, "producer %s not found", producerID)
	}
	delete(rm.producers, producerID)
	if m, ok := rm.members[peerID]; ok {
		delete(m.session.Producers, producerID)
	}
	others := rm.notifiersExcept(peerID)
	handle := entry.handle
	rm.mu.Unlock()

	if err := handle.Close(); err != nil {
		c.logger.Warnw("producer close failed", "producer_id", producerID, "error", err)
	}

	c.broadcast(others, domain.ProducerClosedEvent{
		Type:       domain.MsgProducerClosed,
		PeerID:     peerID,
		ProducerID: producerID,
	})

	c.metrics.ProducerClosed()
	c.logger.Infow("producer closed", "room_id", rm.id, "peer_id", peerID, "producer_id", producerID)
	return nil
}

// GetProducers snapshots every live producer in the peer's room except the
// peer's own, so a late joiner can bootstrap without waiting for future
// newProducer events.
func (c *Coordinator) GetProducers(ctx context.Context, peerID domain.PeerID) ([]domain.ProducerInfo, error) {
	rm := c.roomOf(peerID)
	if rm == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[peerID]; !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeNotJoined, "peer %s is not in a room", peerID)
	}

	out := make([]domain.ProducerInfo, 0, len(rm.producers))
	for _, entry := range rm.producers {
		if entry.rec.Owner == peerID {
			continue
		}
		out = append(out, domain.ProducerInfo{
			PeerID:     entry.rec.Owner,
			ProducerID: entry.rec.ID,
			Kind:       entry.rec.Kind,
			Role:       entry.rec.Role,
		})
	}
	return out, nil
}

// handleProducerClosed is the engine-delivered per-consumer close path. It
// removes the consumer's bookkeeping and notifies its owner with the
// consumer-id flavored producerClosed event.
func (c *Coordinator) handleProducerClosed(rm *room, consumerID domain.ConsumerID) {
	rm.mu.Lock()
	entry, ok := rm.consumers[consumerID]
	if !ok {
		rm.mu.Unlock()
		return
	}
	delete(rm.consumers, consumerID)
	entry.rec.State = domain.ConsumerClosed

	var notifier ports.Notifier
	if m, ok := rm.members[entry.rec.Owner]; ok {
		delete(m.session.Consumers, consumerID)
		notifier = m.notifier
	}
	rm.mu.Unlock()

	if notifier != nil {
		if err := notifier.Send(domain.ProducerClosedEvent{
			Type:       domain.MsgProducerClosed,
			ConsumerID: consumerID,
		}); err != nil {
			c.logger.Debugw("producerClosed delivery failed", "consumer_id", consumerID, "error", err)
		}
	}
	c.metrics.ConsumerClosed()
}
