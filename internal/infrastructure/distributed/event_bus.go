package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"huddlenet/internal/core/domain"
	"huddlenet/pkg/circuitbreaker"
	"huddlenet/pkg/retry"
)

// EventType represents the type of room lifecycle event
type EventType string

const (
	EventRoomCreated EventType = "room.created"
	EventRoomClosed  EventType = "room.closed"
	EventPeerJoined  EventType = "peer.joined"
	EventPeerLeft    EventType = "peer.left"
)

const eventChannel = "huddlenet:events"

// Event is one room lifecycle notification on the bus. Protocol state never
// travels here; external observers get membership changes and nothing else.
type Event struct {
	Type       EventType     `json:"type"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	RoomID     domain.RoomID `json:"room_id,omitempty"`
	PeerID     domain.PeerID `json:"peer_id,omitempty"`
}

// EventBus mirrors room membership changes onto redis pub/sub. It implements
// ports.EventPublisher: publishing is best-effort, failures are retried
// briefly and then logged, never surfaced to the signaling path. A circuit
// breaker sheds the retry cost from every join/leave while redis is down.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	retryCfg   retry.Config
	breaker    *circuitbreaker.CircuitBreaker
	pubsub     *redis.PubSub
}

// NewEventBus creates a new event bus
func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 500 * time.Millisecond

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit state changed", "from", from.String(), "to", to.String())
	})

	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		retryCfg:   cfg,
		breaker:    breaker,
	}
}

func (eb *EventBus) publish(ctx context.Context, event *Event) {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		eb.logger.Warnw("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	err = eb.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, eb.retryCfg, func() error {
			return eb.client.Publish(ctx, eventChannel, data).Err()
		})
	})
	if err != nil {
		eb.logger.Warnw("failed to publish event",
			"type", event.Type,
			"room_id", event.RoomID,
			"error", err,
		)
		return
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
		"peer_id", event.PeerID,
	)
}

func (eb *EventBus) PublishRoomCreated(ctx context.Context, roomID domain.RoomID) {
	eb.publish(ctx, &Event{Type: EventRoomCreated, RoomID: roomID})
}

func (eb *EventBus) PublishRoomClosed(ctx context.Context, roomID domain.RoomID) {
	eb.publish(ctx, &Event{Type: EventRoomClosed, RoomID: roomID})
}

func (eb *EventBus) PublishPeerJoined(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) {
	eb.publish(ctx, &Event{Type: EventPeerJoined, RoomID: roomID, PeerID: peerID})
}

func (eb *EventBus) PublishPeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) {
	eb.publish(ctx, &Event{Type: EventPeerLeft, RoomID: roomID, PeerID: peerID})
}

// Subscribe subscribes to events and calls handler for each event published
// by other instances. Blocks until ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eventChannel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
