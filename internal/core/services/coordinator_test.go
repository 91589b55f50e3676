package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/infrastructure/media/mediatest"
	apperrors "huddlenet/pkg/errors"
)

// fakeNotifier records everything the coordinator fans out to one peer.
type fakeNotifier struct {
	mu     sync.Mutex
	events []interface{}
}

func (f *fakeNotifier) Send(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, message)
	return nil
}

func (f *fakeNotifier) recorded() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeNotifier) countType(msgType string) int {
	n := 0
	for _, ev := range f.recorded() {
		switch e := ev.(type) {
		case domain.NewPeerEvent:
			if e.Type == msgType {
				n++
			}
		case domain.PeerLeftEvent:
			if e.Type == msgType {
				n++
			}
		case domain.NewProducerEvent:
			if e.Type == msgType {
				n++
			}
		case domain.ProducerClosedEvent:
			if e.Type == msgType {
				n++
			}
		case domain.DataChannelEvent:
			if e.Type == msgType {
				n++
			}
		}
	}
	return n
}

func newTestCoordinator(engine *mediatest.Engine, opts ...Option) *Coordinator {
	return NewCoordinator(NewRegistry(), engine, zap.NewNop(), opts...)
}

// joinPeer is a test shortcut for the join handshake.
func joinPeer(t *testing.T, c *Coordinator, roomID string) (domain.PeerID, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{}
	info, err := c.Join(context.Background(), n, domain.RoomID(roomID))
	require.NoError(t, err)
	return info.PeerID, n
}

// producingSetup runs the transport handshake through produce for one peer.
func producingSetup(t *testing.T, c *Coordinator, peerID domain.PeerID, appData string) domain.ProducerID {
	t.Helper()
	ctx := context.Background()
	ti, err := c.CreateTransport(ctx, peerID, domain.DirectionProducing)
	require.NoError(t, err)
	require.NoError(t, c.ConnectTransport(ctx, peerID, ti.ID, json.RawMessage(`{}`)))
	pid, err := c.Produce(ctx, peerID, ti.ID, domain.KindVideo, json.RawMessage(`{}`), json.RawMessage(appData))
	require.NoError(t, err)
	return pid
}

// consumingSetup creates and connects a consuming transport.
func consumingSetup(t *testing.T, c *Coordinator, peerID domain.PeerID) domain.TransportID {
	t.Helper()
	ctx := context.Background()
	ti, err := c.CreateTransport(ctx, peerID, domain.DirectionConsuming)
	require.NoError(t, err)
	require.NoError(t, c.ConnectTransport(ctx, peerID, ti.ID, json.RawMessage(`{}`)))
	return ti.ID
}

func TestJoinCreatesRoomAndNotifiesOthers(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())

	p1, n1 := joinPeer(t, c, "standup")
	p2, _ := joinPeer(t, c, "standup")

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, 1, c.registry.size(), "both peers share one room")

	assert.Equal(t, 1, n1.countType(domain.MsgNewPeer))
	ev := n1.recorded()[0].(domain.NewPeerEvent)
	assert.Equal(t, p2, ev.PeerID)
	assert.Equal(t, domain.ColorAt(1), ev.Color)
}

func TestJoinReturnsRouterCapabilities(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	n := &fakeNotifier{}

	info, err := c.Join(context.Background(), n, "standup")
	require.NoError(t, err)
	assert.NotEmpty(t, info.RTPCapabilities)
	assert.Equal(t, domain.ColorAt(0), info.Color)
}

func TestJoinEmptyRoomIDRejected(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())

	_, err := c.Join(context.Background(), &fakeNotifier{}, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmptyRoomID))
	assert.Equal(t, 0, c.registry.size())
}

func TestJoinFullRoomRejected(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine(), WithMaxPeers(1))

	joinPeer(t, c, "standup")
	_, err := c.Join(context.Background(), &fakeNotifier{}, "standup")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRoomFull))
}

func TestJoinRouterAllocationFailureDestroysRoom(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.FailCreateRouter = errors.New("no workers available")
	c := newTestCoordinator(engine)

	_, err := c.Join(context.Background(), &fakeNotifier{}, "standup")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEngineFailure))
	assert.Equal(t, 0, c.registry.size(), "failed room must not linger")

	// The room id is usable again once the engine recovers.
	engine.FailCreateRouter = nil
	joinPeer(t, c, "standup")
	assert.Equal(t, 1, c.registry.size())
}

func TestLeaveIsIdempotentAndDestroysEmptyRoom(t *testing.T) {
	engine := mediatest.NewEngine()
	c := newTestCoordinator(engine)

	p1, _ := joinPeer(t, c, "standup")
	p2, n2 := joinPeer(t, c, "standup")

	require.NoError(t, c.Leave(context.Background(), p1))
	require.NoError(t, c.Leave(context.Background(), p1))

	assert.Equal(t, 1, n2.countType(domain.MsgPeerLeft), "peerLeft fires exactly once")
	assert.Equal(t, 1, c.registry.size())

	require.NoError(t, c.Leave(context.Background(), p2))
	assert.Equal(t, 0, c.registry.size(), "room exists iff it has members")
	require.Len(t, engine.Routers, 1)
	assert.True(t, engine.Routers[0].Closed)
}

func TestTransportPerDirectionLimit(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	ctx := context.Background()

	_, err := c.CreateTransport(ctx, p1, domain.DirectionProducing)
	require.NoError(t, err)
	_, err = c.CreateTransport(ctx, p1, domain.DirectionProducing)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransportState))

	// The other direction is still available.
	_, err = c.CreateTransport(ctx, p1, domain.DirectionConsuming)
	require.NoError(t, err)
}

func TestConnectUnknownTransport(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")

	err := c.ConnectTransport(context.Background(), p1, "transport_999", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransportNotFound))
}

func TestConnectTwiceRejected(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	ctx := context.Background()

	ti, err := c.CreateTransport(ctx, p1, domain.DirectionProducing)
	require.NoError(t, err)
	require.NoError(t, c.ConnectTransport(ctx, p1, ti.ID, json.RawMessage(`{}`)))

	err = c.ConnectTransport(ctx, p1, ti.ID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransportState))
}

func TestProduceRequiresConnectedProducingTransport(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	ctx := context.Background()

	ti, err := c.CreateTransport(ctx, p1, domain.DirectionProducing)
	require.NoError(t, err)

	_, err = c.Produce(ctx, p1, ti.ID, domain.KindVideo, json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransportState), "unconnected transport cannot produce")

	require.NoError(t, c.ConnectTransport(ctx, p1, ti.ID, json.RawMessage(`{}`)))

	// A consuming transport never produces, connected or not.
	ci, err := c.CreateTransport(ctx, p1, domain.DirectionConsuming)
	require.NoError(t, err)
	require.NoError(t, c.ConnectTransport(ctx, p1, ci.ID, json.RawMessage(`{}`)))
	_, err = c.Produce(ctx, p1, ci.ID, domain.KindVideo, json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransportState))
}

func TestProduceBroadcastsRoleTag(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	_, n2 := joinPeer(t, c, "standup")

	pid := producingSetup(t, c, p1, `{"role":"screen"}`)

	var ev domain.NewProducerEvent
	for _, raw := range n2.recorded() {
		if e, ok := raw.(domain.NewProducerEvent); ok {
			ev = e
		}
	}
	require.NotEmpty(t, ev.ProducerID)
	assert.Equal(t, pid, ev.ProducerID)
	assert.Equal(t, p1, ev.PeerID)
	assert.Equal(t, domain.RoleScreen, ev.Role)
}

func TestConsumeHappyPathStartsPaused(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	p2, _ := joinPeer(t, c, "standup")
	ctx := context.Background()

	pid := producingSetup(t, c, p1, `{"role":"camera"}`)
	tid := consumingSetup(t, c, p2)

	info, err := c.Consume(ctx, p2, tid, pid, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, pid, info.ProducerID)
	assert.Equal(t, p1, info.ProducerPeer)
	assert.Equal(t, domain.RoleCamera, info.Role)
	assert.NotEmpty(t, info.RTPParameters)

	require.NoError(t, c.ResumeConsumer(ctx, p2, info.ConsumerID))

	// Resuming someone else's consumer is an error.
	err = c.ResumeConsumer(ctx, p1, info.ConsumerID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConsumerNotFound))
}

func TestConsumeRejectedByCapabilityCheck(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.CanConsumeFn = func(string, json.RawMessage) bool { return false }
	c := newTestCoordinator(engine)

	p1, _ := joinPeer(t, c, "standup")
	p2, _ := joinPeer(t, c, "standup")

	pid := producingSetup(t, c, p1, `{}`)
	tid := consumingSetup(t, c, p2)

	_, err := c.Consume(context.Background(), p2, tid, pid, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCannotConsume))
}

func TestConsumeUnknownProducer(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	tid := consumingSetup(t, c, p1)

	_, err := c.Consume(context.Background(), p1, tid, "producer_999", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProducerNotFound))
}

func TestCloseProducerNotifiesBothShapes(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	p2, n2 := joinPeer(t, c, "standup")
	ctx := context.Background()

	pid := producingSetup(t, c, p1, `{}`)
	tid := consumingSetup(t, c, p2)
	info, err := c.Consume(ctx, p2, tid, pid, json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, c.CloseProducer(ctx, p1, pid))

	var byPair, byConsumer bool
	for _, raw := range n2.recorded() {
		ev, ok := raw.(domain.ProducerClosedEvent)
		if !ok {
			continue
		}
		if ev.PeerID == p1 && ev.ProducerID == pid {
			byPair = true
		}
		if ev.ConsumerID == info.ConsumerID {
			byConsumer = true
		}
	}
	assert.True(t, byPair, "room broadcast identifies the producer by peer and id")
	assert.True(t, byConsumer, "subscriber notification identifies the dead consumer")

	// The subscriber's bookkeeping is gone.
	err = c.ResumeConsumer(ctx, p2, info.ConsumerID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConsumerNotFound))

	// Closing twice or closing someone else's producer fails the same way.
	err = c.CloseProducer(ctx, p1, pid)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProducerNotFound))
}

func TestLeaveCascadesToSubscribers(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	p2, n2 := joinPeer(t, c, "standup")
	ctx := context.Background()

	pid := producingSetup(t, c, p1, `{}`)
	tid := consumingSetup(t, c, p2)
	info, err := c.Consume(ctx, p2, tid, pid, json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, c.Leave(ctx, p1))

	assert.Equal(t, 1, n2.countType(domain.MsgPeerLeft))
	var consumerClosed bool
	for _, raw := range n2.recorded() {
		if ev, ok := raw.(domain.ProducerClosedEvent); ok && ev.ConsumerID == info.ConsumerID {
			consumerClosed = true
		}
	}
	assert.True(t, consumerClosed, "subscriber learns its consumer died with the leaver")
}

func TestGetProducersExcludesOwn(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	p2, _ := joinPeer(t, c, "standup")

	own := producingSetup(t, c, p2, `{"role":"screen"}`)
	other := producingSetup(t, c, p1, `{}`)

	list, err := c.GetProducers(context.Background(), p2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, other, list[0].ProducerID)
	assert.Equal(t, p1, list[0].PeerID)
	assert.NotEqual(t, own, list[0].ProducerID)
}

func TestRelayFansOutToOthersOnly(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, n1 := joinPeer(t, c, "standup")
	_, n2 := joinPeer(t, c, "standup")
	_, n3 := joinPeer(t, c, "standup")

	payload := json.RawMessage(`{"msgType":"chat","text":"hello","sender":"Ann"}`)
	require.NoError(t, c.Relay(context.Background(), p1, payload))

	assert.Equal(t, 0, n1.countType(domain.MsgDataChannel), "sender never echoes")
	assert.Equal(t, 1, n2.countType(domain.MsgDataChannel))
	assert.Equal(t, 1, n3.countType(domain.MsgDataChannel))

	for _, raw := range n2.recorded() {
		if ev, ok := raw.(domain.DataChannelEvent); ok {
			assert.Equal(t, p1, ev.From)
			assert.JSONEq(t, string(payload), string(ev.Payload))
		}
	}
}

func TestRelayRejectsUnknownMsgType(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")

	err := c.Relay(context.Background(), p1, json.RawMessage(`{"msgType":"telemetry"}`))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPayload))
}

func TestOperationsRequireMembership(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	ctx := context.Background()
	ghost := domain.PeerID("peer_ghost")

	_, err := c.CreateTransport(ctx, ghost, domain.DirectionProducing)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotJoined))
	err = c.Relay(ctx, ghost, json.RawMessage(`{"msgType":"chat"}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotJoined))
	_, err = c.GetProducers(ctx, ghost)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotJoined))
}

func TestRoomStatsSnapshot(t *testing.T) {
	c := newTestCoordinator(mediatest.NewEngine())
	p1, _ := joinPeer(t, c, "standup")
	joinPeer(t, c, "standup")
	joinPeer(t, c, "retro")
	producingSetup(t, c, p1, `{}`)

	stats := c.RoomStats(context.Background())
	require.Len(t, stats, 2)

	byID := map[domain.RoomID]domain.RoomStats{}
	for _, s := range stats {
		byID[s.ID] = s
	}
	assert.Equal(t, 2, byID["standup"].Members)
	assert.Equal(t, 1, byID["standup"].Producers)
	assert.Equal(t, 1, byID["retro"].Members)
}

func TestConcurrentJoinSingleRouter(t *testing.T) {
	engine := mediatest.NewEngine()
	c := newTestCoordinator(engine)

	const peers = 16
	var wg sync.WaitGroup
	errs := make([]error, peers)
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Join(context.Background(), &fakeNotifier{}, "standup")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, engine.Routers, 1, "concurrent joiners share the creator's router")
	assert.Equal(t, 1, c.registry.size())
}
