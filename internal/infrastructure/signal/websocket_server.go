package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/core/ports"
	"huddlenet/pkg/config"
	apperrors "huddlenet/pkg/errors"
	"huddlenet/pkg/logger"
	"huddlenet/pkg/tracing"
	"huddlenet/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server terminates websocket signaling connections and translates wire
// messages into room-service calls. One goroutine reads each connection; a
// select loop dispatches messages and drives the ping ticker.
type Server struct {
	service ports.RoomService
	logger  *zap.SugaredLogger
	ctxLog  *logger.ContextLogger

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	rateLimiting   bool
	messagesPerSec rate.Limit
	burst          int
	maxMessageSize int64

	authRequired bool
	jwtSecret    []byte

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewServer(service ports.RoomService, cfg *config.Config, zlog *zap.Logger) *Server {
	return &Server{
		service:        service,
		logger:         zlog.Sugar(),
		ctxLog:         logger.NewContextLogger(zlog),
		pingInterval:   cfg.Signal.PingInterval,
		pongTimeout:    cfg.Signal.PongTimeout,
		writeTimeout:   cfg.Signal.WriteTimeout,
		rateLimiting:   cfg.RateLimiting.Enabled,
		messagesPerSec: rate.Limit(cfg.RateLimiting.MessagesPerSecond),
		burst:          cfg.RateLimiting.Burst,
		maxMessageSize: cfg.RateLimiting.MaxMessageSizeBytes,
		authRequired:   cfg.Auth.Required,
		jwtSecret:      []byte(cfg.Auth.JWTSecret),
		conns:          make(map[*wsConn]struct{}),
	}
}

// wsConn guards concurrent writes to one websocket connection. It is the
// ports.Notifier handed to the coordinator, so room broadcasts and request
// responses share the same write path.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(message)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) closeFrame(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason))
}

// session is the per-connection protocol state. A connection represents at
// most one peer; join binds it, disconnect unbinds it.
type session struct {
	conn   *wsConn
	peerID domain.PeerID
	joined bool
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authRequired {
		if err := s.authenticate(r); err != nil {
			s.logger.Warnw("websocket auth rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn, writeTimeout: s.writeTimeout}
	s.mu.Lock()
	s.conns[wc] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, wc)
		s.mu.Unlock()
	}()

	sess := &session{conn: wc}
	s.logger.Infow("connection opened", "remote", r.RemoteAddr)

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.rateLimiting {
		limiter = rate.NewLimiter(s.messagesPerSec, s.burst)
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	readerDone := make(chan struct{})
	defer close(readerDone)

	go s.readPump(conn, messageChan, errorChan, readerDone)

	for {
		select {
		case raw := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("message rate exceeded, dropping", "peer_id", sess.peerID)
				continue
			}
			s.dispatch(context.Background(), sess, raw)

		case <-pingTicker.C:
			if err := wc.ping(); err != nil {
				s.logger.Infow("ping failed", "peer_id", sess.peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "peer_id", sess.peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	if sess.joined {
		if err := s.service.Leave(context.Background(), sess.peerID); err != nil {
			s.logger.Warnw("leave on disconnect failed", "peer_id", sess.peerID, "error", err)
		}
	}
	s.logger.Infow("connection closed", "peer_id", sess.peerID)
}

// readPump reads frames into messages until the connection fails or done
// closes. Hand-offs select on done: closing the connection does not unblock
// a pending channel send, so teardown after a ping failure would otherwise
// strand this goroutine behind a full buffer.
func (s *Server) readPump(conn *websocket.Conn, messages chan<- []byte, errs chan<- error, done <-chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		select {
		case messages <- raw:
		case <-done:
			return
		}
	}
}

// dispatch routes one inbound frame. Malformed frames are logged and dropped;
// protocol violations surface as error events; capability mismatches get the
// dedicated cannotConsume response.
func (s *Server) dispatch(ctx context.Context, sess *session, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.logger.Warnw("malformed frame dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	ctx, span := tracing.TraceSignalMessage(ctx, env.Type, string(sess.peerID))
	defer span.End()

	ctx = context.WithValue(ctx, logger.PeerIDKey, string(sess.peerID))
	ctx = context.WithValue(ctx, logger.RequestTypeKey, env.Type)
	s.ctxLog.WithContext(ctx).Debug("handling signaling message")

	switch env.Type {
	case domain.MsgJoin:
		s.handleJoin(ctx, sess, raw)
	case domain.MsgCreateTransport:
		s.handleCreateTransport(ctx, sess, raw)
	case domain.MsgConnectTransport:
		s.handleConnectTransport(ctx, sess, raw)
	case domain.MsgProduce:
		s.handleProduce(ctx, sess, raw)
	case domain.MsgConsume:
		s.handleConsume(ctx, sess, raw)
	case domain.MsgResumeConsumer:
		s.handleResumeConsumer(ctx, sess, raw)
	case domain.MsgCloseProducer:
		s.handleCloseProducer(ctx, sess, raw)
	case domain.MsgGetProducers:
		s.handleGetProducers(ctx, sess)
	case domain.MsgDataChannel:
		s.handleDataChannel(ctx, sess, raw)
	default:
		s.logger.Warnw("unknown message type dropped", "peer_id", sess.peerID, "type", env.Type)
	}
}

func (s *Server) handleJoin(ctx context.Context, sess *session, raw []byte) {
	if sess.joined {
		s.sendError(sess, apperrors.ErrCodeAlreadyJoined, "connection already joined a room")
		return
	}

	var req joinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed join dropped", "error", err)
		return
	}
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		// Includes the empty room id case: the connection stays open and
		// nothing is sent back.
		s.logger.Warnw("join with invalid room id dropped", "room_id", req.RoomID, "error", err)
		return
	}

	info, err := s.service.Join(ctx, sess.conn, domain.RoomID(req.RoomID))
	if err != nil {
		s.logger.Warnw("join failed", "room_id", req.RoomID, "error", err)
		s.sendError(sess, apperrors.CodeOf(err), "join failed")
		return
	}

	sess.peerID = info.PeerID
	sess.joined = true

	s.respond(sess, joinedResponse{
		Type:                  domain.MsgJoined,
		Room:                  domain.RoomID(req.RoomID),
		PeerID:                info.PeerID,
		Color:                 info.Color,
		RouterRTPCapabilities: info.RTPCapabilities,
	})
}

func (s *Server) handleCreateTransport(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req createTransportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed createWebRtcTransport dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	var direction domain.TransportDirection
	switch {
	case req.Producing && !req.Consuming:
		direction = domain.DirectionProducing
	case req.Consuming && !req.Producing:
		direction = domain.DirectionConsuming
	default:
		s.logger.Warnw("createWebRtcTransport with ambiguous direction dropped",
			"peer_id", sess.peerID, "producing", req.Producing, "consuming", req.Consuming)
		return
	}

	info, err := s.service.CreateTransport(ctx, sess.peerID, direction)
	if err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "transport creation failed")
		return
	}

	s.respond(sess, transportCreatedResponse{
		Type:      domain.MsgTransportCreated,
		Producing: req.Producing,
		Consuming: req.Consuming,
		TransportOptions: transportOptions{
			ID:             info.ID,
			ICEParameters:  info.ICEParameters,
			ICECandidates:  info.ICECandidates,
			DTLSParameters: info.DTLSParameters,
		},
	})
}

func (s *Server) handleConnectTransport(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req connectTransportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed connectWebRtcTransport dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	err := s.service.ConnectTransport(ctx, sess.peerID, domain.TransportID(req.TransportID), req.DTLSParameters)
	if err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "transport connect failed")
		return
	}

	s.respond(sess, transportConnectedResponse{
		Type:        domain.MsgTransportConnected,
		TransportID: domain.TransportID(req.TransportID),
	})
}

func (s *Server) handleProduce(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req produceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed produce dropped", "peer_id", sess.peerID, "error", err)
		return
	}
	kind := domain.MediaKind(req.Kind)
	if kind != domain.KindAudio && kind != domain.KindVideo {
		s.logger.Warnw("produce with unknown kind dropped", "peer_id", sess.peerID, "kind", req.Kind)
		return
	}

	producerID, err := s.service.Produce(ctx, sess.peerID, domain.TransportID(req.TransportID), kind, req.RTPParameters, req.AppData)
	if err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "produce failed")
		return
	}

	s.respond(sess, producedResponse{Type: domain.MsgProduced, ID: producerID, ProducerID: producerID})
}

func (s *Server) handleConsume(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req consumeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed consume dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	producerID := domain.ProducerID(req.ProducerID)
	info, err := s.service.Consume(ctx, sess.peerID, domain.TransportID(req.TransportID), producerID, req.RTPCapabilities)
	if err != nil {
		// Capability mismatch has a dedicated negative response so clients
		// can skip the stream instead of treating it as a fault.
		if apperrors.HasCode(err, apperrors.ErrCodeCannotConsume) {
			s.respond(sess, cannotConsumeResponse{Type: domain.MsgCannotConsume, ProducerID: producerID})
			return
		}
		s.sendError(sess, apperrors.CodeOf(err), "consume failed")
		return
	}

	s.respond(sess, consumedResponse{
		Type:          domain.MsgConsumed,
		ConsumerID:    info.ConsumerID,
		ProducerID:    info.ProducerID,
		PeerID:        info.ProducerPeer,
		Kind:          info.Kind,
		Role:          info.Role,
		RTPParameters: info.RTPParameters,
	})
}

func (s *Server) handleResumeConsumer(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req resumeConsumerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed resumeConsumer dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	consumerID := domain.ConsumerID(req.ConsumerID)
	if err := s.service.ResumeConsumer(ctx, sess.peerID, consumerID); err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "consumer resume failed")
		return
	}

	s.respond(sess, consumerResumedResponse{Type: domain.MsgConsumerResumed, ConsumerID: consumerID})
}

func (s *Server) handleCloseProducer(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req closeProducerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed closeProducer dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	// No acknowledgement on success: the sender observes the effect through
	// its own UI, others through the producerClosed broadcast.
	if err := s.service.CloseProducer(ctx, sess.peerID, domain.ProducerID(req.ProducerID)); err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "close producer failed")
	}
}

func (s *Server) handleGetProducers(ctx context.Context, sess *session) {
	if !s.requireJoined(sess) {
		return
	}
	list, err := s.service.GetProducers(ctx, sess.peerID)
	if err != nil {
		s.sendError(sess, apperrors.CodeOf(err), "producer listing failed")
		return
	}
	s.respond(sess, producersResponse{Type: domain.MsgProducers, Producers: list})
}

func (s *Server) handleDataChannel(ctx context.Context, sess *session, raw []byte) {
	if !s.requireJoined(sess) {
		return
	}
	var req dataChannelRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warnw("malformed dataChannelMessage dropped", "peer_id", sess.peerID, "error", err)
		return
	}

	if err := s.service.Relay(ctx, sess.peerID, req.Payload); err != nil {
		s.logger.Warnw("relay rejected", "peer_id", sess.peerID, "error", err)
		s.sendError(sess, apperrors.CodeOf(err), "relay payload rejected")
	}
}

// requireJoined emits the error event for requests arriving before join.
func (s *Server) requireJoined(sess *session) bool {
	if !sess.joined {
		s.sendError(sess, apperrors.ErrCodeNotJoined, "join a room first")
		return false
	}
	return true
}

func (s *Server) respond(sess *session, message interface{}) {
	if err := sess.conn.Send(message); err != nil {
		s.logger.Warnw("response delivery failed", "peer_id", sess.peerID, "error", err)
	}
}

func (s *Server) sendError(sess *session, code apperrors.ErrorCode, message string) {
	s.respond(sess, errorResponse{Type: domain.MsgError, Code: string(code), Message: message})
}

// authenticate validates the JWT presented on the upgrade request, either as
// a ?token= query parameter or a bearer Authorization header.
func (s *Server) authenticate(r *http.Request) error {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenStr = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if tokenStr == "" {
		return fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// ConnectionCount reports the number of open websocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown sends close frames to every open connection. Leave cleanup runs
// through the normal disconnect path as reads fail.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeFrame("server shutting down")
	}
}
