// Package media implements the engine boundary on top of pion's ORTC API.
// Each transport is an ICE gatherer + ICE transport + DTLS transport triple;
// producers read inbound RTP and a forwarding loop fans packets out to the
// local tracks of active consumers, in the usual SFU shape.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"huddlenet/internal/core/ports"
	"huddlenet/pkg/config"
	"huddlenet/pkg/utils"
)

// routerRTPCapabilities is the codec surface advertised to joining clients.
// The engine registers pion's default codecs; clients intersect against this
// document when loading their device.
var routerRTPCapabilities = json.RawMessage(`{
  "codecs": [
    {"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
    {"kind": "video", "mimeType": "video/VP8", "clockRate": 90000}
  ],
  "headerExtensions": []
}`)

// Engine implements ports.MediaEngine.
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     *zap.SugaredLogger
}

func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetLite(true)
	if cfg.WebRTC.PortRange.Min > 0 && cfg.WebRTC.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.WebRTC.PortRange.Min, cfg.WebRTC.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set udp port range: %w", err)
		}
	}

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		iceServers = append(iceServers, server)
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		iceServers: iceServers,
		logger:     logger.Sugar(),
	}, nil
}

func (e *Engine) CreateRouter(ctx context.Context) (ports.Router, error) {
	r := &router{
		engine:     e,
		id:         utils.GenerateID("router"),
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
	}
	e.logger.Infow("router created", "router_id", r.id)
	return r, nil
}

// router tracks the transports and producers of one room so consuming
// transports can resolve producers created on other transports.
type router struct {
	engine *Engine
	id     string

	mu         sync.Mutex
	transports map[string]*transport
	producers  map[string]*producer
	closed     bool
}

func (r *router) RTPCapabilities() json.RawMessage { return routerRTPCapabilities }

func (r *router) CreateTransport(ctx context.Context) (ports.Transport, error) {
	gatherer, err := r.engine.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create ice gatherer: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("ice gathering failed: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("failed to read local candidates: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("failed to read ice parameters: %w", err)
	}

	ice := r.engine.api.NewICETransport(gatherer)
	dtls, err := r.engine.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("failed to read dtls parameters: %w", err)
	}

	iceParamsJSON, err := json.Marshal(iceParams)
	if err != nil {
		return nil, err
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}
	dtlsParamsJSON, err := json.Marshal(dtlsParams)
	if err != nil {
		return nil, err
	}

	t := &transport{
		router:         r,
		id:             utils.GenerateTransportID(),
		gatherer:       gatherer,
		ice:            ice,
		dtls:           dtls,
		iceParameters:  iceParamsJSON,
		iceCandidates:  candidatesJSON,
		dtlsParameters: dtlsParamsJSON,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.teardown()
		return nil, fmt.Errorf("router %s is closed", r.id)
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	return t, nil
}

// CanConsume reports whether the subscriber's capabilities cover the
// producer's codec. Capabilities that fail to decode never match.
func (r *router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	var caps struct {
		Codecs []struct {
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	if len(caps.Codecs) == 0 {
		// Legacy clients send empty capability documents and accept whatever
		// the router offers.
		return true
	}
	for _, c := range caps.Codecs {
		if strings.HasPrefix(strings.ToLower(c.MimeType), p.kind+"/") {
			return true
		}
	}
	return false
}

func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[string]*transport)
	r.producers = make(map[string]*producer)
	r.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			r.engine.logger.Warnw("transport close failed", "router_id", r.id, "error", err)
		}
	}
	r.engine.logger.Infow("router closed", "router_id", r.id)
	return nil
}

// transport is one ICE/DTLS context. The remote side drives connectivity
// checks; this side runs ICE lite.
type transport struct {
	router   *router
	id       string
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParameters  json.RawMessage
	iceCandidates  json.RawMessage
	dtlsParameters json.RawMessage

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *transport) ID() string                      { return t.id }
func (t *transport) ICEParameters() json.RawMessage  { return t.iceParameters }
func (t *transport) ICECandidates() json.RawMessage  { return t.iceCandidates }
func (t *transport) DTLSParameters() json.RawMessage { return t.dtlsParameters }

// connectParameters is the remote half of the handshake. The ICE parameters
// ride alongside the DTLS ones in the same blob.
type connectParameters struct {
	Role          string                   `json:"role,omitempty"`
	Fingerprints  []webrtc.DTLSFingerprint `json:"fingerprints"`
	ICEParameters *webrtc.ICEParameters    `json:"iceParameters,omitempty"`
}

func (t *transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	var params connectParameters
	if err := json.Unmarshal(dtlsParameters, &params); err != nil {
		return fmt.Errorf("malformed dtls parameters: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport %s is closed", t.id)
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("transport %s already connected", t.id)
	}
	t.mu.Unlock()

	iceRole := webrtc.ICERoleControlled
	var remoteICE webrtc.ICEParameters
	if params.ICEParameters != nil {
		remoteICE = *params.ICEParameters
	}
	if err := t.ice.Start(t.gatherer, remoteICE, &iceRole); err != nil {
		return fmt.Errorf("ice start failed: %w", err)
	}

	dtlsRole := webrtc.DTLSRoleServer
	if params.Role == "server" {
		dtlsRole = webrtc.DTLSRoleClient
	}
	if err := t.dtls.Start(webrtc.DTLSParameters{Role: dtlsRole, Fingerprints: params.Fingerprints}); err != nil {
		return fmt.Errorf("dtls start failed: %w", err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *transport) Produce(ctx context.Context, kind string, rtpParameters, appData json.RawMessage) (ports.Producer, error) {
	codecType := webrtc.NewRTPCodecType(kind)
	if codecType == webrtc.RTPCodecType(0) {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	var params struct {
		Encodings []struct {
			SSRC        uint32 `json:"ssrc"`
			PayloadType uint8  `json:"payloadType"`
		} `json:"encodings"`
	}
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return nil, fmt.Errorf("malformed rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return nil, fmt.Errorf("rtp parameters carry no encodings")
	}

	receiver, err := t.router.engine.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create rtp receiver: %w", err)
	}

	recvParams := webrtc.RTPReceiveParameters{}
	for _, enc := range params.Encodings {
		recvParams.Encodings = append(recvParams.Encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(enc.SSRC),
				PayloadType: webrtc.PayloadType(enc.PayloadType),
			},
		})
	}
	if err := receiver.Receive(recvParams); err != nil {
		return nil, fmt.Errorf("rtp receive failed: %w", err)
	}

	p := &producer{
		id:        utils.GenerateProducerID(),
		kind:      kind,
		appData:   appData,
		transport: t,
		receiver:  receiver,
		ssrc:      webrtc.SSRC(params.Encodings[0].SSRC),
		consumers: make(map[string]*consumer),
	}

	t.router.mu.Lock()
	if t.router.closed {
		t.router.mu.Unlock()
		receiver.Stop()
		return nil, fmt.Errorf("router is closed")
	}
	t.router.producers[p.id] = p
	t.router.mu.Unlock()

	go p.forward()
	return p, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if p.kind == "audio" {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	local, err := webrtc.NewTrackLocalStaticRTP(codec, p.id, "huddlenet")
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	sender, err := t.router.engine.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("rtp send failed: %w", err)
	}
	paramsJSON, err := json.Marshal(sendParams)
	if err != nil {
		return nil, err
	}

	c := &consumer{
		id:            utils.GenerateConsumerID(),
		producerID:    p.id,
		kind:          p.kind,
		local:         local,
		sender:        sender,
		producer:      p,
		rtpParameters: paramsJSON,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sender.Stop()
		return nil, fmt.Errorf("producer %s is closed", producerID)
	}
	p.consumers[c.id] = c
	p.mu.Unlock()

	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.router.mu.Lock()
	delete(t.router.transports, t.id)
	t.router.mu.Unlock()

	t.teardown()
	return nil
}

func (t *transport) teardown() {
	if err := t.dtls.Stop(); err != nil {
		t.router.engine.logger.Debugw("dtls stop failed", "transport_id", t.id, "error", err)
	}
	if err := t.ice.Stop(); err != nil {
		t.router.engine.logger.Debugw("ice stop failed", "transport_id", t.id, "error", err)
	}
	if err := t.gatherer.Close(); err != nil {
		t.router.engine.logger.Debugw("gatherer close failed", "transport_id", t.id, "error", err)
	}
}

// producer is one inbound stream plus its fan-out state.
type producer struct {
	id        string
	kind      string
	appData   json.RawMessage
	transport *transport
	receiver  *webrtc.RTPReceiver
	ssrc      webrtc.SSRC

	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool
}

func (p *producer) ID() string               { return p.id }
func (p *producer) Kind() string             { return p.kind }
func (p *producer) AppData() json.RawMessage { return p.appData }

// forward pumps RTP from the publisher into every active consumer's local
// track. Runs until the receiver stops.
func (p *producer) forward() {
	track := p.receiver.Track()
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	logger := p.transport.router.engine.logger

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				logger.Warnw("producer track read failed", "producer_id", p.id, "error", err)
			}
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			logger.Warnw("rtp unmarshal failed", "producer_id", p.id, "error", err)
			continue
		}

		p.mu.Lock()
		targets := make([]*consumer, 0, len(p.consumers))
		for _, c := range p.consumers {
			if c.isActive() {
				targets = append(targets, c)
			}
		}
		p.mu.Unlock()

		for _, c := range targets {
			if err := c.local.WriteRTP(packet); err != nil {
				logger.Debugw("rtp write failed", "consumer_id", c.id, "error", err)
			}
		}
	}
}

// requestKeyframe asks the publisher for a fresh keyframe so a newly resumed
// consumer does not wait out a full GOP of grey video.
func (p *producer) requestKeyframe() {
	if p.kind != "video" {
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(p.ssrc)}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		p.transport.router.engine.logger.Debugw("pli send failed", "producer_id", p.id, "error", err)
	}
}

func (p *producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]*consumer)
	p.mu.Unlock()

	p.transport.router.mu.Lock()
	delete(p.transport.router.producers, p.id)
	p.transport.router.mu.Unlock()

	if err := p.receiver.Stop(); err != nil {
		p.transport.router.engine.logger.Debugw("receiver stop failed", "producer_id", p.id, "error", err)
	}
	for _, c := range consumers {
		c.producerClosed()
	}
	return nil
}

// consumer is one outbound subscription. It starts paused; the forwarding
// loop skips it until Resume flips the gate.
type consumer struct {
	id            string
	producerID    string
	kind          string
	local         *webrtc.TrackLocalStaticRTP
	sender        *webrtc.RTPSender
	producer      *producer
	rtpParameters json.RawMessage

	mu      sync.Mutex
	active  bool
	closed  bool
	onClose func()
}

func (c *consumer) ID() string                     { return c.id }
func (c *consumer) ProducerID() string             { return c.producerID }
func (c *consumer) Kind() string                   { return c.kind }
func (c *consumer) RTPParameters() json.RawMessage { return c.rtpParameters }

func (c *consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s is closed", c.id)
	}
	c.active = true
	c.mu.Unlock()

	c.producer.requestKeyframe()
	return nil
}

func (c *consumer) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && !c.closed
}

func (c *consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// producerClosed runs on the producer's close path.
func (c *consumer) producerClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()

	c.sender.Stop()
	if fn != nil {
		fn()
	}
}

func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.mu.Lock()
	delete(c.producer.consumers, c.id)
	c.producer.mu.Unlock()

	return c.sender.Stop()
}
