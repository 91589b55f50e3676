// Package mediatest provides an in-memory media engine for tests. It hands
// out deterministic ids, honors the paused-consumer contract, and fires
// producer-close callbacks synchronously so tests observe cascades without
// sleeping.
package mediatest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"huddlenet/internal/core/ports"
)

var defaultCaps = json.RawMessage(`{"codecs":[{"mimeType":"video/VP8"},{"mimeType":"audio/opus"}]}`)

// Engine implements ports.MediaEngine. The Fail* fields inject errors into
// the next matching call; CanConsumeFn overrides the default always-yes
// capability check.
type Engine struct {
	mu   sync.Mutex
	seq  int
	cons map[string][]*Consumer // producer id -> subscribed consumers

	FailCreateRouter    error
	FailCreateTransport error
	FailConnect         error
	FailProduce         error
	FailConsume         error
	CanConsumeFn        func(producerID string, rtpCapabilities json.RawMessage) bool

	Routers []*Router
}

func NewEngine() *Engine {
	return &Engine{cons: make(map[string][]*Consumer)}
}

func (e *Engine) nextID(kind string) string {
	e.seq++
	return fmt.Sprintf("%s_%d", kind, e.seq)
}

func (e *Engine) CreateRouter(ctx context.Context) (ports.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreateRouter != nil {
		return nil, e.FailCreateRouter
	}
	r := &Router{engine: e, id: e.nextID("router")}
	e.Routers = append(e.Routers, r)
	return r, nil
}

// Router implements ports.Router.
type Router struct {
	engine *Engine
	id     string
	Closed bool
}

func (r *Router) RTPCapabilities() json.RawMessage { return defaultCaps }

func (r *Router) CreateTransport(ctx context.Context) (ports.Transport, error) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if r.engine.FailCreateTransport != nil {
		return nil, r.engine.FailCreateTransport
	}
	return &Transport{engine: r.engine, id: r.engine.nextID("transport")}, nil
}

func (r *Router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	r.engine.mu.Lock()
	fn := r.engine.CanConsumeFn
	r.engine.mu.Unlock()
	if fn != nil {
		return fn(producerID, rtpCapabilities)
	}
	return true
}

func (r *Router) Close() error {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.Closed = true
	return nil
}

// Transport implements ports.Transport.
type Transport struct {
	engine    *Engine
	id        string
	Connected bool
	Closed    bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) ICEParameters() json.RawMessage {
	return json.RawMessage(`{"usernameFragment":"uf","password":"pw"}`)
}

func (t *Transport) ICECandidates() json.RawMessage {
	return json.RawMessage(`[{"ip":"127.0.0.1","port":40000}]`)
}

func (t *Transport) DTLSParameters() json.RawMessage {
	return json.RawMessage(`{"role":"auto","fingerprints":[]}`)
}

func (t *Transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if t.engine.FailConnect != nil {
		return t.engine.FailConnect
	}
	t.Connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind string, rtpParameters, appData json.RawMessage) (ports.Producer, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if t.engine.FailProduce != nil {
		return nil, t.engine.FailProduce
	}
	return &Producer{engine: t.engine, id: t.engine.nextID("producer"), kind: kind, appData: appData}, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if t.engine.FailConsume != nil {
		return nil, t.engine.FailConsume
	}
	c := &Consumer{
		engine:     t.engine,
		id:         t.engine.nextID("consumer"),
		producerID: producerID,
		kind:       "video",
	}
	t.engine.cons[producerID] = append(t.engine.cons[producerID], c)
	return c, nil
}

func (t *Transport) Close() error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	t.Closed = true
	return nil
}

// Producer implements ports.Producer. Close fires the producer-close
// callback of every consumer subscribed to it, synchronously.
type Producer struct {
	engine  *Engine
	id      string
	kind    string
	appData json.RawMessage
	Closed  bool
}

func (p *Producer) ID() string               { return p.id }
func (p *Producer) Kind() string             { return p.kind }
func (p *Producer) AppData() json.RawMessage { return p.appData }

func (p *Producer) Close() error {
	p.engine.mu.Lock()
	p.Closed = true
	subs := p.engine.cons[p.id]
	delete(p.engine.cons, p.id)
	p.engine.mu.Unlock()

	for _, c := range subs {
		c.fireProducerClose()
	}
	return nil
}

// Consumer implements ports.Consumer.
type Consumer struct {
	engine     *Engine
	id         string
	producerID string
	kind       string

	mu      sync.Mutex
	onClose func()
	Resumed bool
	Closed  bool
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() string       { return c.kind }

func (c *Consumer) RTPParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[],"encodings":[]}`)
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resumed = true
	return nil
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *Consumer) fireProducerClose() {
	c.mu.Lock()
	fn := c.onClose
	c.Closed = true
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}
