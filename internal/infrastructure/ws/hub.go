// Package ws streams opportunities and book events to monitoring clients over
// websocket, with per-topic replay buffers.
package ws

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message wraps a WebSocket payload with sequencing for replay.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

// add appends a message, overwriting old entries when full.
func (r *ringBuffer) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// getSince returns messages with Seq > since.
func (r *ringBuffer) getSince(since uint64) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// Client represents a single WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	hub  *Hub

	subMu         sync.RWMutex
	subscriptions map[string]struct{}

	sendMu sync.Mutex
	closed bool
}

// enqueue hands msg to the write pump without blocking. It reports false
// when the buffer is full or the client is closed.
func (c *Client) enqueue(msg Message) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close ends the write pump, which sends a close frame and drops the
// connection. Safe to call more than once.
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) subscribed(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Hub fans messages out to subscribed clients. Clients are sharded by id so
// registration and broadcast contend on small locks.
type Hub struct {
	shards     []*hubShard
	shardCount uint32
	replaySize int

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	buffers map[string]*ringBuffer
	bufMu   sync.Mutex
	seqMu   sync.Mutex
	nextSeq uint64

	upgrader websocket.Upgrader
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type hubShard struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a Hub with given shard count and replay buffer size per topic.
func NewHub(shardCount, replaySize int, logger *zap.Logger) *Hub {
	if shardCount <= 0 {
		shardCount = 1
	}
	if replaySize <= 0 {
		replaySize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		shards:     make([]*hubShard, shardCount),
		shardCount: uint32(shardCount),
		replaySize: replaySize,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan Message, 4096),
		buffers:    make(map[string]*ringBuffer),
		nextSeq:    1,
		logger:     logger.Named("ws"),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{clients: make(map[*Client]struct{})}
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			sh := h.shardFor(c.id)
			sh.mu.Lock()
			sh.clients[c] = struct{}{}
			sh.mu.Unlock()
			metrics.WSConnections.Inc()
			h.logger.Debug("client registered", zap.String("client_id", c.id))
		case c := <-h.unregister:
			sh := h.shardFor(c.id)
			sh.mu.Lock()
			if _, ok := sh.clients[c]; ok {
				delete(sh.clients, c)
				c.close()
				metrics.WSConnections.Dec()
			}
			sh.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", c.id))
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) buffer(topic string) *ringBuffer {
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	buf, ok := h.buffers[topic]
	if !ok {
		buf = newRingBuffer(h.replaySize)
		h.buffers[topic] = buf
	}
	return buf
}

func (h *Hub) handleBroadcast(msg Message) {
	h.buffer(msg.Topic).add(msg)
	for _, sh := range h.shards {
		sh.mu.RLock()
		for c := range sh.clients {
			if !c.subscribed(msg.Topic) {
				continue
			}
			if !c.enqueue(msg) {
				h.logger.Warn("dropping message for slow client",
					zap.String("client_id", c.id),
					zap.String("topic", msg.Topic))
			}
		}
		sh.mu.RUnlock()
	}
	metrics.WSMessages.WithLabelValues(msg.Topic).Inc()
}

func (h *Hub) shardFor(key string) *hubShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return h.shards[hasher.Sum32()%h.shardCount]
}

// ServeWS upgrades HTTP to WS and registers the client under given clientID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		id:            clientID,
		conn:          conn,
		send:          make(chan Message, 256),
		subscriptions: make(map[string]struct{}),
		hub:           h,
	}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Broadcast publishes a message to a topic for all subscribed clients.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.seqMu.Lock()
	seq := h.nextSeq
	h.nextSeq++
	h.seqMu.Unlock()
	select {
	case h.broadcast <- Message{Topic: topic, Seq: seq, Data: data}:
	case <-h.ctx.Done():
	}
}

// Publish marshals msg as JSON and broadcasts it, so the hub can stand in
// wherever a pub/sub publisher is expected.
func (h *Hub) Publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

// Replay returns buffered messages for topic since the given sequence.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.bufMu.Lock()
	buf, ok := h.buffers[topic]
	h.bufMu.Unlock()
	if !ok {
		return nil
	}
	return buf.getSince(since)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	n := 0
	for _, sh := range h.shards {
		sh.mu.RLock()
		n += len(sh.clients)
		sh.mu.RUnlock()
	}
	return n
}

type subscription struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
	Since       uint64   `json:"since"`
}

// readPump handles control frames and {"subscribe":[...], "since": n}
// requests. Subscribing replays buffered messages newer than since.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscription
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.subMu.Lock()
		for _, topic := range req.Subscribe {
			c.subscriptions[topic] = struct{}{}
		}
		for _, topic := range req.Unsubscribe {
			delete(c.subscriptions, topic)
		}
		c.subMu.Unlock()
		for _, topic := range req.Subscribe {
			for _, m := range c.hub.Replay(topic, req.Since) {
				c.enqueue(m)
			}
		}
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown stops the hub loop and closes every client's send channel; each
// write pump then sends a close frame and drops its connection.
func (h *Hub) Shutdown() error {
	h.logger.Info("shutting down websocket hub")
	h.cancel()
	h.wg.Wait()
	for _, sh := range h.shards {
		sh.mu.Lock()
		for c := range sh.clients {
			delete(sh.clients, c)
			c.close()
			metrics.WSConnections.Dec()
		}
		sh.mu.Unlock()
	}
	return nil
}
