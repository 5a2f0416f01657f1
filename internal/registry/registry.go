package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/store"
)

// ErrUnknownConnection marks an operation against a connection id that is no
// longer registered, e.g. a close racing an authenticate.
var ErrUnknownConnection = errors.New("registry: unknown connection")

// MessageHandler consumes inbound frames from registered connections.
type MessageHandler interface {
	HandleMessage(client *Client, data []byte)
	HandleClose(client *Client)
}

// Config tunes liveness and fan-out buffering.
type Config struct {
	// KeepaliveInterval is the ping period per connection.
	KeepaliveInterval time.Duration
	// KeepaliveGrace is how long a connection may stay silent before eviction.
	KeepaliveGrace time.Duration
	// SendQueueSize is the per-connection outbound buffer.
	SendQueueSize int
	// WriteWait bounds a single transport write.
	WriteWait time.Duration
}

func (c *Config) init() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.KeepaliveGrace <= 0 {
		c.KeepaliveGrace = 3 * c.KeepaliveInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
}

// Stats is a point-in-time registry snapshot.
type Stats struct {
	Clients       int
	Authenticated int
	Dropped       uint64
	Evicted       uint64
}

// Registry tracks every live connection and its identity, and delivers
// targeted and broadcast messages without blocking on any single connection.
type Registry struct {
	auth store.Authenticator
	cfg  Config

	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client

	dropped atomic.Uint64
	evicted atomic.Uint64
}

func New(auth store.Authenticator, cfg Config) *Registry {
	cfg.init()
	return &Registry{
		auth:    auth,
		cfg:     cfg,
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
	}
}

// Register admits an unauthenticated connection and starts its pumps.
func (r *Registry) Register(conn Transport, handler MessageHandler) *Client {
	client := &Client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, r.cfg.SendQueueSize),
		done:      make(chan struct{}),
		writeWait: r.cfg.WriteWait,
		pingEvery: r.cfg.KeepaliveInterval,
	}
	client.touch(time.Now())

	conn.SetPongHandler(func(string) error {
		client.touch(time.Now())
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.KeepaliveGrace))
		return nil
	})

	r.mu.Lock()
	r.clients[client.id] = client
	r.mu.Unlock()

	go client.writePump()
	go r.readPump(client, handler)

	return client
}

// Authenticate resolves the credential and binds the session to the
// connection. Re-authenticating replaces the binding.
func (r *Registry) Authenticate(ctx context.Context, id, credential string) (Session, error) {
	userID, err := r.auth.Resolve(ctx, credential)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	if !ok {
		return Session{}, ErrUnknownConnection
	}

	if prev := client.session.Load(); prev != nil {
		r.unindexLocked(prev.UserID, id)
	}

	session := Session{UserID: userID}
	client.session.Store(&session)

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Client)
	}
	r.byUser[userID][id] = client

	return session, nil
}

// Touch resets liveness for a connection, e.g. on a protocol heartbeat.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	client, ok := r.clients[id]
	r.mu.RUnlock()
	if ok {
		client.touch(time.Now())
	}
}

// Send delivers to one connection, best effort.
func (r *Registry) Send(id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Errorf("registry: marshal message, err: %+v", err)
		return
	}

	r.mu.RLock()
	client, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if !client.enqueue(data) {
		r.dropped.Add(1)
	}
}

// SendToUser delivers to every connection bound to the user (multi-tab).
func (r *Registry) SendToUser(userID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Errorf("registry: marshal message, err: %+v", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.byUser[userID]))
	for _, client := range r.byUser[userID] {
		targets = append(targets, client)
	}
	r.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(data) {
			r.dropped.Add(1)
		}
	}
}

// BroadcastAuthenticated delivers to every connection with a bound session.
// A backlogged connection drops the frame; the rest receive it immediately.
func (r *Registry) BroadcastAuthenticated(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Errorf("registry: marshal broadcast, err: %+v", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if _, ok := client.Session(); ok {
			targets = append(targets, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(data) {
			r.dropped.Add(1)
		}
	}
}

// Unregister releases all registry state for a connection. Idempotent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	client, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		if session := client.session.Load(); session != nil {
			r.unindexLocked(session.UserID, id)
		}
	}
	r.mu.Unlock()

	if ok {
		client.close()
	}
}

// Run evicts dead connections until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.evictStale(now)
		}
	}
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	stats := Stats{Clients: len(r.clients)}
	for _, client := range r.clients {
		if _, ok := client.Session(); ok {
			stats.Authenticated++
		}
	}
	r.mu.RUnlock()

	stats.Dropped = r.dropped.Load()
	stats.Evicted = r.evicted.Load()
	return stats
}

func (r *Registry) evictStale(now time.Time) {
	r.mu.RLock()
	stale := make([]*Client, 0)
	for _, client := range r.clients {
		if now.Sub(client.seen()) > r.cfg.KeepaliveGrace {
			stale = append(stale, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range stale {
		logs.Infof("registry: evicting silent connection %s", client.id)
		r.evicted.Add(1)
		r.Unregister(client.id)
	}
}

func (r *Registry) readPump(client *Client, handler MessageHandler) {
	defer func() {
		r.Unregister(client.id)
		handler.HandleClose(client)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(r.cfg.KeepaliveGrace))

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.touch(time.Now())
		_ = client.conn.SetReadDeadline(time.Now().Add(r.cfg.KeepaliveGrace))
		handler.HandleMessage(client, data)
	}
}

// unindexLocked removes one connection from the user index. Caller holds mu.
func (r *Registry) unindexLocked(userID, id string) {
	conns := r.byUser[userID]
	if conns == nil {
		return
	}
	delete(conns, id)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
}
