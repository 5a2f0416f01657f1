package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/store"
)

type fakeAuth map[string]string

func (a fakeAuth) Resolve(_ context.Context, credential string) (string, error) {
	userID, ok := a[credential]
	if !ok {
		return "", store.ErrUnknownUser
	}
	return userID, nil
}

// fakeTransport satisfies Transport. ReadMessage blocks until frames are fed
// or the transport closes; writeGate, when set, stalls every write.
type fakeTransport struct {
	readCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	writeGate chan struct{}

	mu     sync.Mutex
	frames [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		readCh: make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-t.readCh:
		return websocket.TextMessage, data, nil
	case <-t.closed:
		return 0, nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if t.writeGate != nil {
		select {
		case <-t.writeGate:
		case <-t.closed:
			return errors.New("transport closed")
		}
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	t.mu.Lock()
	t.frames = append(t.frames, data)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) SetWriteDeadline(time.Time) error  { return nil }
func (t *fakeTransport) SetReadDeadline(time.Time) error   { return nil }
func (t *fakeTransport) SetPongHandler(func(string) error) {}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

type recordHandler struct {
	mu       sync.Mutex
	messages [][]byte
	closes   int
}

func (h *recordHandler) HandleMessage(_ *Client, data []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, data)
	h.mu.Unlock()
}

func (h *recordHandler) HandleClose(*Client) {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
}

func (h *recordHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func TestAuthenticateBindsSession(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1"}, Config{})
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})
	defer reg.Unregister(client.ID())

	_, ok := client.Session()
	assert.False(t, ok)

	session, err := reg.Authenticate(t.Context(), client.ID(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)

	bound, ok := client.Session()
	require.True(t, ok)
	assert.Equal(t, "u1", bound.UserID)
	assert.Equal(t, 1, reg.Stats().Authenticated)
}

func TestAuthenticateRejectsUnknownCredential(t *testing.T) {
	reg := New(fakeAuth{}, Config{})
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})
	defer reg.Unregister(client.ID())

	_, err := reg.Authenticate(t.Context(), client.ID(), "nobody")
	assert.ErrorIs(t, err, store.ErrUnknownUser)

	_, ok := client.Session()
	assert.False(t, ok)
}

func TestAuthenticateFailsAfterUnregister(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1"}, Config{})
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})
	reg.Unregister(client.ID())

	// a close racing the authenticate is not an unknown user
	_, err := reg.Authenticate(t.Context(), client.ID(), "cred-1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestReauthenticateRebindsUserIndex(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1", "cred-2": "u2"}, Config{})
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})
	defer reg.Unregister(client.ID())

	_, err := reg.Authenticate(t.Context(), client.ID(), "cred-1")
	require.NoError(t, err)
	_, err = reg.Authenticate(t.Context(), client.ID(), "cred-2")
	require.NoError(t, err)

	reg.SendToUser("u1", map[string]string{"type": "x"})
	reg.SendToUser("u2", map[string]string{"type": "y"})

	require.Eventually(t, func() bool {
		return transport.received() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendToUserReachesEveryTab(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1"}, Config{})
	first := newFakeTransport()
	second := newFakeTransport()
	c1 := reg.Register(first, &recordHandler{})
	c2 := reg.Register(second, &recordHandler{})
	defer reg.Unregister(c1.ID())
	defer reg.Unregister(c2.ID())

	_, err := reg.Authenticate(t.Context(), c1.ID(), "cred-1")
	require.NoError(t, err)
	_, err = reg.Authenticate(t.Context(), c2.ID(), "cred-1")
	require.NoError(t, err)

	reg.SendToUser("u1", map[string]string{"type": "userUpdate"})

	require.Eventually(t, func() bool {
		return first.received() == 1 && second.received() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastSkipsUnauthenticated(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1"}, Config{})
	authed := newFakeTransport()
	anon := newFakeTransport()
	c1 := reg.Register(authed, &recordHandler{})
	c2 := reg.Register(anon, &recordHandler{})
	defer reg.Unregister(c1.ID())
	defer reg.Unregister(c2.ID())

	_, err := reg.Authenticate(t.Context(), c1.ID(), "cred-1")
	require.NoError(t, err)

	reg.BroadcastAuthenticated(map[string]string{"type": "priceUpdates"})

	require.Eventually(t, func() bool {
		return authed.received() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, anon.received())
}

func TestStalledConnectionNeverBlocksBroadcast(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1", "cred-2": "u2"}, Config{SendQueueSize: 1})

	stalled := newFakeTransport()
	stalled.writeGate = make(chan struct{})
	healthy := newFakeTransport()
	c1 := reg.Register(stalled, &recordHandler{})
	c2 := reg.Register(healthy, &recordHandler{})
	defer reg.Unregister(c1.ID())
	defer reg.Unregister(c2.ID())

	_, err := reg.Authenticate(t.Context(), c1.ID(), "cred-1")
	require.NoError(t, err)
	_, err = reg.Authenticate(t.Context(), c2.ID(), "cred-2")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		reg.BroadcastAuthenticated(map[string]int{"seq": i})
	}

	// the healthy connection gets every frame while the stalled one backs up
	require.Eventually(t, func() bool {
		return healthy.received() == 5
	}, time.Second, 10*time.Millisecond)
	assert.Greater(t, reg.Stats().Dropped, uint64(0))

	close(stalled.writeGate)
}

func TestUnregisterIsIdempotentAndClosesTransport(t *testing.T) {
	reg := New(fakeAuth{"cred-1": "u1"}, Config{})
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})

	_, err := reg.Authenticate(t.Context(), client.ID(), "cred-1")
	require.NoError(t, err)

	reg.Unregister(client.ID())
	reg.Unregister(client.ID())

	assert.Zero(t, reg.Stats().Clients)
	select {
	case <-transport.closed:
	default:
		t.Fatal("transport not closed by unregister")
	}

	// frames to a gone connection are silently discarded
	reg.SendToUser("u1", map[string]string{"type": "userUpdate"})
	assert.Zero(t, transport.received())
}

func TestReadPumpDispatchesFramesAndReportsClose(t *testing.T) {
	reg := New(fakeAuth{}, Config{})
	transport := newFakeTransport()
	handler := &recordHandler{}
	reg.Register(transport, handler)

	transport.readCh <- []byte(`{"type":"heartbeat"}`)
	transport.readCh <- []byte(`{"type":"heartbeat"}`)

	require.Eventually(t, func() bool {
		return handler.messageCount() == 2
	}, time.Second, 10*time.Millisecond)

	transport.Close()
	require.Eventually(t, func() bool {
		return handler.closeCount() == 1 && reg.Stats().Clients == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEvictStaleDropsSilentConnections(t *testing.T) {
	cfg := Config{KeepaliveInterval: time.Minute, KeepaliveGrace: 2 * time.Minute}
	reg := New(fakeAuth{}, cfg)
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})

	reg.evictStale(time.Now())
	assert.Equal(t, 1, reg.Stats().Clients)

	reg.evictStale(time.Now().Add(3 * time.Minute))
	assert.Zero(t, reg.Stats().Clients)
	assert.Equal(t, uint64(1), reg.Stats().Evicted)

	_ = client
}

func TestTouchDefersEviction(t *testing.T) {
	cfg := Config{KeepaliveInterval: time.Minute, KeepaliveGrace: 2 * time.Minute}
	reg := New(fakeAuth{}, cfg)
	transport := newFakeTransport()
	client := reg.Register(transport, &recordHandler{})
	defer reg.Unregister(client.ID())

	// a protocol heartbeat counts as liveness even without transport pongs
	reg.Touch(client.ID())
	reg.evictStale(time.Now().Add(time.Minute))
	assert.Equal(t, 1, reg.Stats().Clients)
}
