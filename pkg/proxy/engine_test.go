package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     chan LocalMessage
	closed   bool
	syncResp []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan LocalMessage, 8)}
}

func (c *fakeConn) ForwardAsync(context.Context, []byte) error { return nil }

func (c *fakeConn) ForwardSync(context.Context, []byte, time.Duration) ([]byte, error) {
	return c.syncResp, nil
}

func (c *fakeConn) Messages() <-chan LocalMessage { return c.msgs }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.msgs)
	}
	return nil
}

type fakeOutbound struct {
	mu  sync.Mutex
	out []struct {
		node string
		env  *Envelope
	}
}

func (o *fakeOutbound) SendToNode(node string, env *Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.out = append(o.out, struct {
		node string
		env  *Envelope
	}{node, env})
	return nil
}

func (o *fakeOutbound) last() (string, *Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.out) == 0 {
		return "", nil
	}
	last := o.out[len(o.out)-1]
	return last.node, last.env
}

func (o *fakeOutbound) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.out)
}

// TestProxyRelay: session S open to channel C; remote sends a proxied
// request(msg_id=7); the local service answers with a proxied-relay-response
// buffer; exactly one response(msg_id=7) is relayed and last_request_id is
// cleared.
func TestProxyRelay(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", func(string) (LocalConn, error) { return conn, nil }, out)

	mux.HandleEnvelope("remote1", &Envelope{Op: OpNew, SessionID: "S", Channel: "C"})

	mux.HandleEnvelope("remote1", &Envelope{
		Op:        OpRequest,
		SessionID: "S",
		MsgID:     7,
		Flags:     uint32(FlagProxied),
		Payload:   []byte("do-thing"),
	})

	sess, ok := mux.Session("S")
	require.True(t, ok)
	assert.Equal(t, uint64(7), sess.LastRequestID)

	conn.msgs <- LocalMessage{Payload: []byte("result"), Flags: uint32(FlagProxiedRelayResponse)}

	require.Eventually(t, func() bool {
		_, env := out.last()
		return env != nil && env.Op == OpResponse && env.MsgID == 7
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		sess, ok := mux.Session("S")
		return ok && sess.LastRequestID == 0
	}, time.Second, 5*time.Millisecond)

	node, env := out.last()
	assert.Equal(t, "remote1", node)
	assert.Equal(t, []byte("result"), env.Payload)
}

func TestLocalShortcutSessionRejectsRequests(t *testing.T) {
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", func(string) (LocalConn, error) { return newFakeConn(), nil }, out)

	mux.HandleEnvelope("remote1", &Envelope{Op: OpNew, SessionID: "S2", Channel: "controller"})
	mux.HandleEnvelope("remote1", &Envelope{Op: OpRequest, SessionID: "S2", MsgID: 1})

	node, env := out.last()
	assert.Equal(t, "remote1", node)
	assert.Equal(t, OpDestroy, env.Op)

	_, ok := mux.Session("S2")
	assert.False(t, ok)
}

func TestRequestForUnknownSessionEmitsDestroy(t *testing.T) {
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", nil, out)

	mux.HandleEnvelope("remote1", &Envelope{Op: OpRequest, SessionID: "ghost", MsgID: 1})

	node, env := out.last()
	assert.Equal(t, "remote1", node)
	assert.Equal(t, OpDestroy, env.Op)
}

func TestLocalDisconnectNotifiesRemoteAndDropsSession(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", func(string) (LocalConn, error) { return conn, nil }, out)

	mux.HandleEnvelope("remote1", &Envelope{Op: OpNew, SessionID: "S3", Channel: "C"})
	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := mux.Session("S3")
		return !ok
	}, time.Second, 5*time.Millisecond)

	node, env := out.last()
	assert.Equal(t, "remote1", node)
	assert.Equal(t, OpDestroy, env.Op)
	assert.True(t, out.count() >= 1)
}

func TestNewLocalSessionAllocatesAndAnnouncesOpNew(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", func(string) (LocalConn, error) { return conn, nil }, out)

	sessionID, err := mux.NewLocalSession("remote1", "C")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	sess, ok := mux.Session(sessionID)
	require.True(t, ok)
	assert.True(t, sess.Connected)
	assert.Equal(t, "remote1", sess.NodeName)

	node, env := out.last()
	assert.Equal(t, "remote1", node)
	assert.Equal(t, OpNew, env.Op)
	assert.Equal(t, sessionID, env.SessionID)
}

func TestShutdownRequestHonorsPolicy(t *testing.T) {
	out := &fakeOutbound{}
	mux := NewMultiplexer("controller", nil, out)

	mux.HandleShutdownRequest("remote1", func(string) bool { return false })
	_, env := out.last()
	assert.Equal(t, OpShutdownNack, env.Op)

	mux.HandleShutdownRequest("remote1", AlwaysAccept)
	_, env = out.last()
	assert.Equal(t, OpShutdownAck, env.Op)
}
