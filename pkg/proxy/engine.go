package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/attrd-core/pkg/log"
	"github.com/cuemby/attrd-core/pkg/types"
)

// LocalMessage is a spontaneous push from a local service toward the remote
// side of a session.
type LocalMessage struct {
	Payload []byte
	Flags   uint32
}

// LocalConn is the local IPC connection handle a session holds. The proxy
// package does not implement the local transport itself; callers supply a
// LocalConn per channel via Dialer.
type LocalConn interface {
	// ForwardAsync sends payload to the local service without waiting for a
	// reply; any reply arrives later on Messages.
	ForwardAsync(ctx context.Context, payload []byte) error

	// ForwardSync sends payload and blocks for a reply up to timeout.
	ForwardSync(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error)

	// Messages delivers spontaneous pushes from the local service until the
	// connection closes, at which point the channel is closed.
	Messages() <-chan LocalMessage

	Close() error
}

// Dialer opens a LocalConn for the given channel name.
type Dialer func(channel string) (LocalConn, error)

// OutboundSender delivers an Envelope to the remote node that owns a
// session, over whatever transport the caller wires up (see WSTransport).
type OutboundSender interface {
	SendToNode(node string, env *Envelope) error
}

// SyncForwardTimeout is the fixed timeout for a non-proxied synchronous
// forward.
const SyncForwardTimeout = 10 * time.Second

// Multiplexer maintains the session table and drives the session state
// machine: local-initiated and remote-initiated session creation, request
// relay in both proxied and synchronous modes, and teardown from either
// side.
type Multiplexer struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	dial     Dialer
	outbound OutboundSender
	selfName string
}

type sessionState struct {
	types.ProxySession
	conn LocalConn
}

// NewMultiplexer constructs a proxy Multiplexer. selfName is the
// controller's own service name, used to detect local-shortcut sessions.
func NewMultiplexer(selfName string, dial Dialer, outbound OutboundSender) *Multiplexer {
	return &Multiplexer{
		sessions: make(map[string]*sessionState),
		dial:     dial,
		outbound: outbound,
		selfName: selfName,
	}
}

// SetOutbound rebinds the transport used to deliver envelopes to remote
// nodes, letting a caller construct the Multiplexer and its transport in
// either order when the two have a circular dependency (e.g. WSTransport
// needs the Multiplexer to route inbound frames into).
func (m *Multiplexer) SetOutbound(outbound OutboundSender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound = outbound
}

// HandleEnvelope dispatches one inbound Envelope from the remote node named
// origin.
func (m *Multiplexer) HandleEnvelope(origin string, env *Envelope) {
	switch env.Op {
	case OpNew:
		m.handleNew(origin, env)
	case OpRequest:
		m.handleRequest(origin, env)
	case OpDestroy:
		m.handleRemoteDestroy(env)
	}
}

// NewLocalSession opens a session initiated from this node toward a local
// service, tunneled to a remote node: it dials the local channel eagerly (the
// local side is the caller here, unlike handleNew's remote-initiated path),
// allocates a fresh session id, and announces it to the remote with OpNew.
func (m *Multiplexer) NewLocalSession(node, channel string) (string, error) {
	conn, err := m.dial(channel)
	if err != nil {
		return "", fmt.Errorf("dial local channel %q: %w", channel, err)
	}

	sessionID := uuid.NewString()
	sess := &sessionState{
		ProxySession: types.ProxySession{
			SessionID: sessionID,
			NodeName:  node,
			Channel:   channel,
			CreatedAt: time.Now(),
			Connected: true,
		},
		conn: conn,
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	go m.pumpLocalMessages(sess)
	m.send(node, &Envelope{Op: OpNew, SessionID: sessionID, Channel: channel, NodeName: m.selfName})

	return sessionID, nil
}

func (m *Multiplexer) handleNew(origin string, env *Envelope) {
	logger := log.WithSession(env.SessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[env.SessionID]; exists {
		return
	}

	sess := &sessionState{ProxySession: types.ProxySession{
		SessionID:       env.SessionID,
		NodeName:        origin,
		Channel:         env.Channel,
		CreatedAt:       time.Now(),
		IsLocalShortcut: env.Channel == m.selfName,
	}}

	if !sess.IsLocalShortcut {
		conn, err := m.dial(env.Channel)
		if err != nil {
			logger.Warn().Err(err).Str("channel", env.Channel).Msg("failed to open local connection for new session")
			return
		}
		sess.conn = conn
		sess.Connected = true
		go m.pumpLocalMessages(sess)
	}

	m.sessions[env.SessionID] = sess
	logger.Info().Str("channel", env.Channel).Bool("local_shortcut", sess.IsLocalShortcut).Msg("session created")
}

// handleRequest implements the incoming-request branch of the session
// machine.
func (m *Multiplexer) handleRequest(origin string, env *Envelope) {
	logger := log.WithSession(env.SessionID)

	m.mu.Lock()
	sess, ok := m.sessions[env.SessionID]
	m.mu.Unlock()

	if !ok {
		m.send(origin, &Envelope{Op: OpDestroy, SessionID: env.SessionID})
		return
	}

	if sess.IsLocalShortcut {
		m.send(origin, &Envelope{Op: OpDestroy, SessionID: env.SessionID})
		m.destroy(env.SessionID, false)
		return
	}

	if !sess.Connected {
		m.destroy(env.SessionID, true)
		return
	}

	proxied := FlagProxied.Has(env.Flags)

	if proxied {
		m.mu.Lock()
		sess.LastRequestID = env.MsgID
		m.mu.Unlock()

		ctx := context.Background()
		if err := sess.conn.ForwardAsync(ctx, env.Payload); err != nil {
			logger.Warn().Err(err).Msg("async forward failed, synthesizing negative ack")
			m.mu.Lock()
			sess.LastRequestID = 0
			m.mu.Unlock()
			m.send(origin, &Envelope{
				Op:        OpResponse,
				SessionID: env.SessionID,
				MsgID:     env.MsgID,
				Payload:   []byte(`{"ok":false,"error":"forward failed"}`),
			})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), SyncForwardTimeout)
	defer cancel()
	reply, err := sess.conn.ForwardSync(ctx, env.Payload, SyncForwardTimeout)
	if err != nil {
		logger.Warn().Err(err).Msg("synchronous forward failed")
		return
	}
	if reply != nil {
		m.send(origin, &Envelope{Op: OpResponse, SessionID: env.SessionID, MsgID: env.MsgID, Payload: reply})
	}
}

func (m *Multiplexer) handleRemoteDestroy(env *Envelope) {
	m.destroy(env.SessionID, false)
}

// pumpLocalMessages relays spontaneous local-service pushes, applying the
// proxied-relay-response vs. event distinction.
func (m *Multiplexer) pumpLocalMessages(sess *sessionState) {
	for msg := range sess.conn.Messages() {
		m.mu.Lock()
		relay := FlagProxiedRelayResponse.Has(msg.Flags) && sess.LastRequestID != 0
		var msgID uint64
		if relay {
			msgID = sess.LastRequestID
			sess.LastRequestID = 0
		}
		node := sess.NodeName
		sessionID := sess.SessionID
		m.mu.Unlock()

		if relay {
			m.send(node, &Envelope{Op: OpResponse, SessionID: sessionID, MsgID: msgID, Payload: msg.Payload})
		} else {
			m.send(node, &Envelope{Op: OpEvent, SessionID: sessionID, Payload: msg.Payload})
		}
	}

	// Local service disconnected.
	m.onLocalDisconnect(sess.SessionID)
}

// onLocalDisconnect handles the local service disconnecting: null the
// connection, notify the remote, drop the session.
func (m *Multiplexer) onLocalDisconnect(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.Connected = false
		sess.conn = nil
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.send(sess.NodeName, &Envelope{Op: OpDestroy, SessionID: sessionID})
	m.destroy(sessionID, false)
}

// destroy removes a session from the table, optionally notifying the remote
// first (used when this side initiates teardown rather than reacting to a
// remote destroy).
func (m *Multiplexer) destroy(sessionID string, notify bool) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if sess.conn != nil {
		_ = sess.conn.Close()
	}
	if notify {
		m.send(sess.NodeName, &Envelope{Op: OpDestroy, SessionID: sessionID})
	}
}

func (m *Multiplexer) send(node string, env *Envelope) {
	if m.outbound == nil {
		return
	}
	_ = m.outbound.SendToNode(node, env)
}

// Session returns a snapshot of one tracked session.
func (m *Multiplexer) Session(sessionID string) (types.ProxySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return types.ProxySession{}, false
	}
	return sess.ProxySession, true
}

// SessionIDs returns every tracked session id.
func (m *Multiplexer) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
