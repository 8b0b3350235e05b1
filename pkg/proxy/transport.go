package proxy

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/attrd-core/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSTransport carries Envelope traffic between this node and its remote
// peers over one gorilla/websocket connection per peer, implementing
// OutboundSender for the Multiplexer.
type WSTransport struct {
	mux *Multiplexer

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// NewWSTransport constructs a transport bound to mux, which must be non-nil.
// The reverse binding, the Multiplexer's outbound sender, is set afterwards
// with Multiplexer.SetOutbound.
func NewWSTransport(mux *Multiplexer) *WSTransport {
	return &WSTransport{mux: mux, conns: make(map[string]*websocket.Conn)}
}

// ServeHTTP upgrades an inbound connection from a remote node and pumps its
// Envelope traffic into the Multiplexer until it closes.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	logger := log.WithSession("transport")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	t.registerConn(node, conn)
	defer t.dropConn(node, conn)

	t.readLoop(node, conn)
}

// Dial opens an outbound connection to a remote node's proxy endpoint,
// registering it the same way an inbound accept would.
func (t *WSTransport) Dial(node, url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	t.registerConn(node, conn)
	go func() {
		defer t.dropConn(node, conn)
		t.readLoop(node, conn)
	}()
	return nil
}

func (t *WSTransport) registerConn(node string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[node] = conn
}

func (t *WSTransport) dropConn(node string, conn *websocket.Conn) {
	t.mu.Lock()
	if t.conns[node] == conn {
		delete(t.conns, node)
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *WSTransport) readLoop(node string, conn *websocket.Conn) {
	logger := log.WithSession("transport")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Str("node", node).Err(err).Msg("peer connection closed")
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		t.mux.HandleEnvelope(node, &env)
	}
}

// SendToNode implements OutboundSender.
func (t *WSTransport) SendToNode(node string, env *Envelope) error {
	t.mu.RLock()
	conn := t.conns[node]
	t.mu.RUnlock()
	if conn == nil {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
