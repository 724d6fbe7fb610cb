// Package statusapi exposes an operational HTTP+WebSocket endpoint: a JSON
// snapshot of worker lifecycle state and a push channel that streams
// transition events as they happen, so an operator's browser or `wscat`
// session can watch games start and finish live. Subscriber fan-out uses a
// send-channel-per-client registry with ping/pong keepalive; /status and
// /ws/status optionally require a bearer token checked against
// internal/auth's HMAC verifier.
package statusapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/herohde/chessbot/internal/auth"
	"github.com/herohde/chessbot/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // operator-facing, not browser-exposed to third parties
}

// Event is one worker lifecycle transition pushed to /ws/status subscribers.
type Event struct {
	Type      string    `json:"type"` // "gameStart", "gameFinish", "stateChange"
	GameID    string    `json:"gameId"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshotter reports the current set of active games for the /status route.
type Snapshotter interface {
	Snapshot() []GameSnapshot
}

// GameSnapshot is one active game's status, polled for the JSON endpoint.
type GameSnapshot struct {
	GameID string `json:"gameId"`
	State  string `json:"state"`
	Color  string `json:"color,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub serves the status HTTP surface and fans lifecycle events out to
// connected WebSocket subscribers.
type Hub struct {
	logger   *logging.Logger
	snap     Snapshotter
	startAt  time.Time
	verifier *auth.HMACTokenVerifier

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub constructs a Hub. snap may be nil, in which case /status reports an
// empty game list.
func NewHub(snap Snapshotter, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	return &Hub{
		logger:  logger,
		snap:    snap,
		startAt: time.Now(),
		clients: make(map[*wsClient]struct{}),
	}
}

// SetAuth requires a valid bearer token, signed by verifier, on /status and
// /ws/status; /healthz remains open for load-balancer probes. nil disables
// the check (the default), matching an operator deployment with no exposed
// network path to the status port.
func (h *Hub) SetAuth(verifier *auth.HMACTokenVerifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verifier = verifier
}

// Handler builds the mux serving /healthz, /status, and /ws/status.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/status", h.requireAuth(h.handleStatus))
	mux.HandleFunc("/ws/status", h.requireAuth(h.handleWS))
	return logging.HTTPTraceMiddleware(h.logger)(mux)
}

func (h *Hub) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		verifier := h.verifier
		h.mu.Unlock()
		if verifier == nil {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := verifier.Verify(token); err != nil {
			h.logger.Warn("status endpoint auth rejected", logging.ErrorFields(err)...)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Hub) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	type response struct {
		UptimeSeconds float64        `json:"uptime_seconds"`
		Games         []GameSnapshot `json:"games"`
	}
	resp := response{UptimeSeconds: time.Since(h.startAt).Seconds()}
	if h.snap != nil {
		resp.Games = h.snap.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("status websocket upgrade failed", logging.ErrorFields(err)...)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.drop(client)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.readPump(client)
	go h.writePump(client)
}

// readPump discards inbound frames (this is a push-only feed) but keeps the
// read deadline alive via pong handling, and detects client disconnects.
func (h *Hub) readPump(client *wsClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// Publish fans out evt to every connected subscriber. Slow subscribers are
// dropped rather than allowed to block the publisher (§5 "failures are
// logged and do not block other components" applied to this ambient
// concern too).
func (h *Hub) Publish(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("encode status event failed", logging.ErrorFields(err)...)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("dropping slow status subscriber")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
