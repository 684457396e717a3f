// Package feedback streams operator feedback and spawn outcomes to websocket
// subscribers, and offers plain log responders for headless runs.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"structspawn.ai/internal/protocol"
	"structspawn.ai/internal/sim/assembler"
)

var (
	_ assembler.Responder = (*Hub)(nil)
	_ assembler.Recorder  = (*Hub)(nil)
)

type Hub struct {
	channel string
	log     *log.Logger
	now     func() time.Time

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	// Idle subscribers are pinged every pingEvery and dropped when no pong
	// (or other frame) arrives within pongWait.
	pingEvery time.Duration
	pongWait  time.Duration

	mu      sync.Mutex
	clients map[string]chan []byte
	closed  bool
}

func NewHub(channel string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		channel: channel,
		log:     logger,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   map[string]chan []byte{},
		pingEvery: 30 * time.Second,
		pongWait:  60 * time.Second,
	}
}

// Respond broadcasts one FEEDBACK message.
func (h *Hub) Respond(code, text string) {
	h.broadcast(protocol.FeedbackMsg{
		Type:            protocol.TypeFeedback,
		ProtocolVersion: protocol.Version,
		Channel:         h.channel,
		Code:            code,
		Text:            text,
		SentAtUnixMs:    h.now().UnixMilli(),
	})
}

// RecordAttempt is a no-op: attempts already reach operators through
// Respond.
func (h *Hub) RecordAttempt(assembler.AttemptRecord) error { return nil }

// RecordSpawn broadcasts one SPAWN message.
func (h *Hub) RecordSpawn(rec assembler.SpawnRecord) error {
	insts := rec.Instances
	if insts == nil {
		insts = []string{}
	}
	h.broadcast(protocol.SpawnMsg{
		Type:            protocol.TypeSpawn,
		ProtocolVersion: protocol.Version,
		AttemptID:       rec.AttemptID,
		Instances:       insts,
		Expected:        rec.Expected,
		Code:            rec.Code,
		ElapsedMs:       rec.ElapsedMs,
	})
	return nil
}

func (h *Hub) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Printf("feedback: marshal: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, out := range h.clients {
		select {
		case out <- b:
		default:
			h.dropped.Add(1)
			h.log.Printf("feedback: client %s is slow, message dropped", id)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) register() (string, chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := fmt.Sprintf("F%d", h.nextID.Add(1))
	out := make(chan []byte, 64)
	h.clients[id] = out
	return id, out, true
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if out, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(out)
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, out := range h.clients {
		delete(h.clients, id)
		close(out)
	}
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !h.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, out, ok := h.register()
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer h.unregister(id)
		h.log.Printf("feedback: %s connected from %s", id, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.pongWait))
		})

		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(h.pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Subscribers only listen; reading runs the pong handler and notices
		// when the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		}
		cancel()

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		h.log.Printf("feedback: %s disconnected", id)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
