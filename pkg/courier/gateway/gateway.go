// Package gateway exposes the control-plane protocol over WebSocket.
// Operator clients connect, authenticate, issue request envelopes, and
// receive broadcast events for every state change worth surfacing.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courierbot/courier/pkg/courier/assistant"
	"github.com/courierbot/courier/pkg/courier/config"
	"github.com/courierbot/courier/pkg/courier/events"
)

// shutdownTimeout bounds how long Shutdown waits for the HTTP server to
// drain after the shutdown event has been broadcast.
const shutdownTimeout = 5 * time.Second

// broadcastEvents is the set of bus events forwarded to connected
// operator clients.
var broadcastEvents = []string{
	events.SessionCreated,
	events.SessionUpdated,
	events.SessionDeleted,
	events.MessageReceived,
	events.MessageSent,
	events.ChannelConnected,
	events.ChannelDisconnected,
	events.ChannelError,
	events.SkillError,
	events.CircuitBreaker,
	events.AllProvidersFailed,
	events.SchedulerFired,
}

// Gateway is the control-plane socket server.
type Gateway struct {
	cfg    config.GatewayConfig
	core   *assistant.Assistant
	bus    *events.Bus
	logger *slog.Logger

	handlers map[string]handlerFunc
	upgrader websocket.Upgrader
	server   *http.Server

	clients map[string]*client
	mu      sync.RWMutex

	seq          atomic.Uint64
	connections  atomic.Int64
	requestsIn   atomic.Uint64
	responsesOut atomic.Uint64
	errorsOut    atomic.Uint64

	unsubscribe []func()
	startedAt   time.Time

	// ctx bounds handler work; replaced by Start's context.
	ctx context.Context
}

// New creates a gateway bound to the assistant core.
func New(cfg config.GatewayConfig, core *assistant.Assistant, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		cfg:    cfg,
		core:   core,
		bus:    core.Bus(),
		logger: logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:   make(map[string]*client),
		startedAt: time.Now(),
		ctx:       context.Background(),
	}
	g.handlers = g.buildHandlers()

	for _, name := range broadcastEvents {
		g.unsubscribe = append(g.unsubscribe, g.bus.SubscribeNamed(name, func(ev events.Event) {
			g.broadcast(ev.Name, ev.Payload)
		}))
	}
	return g
}

// Start serves the control-plane endpoints until ctx is cancelled or the
// listener fails.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx = ctx
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/status", g.handleStatus)

	g.server = &http.Server{
		Addr:              g.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway listening", "addr", g.cfg.Addr(), "auth", g.cfg.AuthEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway listener: %w", err)
	}
}

// Shutdown broadcasts a shutdown event with the reason, closes every
// connection, then stops accepting new ones.
func (g *Gateway) Shutdown(reason string) {
	g.logger.Info("gateway shutting down", "reason", reason)
	for _, unsub := range g.unsubscribe {
		unsub()
	}
	g.broadcast(events.Shutdown, map[string]any{"reason": reason})

	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()
	for _, c := range clients {
		c.close()
	}

	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Warn("server shutdown incomplete", "error", err)
		}
	}
}

// Seq returns the last issued event sequence number.
func (g *Gateway) Seq() uint64 { return g.seq.Load() }

// handleWS upgrades a connection and runs its read loop. On accept the
// client is Unauthenticated unless authentication is disabled.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if g.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(int64(g.cfg.MaxPayloadBytes))
	}

	c := newClient(conn, !g.cfg.AuthEnabled())
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
	g.connections.Add(1)
	g.logger.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	g.readPump(c)
}

// readPump consumes request envelopes until the connection dies.
func (g *Gateway) readPump(c *client) {
	defer g.dropClient(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("read error", "client", c.id, "error", err)
			}
			return
		}
		c.touch()
		if !g.handleEnvelope(c, data) {
			return
		}
	}
}

// handleEnvelope processes one inbound frame. Reports false when the
// connection must close.
func (g *Gateway) handleEnvelope(c *client, data []byte) bool {
	g.requestsIn.Add(1)

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		g.reply(c, errResponse("", CodeInvalidRequest, "malformed envelope: "+err.Error()))
		return true
	}
	if req.Type != TypeRequest || req.Method == "" {
		g.reply(c, errResponse(req.ID, CodeInvalidRequest, "expected a request envelope with a method"))
		return true
	}

	// Hard security boundary: an unauthenticated client may only call
	// connect. Anything else gets an error and loses the connection.
	if !c.isAuthenticated() && req.Method != "connect" {
		g.reply(c, errResponse(req.ID, CodeNotAuthenticated, "authenticate with connect first"))
		return false
	}

	g.reply(c, g.dispatch(c, req))

	// A failed connect also ends the connection.
	if req.Method == "connect" && !c.isAuthenticated() {
		return false
	}
	return true
}

// dispatch routes a request to its handler. Unknown methods and handler
// panics become error responses, never connection drops.
func (g *Gateway) dispatch(c *client, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("handler panicked", "method", req.Method, "panic", rec)
			resp = errResponse(req.ID, CodeInternalError, fmt.Sprintf("handler panic: %v", rec))
		}
	}()

	handler, ok := g.handlers[req.Method]
	if !ok {
		return errResponse(req.ID, CodeUnknownMethod, "unknown method: "+req.Method)
	}
	payload, err := handler(c, req.Params)
	if err != nil {
		var pe *protoError
		if errors.As(err, &pe) {
			return errResponse(req.ID, pe.code, pe.message)
		}
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, payload)
}

// reply marshals and queues one response envelope.
func (g *Gateway) reply(c *client, resp Response) {
	if !resp.OK {
		g.errorsOut.Add(1)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		g.logger.Error("response marshal failed", "client", c.id, "error", err)
		return
	}
	if c.enqueue(data) {
		g.responsesOut.Add(1)
	}
}

// broadcast stamps the next sequence number on an event envelope and
// fans it out to every authenticated client.
func (g *Gateway) broadcast(name string, payload any) {
	env := EventEnvelope{
		Type:      TypeEvent,
		Event:     name,
		Payload:   payload,
		Seq:       g.seq.Add(1),
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error("event marshal failed", "event", name, "error", err)
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.clients {
		if !c.isAuthenticated() {
			continue
		}
		if !c.enqueue(data) {
			g.logger.Warn("client send buffer full, dropping event", "client", c.id, "event", name)
		}
	}
}

// dropClient removes a client from the registry and tears it down.
func (g *Gateway) dropClient(c *client) {
	g.mu.Lock()
	_, existed := g.clients[c.id]
	delete(g.clients, c.id)
	g.mu.Unlock()
	c.close()
	if existed {
		g.connections.Add(-1)
		g.logger.Info("client disconnected", "client", c.id)
	}
}

// presence is the authoritative snapshot of connected clients, channel
// statuses, and aggregate counters.
func (g *Gateway) presence() map[string]any {
	g.mu.RLock()
	clients := make([]clientInfo, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c.info())
	}
	g.mu.RUnlock()

	return map[string]any{
		"clients":  clients,
		"channels": g.core.Router().Statuses(),
		"sessions": g.core.Sessions().Count(),
		"counters": g.counters(),
	}
}

func (g *Gateway) counters() map[string]any {
	return map[string]any{
		"connections":   g.connections.Load(),
		"requests_in":   g.requestsIn.Load(),
		"responses_out": g.responsesOut.Load(),
		"errors_out":    g.errorsOut.Load(),
		"seq":           g.seq.Load(),
	}
}

// handleHealth is the plain HTTP liveness endpoint.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"ok":     true,
		"uptime": time.Since(g.startedAt).String(),
	})
}

// handleStatus is the plain HTTP status snapshot.
func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, g.statusPayload())
}

// statusPayload is shared by the status method and the HTTP endpoint.
func (g *Gateway) statusPayload() map[string]any {
	payload := map[string]any{
		"uptime":    time.Since(g.startedAt).String(),
		"counters":  g.counters(),
		"channels":  g.core.Router().Statuses(),
		"sessions":  g.core.Sessions().Count(),
		"providers": g.core.Failover().Snapshot(),
	}
	if sched := g.core.Scheduler(); sched != nil {
		payload["jobs"] = sched.List()
	}
	return payload
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
