package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/internal/observability"
	"github.com/pitabwire/wizard/internal/wizard"
	"github.com/pitabwire/wizard/model"
)

// Conversations is the per-connection surface of the wizard service.
type Conversations interface {
	Connect(ctx context.Context, id string, emitter wizard.Emitter) error
	UserMessage(ctx context.Context, id, content string) error
	Reset(ctx context.Context, id string) error
	State(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string)
}

// errClientClosed is returned by Emit after the connection has gone away.
var errClientClosed = errors.New("transport: client closed")

const sendBufferSize = 64

// inboundFrame is an event received from a client.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundFrame is an event sent to a client.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocketHandler upgrades requests to the wizard event channel.
type WebSocketHandler struct {
	cfg           config.WebSocketConfig
	conversations Conversations
	logger        *zap.Logger
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewWebSocketHandler creates a WebSocketHandler. metrics may be nil.
func NewWebSocketHandler(cfg config.WebSocketConfig, conversations Conversations, logger *zap.Logger, metrics *observability.Metrics) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebSocketHandler{
		cfg:           cfg,
		conversations: conversations,
		logger:        logger,
		metrics:       metrics,
		clients:       make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeHTTP upgrades the request and runs the connection until the client
// goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.NewString()
	cc := &model.ConnectionContext{
		ConnectionID:  id,
		RemoteAddr:    r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		CorrelationID: CorrelationIDFrom(r.Context()),
		TraceID:       observability.TraceIDFromContext(r.Context()),
	}
	ctx := model.WithConnectionContext(r.Context(), cc)
	logger := observability.ConnectionLogger(ctx, h.logger)
	ctx = observability.WithLogger(ctx, logger)

	c := newClient(ws, h.cfg, logger)
	h.track(id, c)
	defer h.untrack(id)

	if h.metrics != nil {
		h.metrics.RecordConnectionOpened()
		defer h.metrics.RecordConnectionClosed()
	}

	go c.writePump()
	logger.Info("client connected")

	if err := h.conversations.Connect(ctx, id, c); err != nil {
		logger.Error("starting session failed", zap.Error(err))
		c.Emit(wizard.EventError, wizard.NewErrorPayload(err))
		c.close()
		<-c.stopped
		return
	}

	h.readPump(ctx, id, c)

	h.conversations.Disconnect(context.WithoutCancel(ctx), id)
	c.close()
	<-c.stopped
	logger.Info("client disconnected")
}

// Close disconnects every client. The http.Server does not track hijacked
// connections, so this is called on shutdown.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *WebSocketHandler) track(id string, c *client) {
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
}

func (h *WebSocketHandler) untrack(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *WebSocketHandler) readPump(ctx context.Context, id string, c *client) {
	ws := c.ws
	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	// The server's read timeout still applies to the hijacked conn.
	ws.SetReadDeadline(time.Time{})
	if h.cfg.PongWait > 0 {
		ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Event == "" {
			h.recordInbound("malformed")
			c.logger.Warn("malformed frame", zap.Int("bytes", len(payload)))
			c.Emit(wizard.EventError, wizard.ErrorPayload{Message: "Malformed message", Code: model.ErrBadRequest})
			continue
		}

		if err := h.dispatch(ctx, id, frame); err != nil {
			c.logger.Warn("event failed", zap.String("event", frame.Event), zap.Error(err))
			c.Emit(wizard.EventError, wizard.NewErrorPayload(err))
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, id string, frame inboundFrame) error {
	switch frame.Event {
	case wizard.EventUserMessage:
		h.recordInbound(frame.Event)
		var data struct {
			Content string `json:"content"`
		}
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				return model.NewBadRequestError("user_message requires a string content")
			}
		}
		return h.conversations.UserMessage(ctx, id, data.Content)

	case wizard.EventResetWorkflow:
		h.recordInbound(frame.Event)
		return h.conversations.Reset(ctx, id)

	case wizard.EventGetWorkflowState:
		h.recordInbound(frame.Event)
		return h.conversations.State(ctx, id)

	default:
		h.recordInbound("unknown")
		return model.NewBadRequestError(fmt.Sprintf("unknown event %q", frame.Event))
	}
}

func (h *WebSocketHandler) recordInbound(event string) {
	if h.metrics != nil {
		h.metrics.RecordEvent("in", event)
	}
}

// client owns the write side of one connection. All writes go through
// writePump so the socket never sees concurrent writers.
type client struct {
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger

	send    chan outboundFrame
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newClient(ws *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *client {
	return &client{
		ws:      ws,
		cfg:     cfg,
		logger:  logger,
		send:    make(chan outboundFrame, sendBufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Emit queues an event for delivery. It implements wizard.Emitter.
func (c *client) Emit(event string, data any) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- outboundFrame{Event: event, Data: data}:
		return nil
	case <-c.done:
		return errClientClosed
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		c.ws.Close()
		close(c.stopped)
	}()

	for {
		select {
		case frame := <-c.send:
			c.setWriteDeadline()
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug("websocket write failed", zap.String("event", frame.Event), zap.Error(err))
				c.close()
				return
			}

		case <-ping:
			c.setWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.drain()
			c.setWriteDeadline()
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before close.
func (c *client) drain() {
	for {
		select {
		case frame := <-c.send:
			c.setWriteDeadline()
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) setWriteDeadline() {
	if c.cfg.WriteWait > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	}
}
