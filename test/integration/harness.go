// Package integration provides a reusable test harness for end-to-end
// integration testing of the pipeline wizard server. It starts the full HTTP
// and WebSocket stack over the built-in template catalog, an in-memory
// session store and the permission guard.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/wizard/internal/catalog"
	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/internal/observability"
	"github.com/pitabwire/wizard/internal/permission"
	"github.com/pitabwire/wizard/internal/session"
	"github.com/pitabwire/wizard/internal/transport"
	"github.com/pitabwire/wizard/internal/wizard"
)

// TestHarness encapsulates a fully wired wizard server for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Registry *catalog.Registry
	Guard    *permission.Guard
	Store    *session.MemoryStore
	Service  *wizard.Service
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	catalogDirs  []string
	policyFile   string
	conversation config.ConversationConfig
	origins      []string
}

// WithCatalogDirs loads extra template directories on top of the built-in
// catalog.
func WithCatalogDirs(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.catalogDirs = append(c.catalogDirs, dirs...)
	}
}

// WithPolicyFile loads roles from a policy file instead of the built-ins.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithConversation overrides the conversation pacing.
func WithConversation(cc config.ConversationConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.conversation = cc
	}
}

// WithAllowedOrigins restricts the WebSocket and CORS origins.
func WithAllowedOrigins(origins ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.origins = origins
	}
}

// NewTestHarness creates and starts a fully wired server. The server is
// stopped when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		// No pacing delays; tests observe event order, not timing.
		conversation: config.ConversationConfig{MailboxSize: 16},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Build config.
	h.cfg = config.Defaults()
	h.cfg.Conversation = hc.conversation
	h.cfg.WebSocket.PingInterval = 0
	h.cfg.Catalog.Directories = hc.catalogDirs
	h.cfg.Permissions.PolicyFile = hc.policyFile
	if len(hc.origins) > 0 {
		h.cfg.Server.CORS.AllowedOrigins = hc.origins
		h.cfg.WebSocket.AllowedOrigins = hc.origins
	}

	// Step 2: Load the catalog.
	registry, err := catalog.Build(hc.catalogDirs)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	h.Registry = registry

	// Step 3: Permission guard.
	if hc.policyFile != "" {
		h.Guard, err = permission.NewGuardFromFile(hc.policyFile)
		if err != nil {
			t.Fatalf("load policy: %v", err)
		}
	} else {
		h.Guard = permission.NewGuard()
	}

	// Step 4: Metrics on a private registry.
	promReg := prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(promReg)
	h.Metrics.SetTemplatesLoaded(registry.Len())
	h.Gatherer = promReg

	// Step 5: Session store and wizard service.
	h.Store = session.NewMemoryStore()
	h.Service = wizard.NewService(wizard.Deps{
		Store:   h.Store,
		Catalog: registry,
		Config:  h.cfg.Conversation,
		Metrics: h.Metrics,
	})

	// Step 6: Router with the full middleware chain.
	ws := transport.NewWebSocketHandler(h.cfg.WebSocket, h.Service, nil, h.Metrics)
	router := transport.NewRouter(transport.Dependencies{
		Config:      h.cfg,
		Catalog:     registry,
		Permissions: h.Guard,
		WebSocket:   ws,
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return registry.Len() > 0 },
			SessionStore:    h.Store,
		},
		Metrics:        h.Metrics,
		MetricsHandler: observability.HandlerFor(promReg),
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		ws.Close()
		h.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Service.Close(ctx)
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// GET performs a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, nil)
}

// GETWithHeaders performs a GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, headers)
}

// POST performs a POST request with a JSON body. A string body is sent as is.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- WebSocket helpers ---

// Frame is one event received over the WebSocket channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Message is the decoded payload of an ai_message event.
type Message struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Options []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"options"`
	InputType   string  `json:"inputType"`
	Example     *string `json:"example"`
	Placeholder *string `json:"placeholder"`
	Timestamp   string  `json:"timestamp"`
}

// State is the decoded payload of a workflow_state event.
type State struct {
	SelectedWorkflow *string `json:"selectedWorkflow"`
	Template         *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"template"`
	Nodes map[string]struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Fields []struct {
			Key    string `json:"key"`
			Value  any    `json:"value"`
			Status string `json:"status"`
		} `json:"fields"`
	} `json:"nodes"`
	OverallStatus string `json:"overallStatus"`
}

// Client is a WebSocket connection to the harness server.
type Client struct {
	t    *testing.T
	conn *websocket.Conn
}

// DialWS opens a WebSocket connection. The connection is closed when the
// test completes.
func (h *TestHarness) DialWS(t *testing.T, header http.Header) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + h.cfg.WebSocket.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return &Client{t: t, conn: conn}
}

// Send writes an inbound event.
func (c *Client) Send(event string, data any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

// Say sends a user_message with the given content.
func (c *Client) Say(content string) {
	c.t.Helper()
	c.Send(wizard.EventUserMessage, map[string]string{"content": content})
}

// Next reads the next frame, failing the test after two seconds.
func (c *Client) Next() Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	return f
}

// Expect reads the next frame and checks its event name.
func (c *Client) Expect(event string) Frame {
	c.t.Helper()
	f := c.Next()
	if f.Event != event {
		c.t.Fatalf("event = %s, want %s\ndata: %s", f.Event, event, f.Data)
	}
	return f
}

// ExpectMessage reads the next frame as an ai_message.
func (c *Client) ExpectMessage() Message {
	c.t.Helper()
	var m Message
	decode(c.t, c.Expect(wizard.EventAIMessage), &m)
	return m
}

// ExpectState reads the next frame as a workflow_state.
func (c *Client) ExpectState() State {
	c.t.Helper()
	var s State
	decode(c.t, c.Expect(wizard.EventWorkflowState), &s)
	return s
}

// Open consumes the frames every new connection receives and returns them.
func (c *Client) Open() (State, Message) {
	c.t.Helper()
	s := c.ExpectState()
	return s, c.ExpectMessage()
}

// Turn sends content and consumes the full reply sequence: typing on,
// typing off, the reply and the updated state.
func (c *Client) Turn(content string) (Message, State) {
	c.t.Helper()
	c.Say(content)
	c.Expect(wizard.EventAITyping)
	c.Expect(wizard.EventAITyping)
	m := c.ExpectMessage()
	return m, c.ExpectState()
}

// Close sends a normal close frame and closes the socket.
func (c *Client) Close() {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

func decode(t *testing.T, f Frame, target any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, target); err != nil {
		t.Fatalf("decode %s: %v\ndata: %s", f.Event, err, f.Data)
	}
}
