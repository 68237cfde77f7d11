package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/wizard/internal/wizard"
)

// ==========================================================================
// Connect → select → first two fields
// ==========================================================================

func TestConversation_SelectAndFirstFields(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)

	state, greeting := c.Open()
	assert.Equal(t, "selecting", state.OverallStatus)
	assert.Nil(t, state.SelectedWorkflow)
	assert.Equal(t, "ai", greeting.Type)
	assert.Equal(t, "options", greeting.InputType)
	require.Len(t, greeting.Options, h.Registry.Len())
	assert.Contains(t, greeting.Content, "Welcome")

	first := greeting.Options[0].ID
	tmpl, ok := h.Registry.Get(first)
	require.True(t, ok, "greeting option %q is not in the catalog", first)

	reply, state := c.Turn(first)
	assert.Contains(t, reply.Content, tmpl.Name)
	assert.Contains(t, reply.Content, "Step 1")
	assert.Contains(t, reply.Content, tmpl.Source.Fields[0].Label)
	assert.Equal(t, "text", reply.InputType)
	require.NotNil(t, state.SelectedWorkflow)
	assert.Equal(t, first, *state.SelectedWorkflow)
	assert.Equal(t, "configuring", state.OverallStatus)
	assert.Equal(t, "in_progress", state.Nodes["source"].Status)
	assert.Equal(t, "todo", state.Nodes["destination"].Status)

	reply, state = c.Turn("my-shop.myshopify.com")
	assert.True(t, strings.HasPrefix(reply.Content, "✓ Got it!"), "content = %q", reply.Content)
	assert.Contains(t, reply.Content, tmpl.Source.Fields[1].Label)

	source := state.Nodes["source"]
	require.NotEmpty(t, source.Fields)
	assert.Equal(t, tmpl.Source.Fields[0].Key, source.Fields[0].Key)
	assert.Equal(t, "my-shop.myshopify.com", source.Fields[0].Value)
	assert.Equal(t, "collected", source.Fields[0].Status)
	assert.Equal(t, "in_progress", source.Fields[1].Status)
}

func TestConversation_SelectByName(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()

	// Selection normalises case and whitespace into the template id.
	_, state := c.Turn("  Stripe   SHEETS ")
	require.NotNil(t, state.SelectedWorkflow)
	assert.Equal(t, "stripe-sheets", *state.SelectedWorkflow)
}

func TestConversation_UnknownWorkflowReprompts(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()

	reply, state := c.Turn("build me a rocket")
	assert.Contains(t, reply.Content, "didn't recognize")
	assert.Len(t, reply.Options, h.Registry.Len())
	assert.Equal(t, "selecting", state.OverallStatus)
}

// ==========================================================================
// Full traversal to activation
// ==========================================================================

func TestConversation_FullLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()

	tmpl, ok := h.Registry.Get("shopify-bigquery")
	require.True(t, ok)

	c.Turn(tmpl.ID)

	total := len(tmpl.Source.Fields) + len(tmpl.Transform.Fields) + len(tmpl.Destination.Fields)
	var reply Message
	var state State
	for i := 0; i < total; i++ {
		reply, state = c.Turn("value")
		if i == len(tmpl.Source.Fields)-1 {
			assert.Contains(t, reply.Content, "Shopify configured!")
			assert.Contains(t, reply.Content, "Step 2")
			assert.Equal(t, "complete", state.Nodes["source"].Status)
		}
	}

	assert.Contains(t, reply.Content, "Workflow Configuration Complete!")
	assert.Len(t, reply.Options, 4)
	assert.Equal(t, "complete", state.OverallStatus)
	for key, node := range state.Nodes {
		assert.Equal(t, "complete", node.Status, "node %s", key)
	}

	reply, _ = c.Turn("test")
	assert.Contains(t, reply.Content, "All systems go!")

	reply, state = c.Turn("activate")
	assert.Contains(t, reply.Content, "Workflow Activated!")
	require.Len(t, reply.Options, 1)
	assert.Equal(t, "new", reply.Options[0].ID)
	assert.Equal(t, "complete", state.OverallStatus)

	reply, _ = c.Turn("how is it going?")
	assert.Contains(t, reply.Content, "running")

	reply, state = c.Turn("create another")
	assert.Contains(t, reply.Content, "Welcome")
	assert.Equal(t, "selecting", state.OverallStatus)

	body := string(h.ReadBody(h.GET("/metrics")))
	assert.Contains(t, body, `wizard_workflow_activations_total{template_id="shopify-bigquery"} 1`)
	assert.Contains(t, body, `wizard_template_selections_total{template_id="shopify-bigquery"} 1`)
}

// ==========================================================================
// Reset and state requests
// ==========================================================================

func TestConversation_ResetMidConfiguration(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	_, greeting := c.Open()

	c.Turn("hubspot-slack")
	c.Turn("secret-token")

	c.Send(wizard.EventResetWorkflow, nil)
	state := c.ExpectState()
	assert.Equal(t, "selecting", state.OverallStatus)
	assert.Nil(t, state.SelectedWorkflow)
	assert.Empty(t, state.Nodes)

	again := c.ExpectMessage()
	assert.Equal(t, greeting.Content, again.Content)
	assert.NotEqual(t, greeting.ID, again.ID)

	// The conversation starts over from template selection.
	_, state = c.Turn("stripe-sheets")
	require.NotNil(t, state.SelectedWorkflow)
	assert.Equal(t, "stripe-sheets", *state.SelectedWorkflow)
}

func TestConversation_GetStateDoesNotAdvance(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()
	c.Turn("salesforce-mailchimp")

	c.Send(wizard.EventGetWorkflowState, map[string]any{})
	state := c.ExpectState()
	require.NotNil(t, state.SelectedWorkflow)
	assert.Equal(t, "in_progress", state.Nodes["source"].Fields[0].Status)
}

// ==========================================================================
// Session isolation and lifecycle
// ==========================================================================

func TestConversation_SessionsAreIndependent(t *testing.T) {
	h := NewTestHarness(t)
	a := h.DialWS(t, nil)
	b := h.DialWS(t, nil)
	a.Open()
	b.Open()

	_, stateA := a.Turn("shopify-bigquery")
	_, stateB := b.Turn("stripe-sheets")

	assert.Equal(t, "shopify-bigquery", *stateA.SelectedWorkflow)
	assert.Equal(t, "stripe-sheets", *stateB.SelectedWorkflow)
	assert.Equal(t, 2, h.Store.Len())
}

func TestConversation_DisconnectDropsSession(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()
	require.Equal(t, 1, h.Store.Len())

	c.Close()

	require.Eventually(t, func() bool { return h.Store.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "session survived disconnect")
}

func TestConversation_TypingIndicatorBracketsReply(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()

	c.Say("shopify-bigquery")
	on := c.Expect(wizard.EventAITyping)
	off := c.Expect(wizard.EventAITyping)
	assert.JSONEq(t, `{"isTyping":true}`, string(on.Data))
	assert.JSONEq(t, `{"isTyping":false}`, string(off.Data))
	c.Expect(wizard.EventAIMessage)
	c.Expect(wizard.EventWorkflowState)
}

func TestConversation_MalformedFrameKeepsConnection(t *testing.T) {
	h := NewTestHarness(t)
	c := h.DialWS(t, nil)
	c.Open()

	c.Send("teleport", nil)
	f := c.Expect(wizard.EventError)
	assert.Contains(t, string(f.Data), "teleport")

	_, state := c.Turn("shopify-bigquery")
	assert.Equal(t, "configuring", state.OverallStatus)
}

func TestConversation_OriginPolicy(t *testing.T) {
	h := NewTestHarness(t, WithAllowedOrigins("https://app.example.com"))

	c := h.DialWS(t, http.Header{"Origin": {"https://app.example.com"}})
	c.Open()

	url := "ws" + strings.TrimPrefix(h.BaseURL(), "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://other.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
