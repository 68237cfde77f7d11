package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/wizard/model"
)

// ==========================================================================
// Health and readiness
// ==========================================================================

func TestAPI_HealthAndReady(t *testing.T) {
	h := NewTestHarness(t)

	var health map[string]any
	h.AssertJSON(t, h.GET("/api/health"), http.StatusOK, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.NotEmpty(t, health["timestamp"])

	var ready map[string]any
	h.AssertJSON(t, h.GET("/api/ready"), http.StatusOK, &ready)
	assert.Equal(t, "ready", ready["status"])
}

func TestAPI_CorrelationIDEchoed(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GETWithHeaders("/api/templates", map[string]string{"X-Correlation-Id": "corr-42"})
	defer resp.Body.Close()
	assert.Equal(t, "corr-42", resp.Header.Get("X-Correlation-Id"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

// ==========================================================================
// Template catalog
// ==========================================================================

func TestAPI_ListTemplates(t *testing.T) {
	h := NewTestHarness(t)

	var listings []map[string]any
	h.AssertJSON(t, h.GET("/api/templates"), http.StatusOK, &listings)
	require.Len(t, listings, 4)

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l["id"].(string)
		source := l["source"].(map[string]any)
		assert.NotContains(t, source, "fields", "listing %s exposes fields", ids[i])
	}
	assert.Equal(t, []string{"shopify-bigquery", "salesforce-mailchimp", "stripe-sheets", "hubspot-slack"}, ids)
}

func TestAPI_GetTemplate(t *testing.T) {
	h := NewTestHarness(t)

	var tmpl map[string]any
	h.AssertJSON(t, h.GET("/api/templates/shopify-bigquery"), http.StatusOK, &tmpl)
	assert.Equal(t, "Connect Shopify to BigQuery", tmpl["name"])

	fields := tmpl["source"].(map[string]any)["fields"].([]any)
	require.NotEmpty(t, fields)
	assert.Equal(t, "store_url", fields[0].(map[string]any)["key"])
}

func TestAPI_GetTemplate_notFound(t *testing.T) {
	h := NewTestHarness(t)

	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, h.GET("/api/templates/nope"), http.StatusNotFound, &body)
	assert.Equal(t, model.ErrTemplateNotFound, body.Error.Code)
}

func TestAPI_ExtraCatalogDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jira-teams.yaml"), `templates:
  - id: jira-teams
    name: Jira to Teams
    description: Announce Jira tickets in Microsoft Teams
    source:
      type: jira
      name: Jira
      icon: "📋"
      fields:
        project:
          label: Project Key
          type: text
          required: true
          description: Jira project to watch
    transform:
      type: message_format
      name: Message Format
      icon: "✏️"
      fields:
        template:
          label: Message Template
          type: text
          required: false
          description: How each ticket is rendered
    destination:
      type: teams
      name: Microsoft Teams
      icon: "💬"
      fields:
        webhook_url:
          label: Webhook URL
          type: text
          required: true
          description: Teams incoming webhook
`)

	h := NewTestHarness(t, WithCatalogDirs(dir))

	var listings []map[string]any
	h.AssertJSON(t, h.GET("/api/templates"), http.StatusOK, &listings)
	assert.Len(t, listings, 5)

	c := h.DialWS(t, nil)
	_, greeting := c.Open()
	assert.Len(t, greeting.Options, 5)

	reply, state := c.Turn("jira-teams")
	assert.Contains(t, reply.Content, "Project Key")
	assert.Equal(t, "jira-teams", *state.SelectedWorkflow)
}

// ==========================================================================
// Permissions
// ==========================================================================

func TestAPI_EvaluatePermission(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		name    string
		body    map[string]any
		allowed bool
		code    string
	}{
		{"junior stage within budget", map[string]any{"role": "Junior", "env": "stage", "cost": "50"}, true, ""},
		{"junior prod", map[string]any{"role": "Junior", "env": "prod", "cost": "10"}, false, model.DenyEnvironment},
		{"senior prod over ceiling", map[string]any{"role": "Senior", "env": "prod", "cost": 1500}, false, model.DenyCostLimit},
		{"lead anywhere", map[string]any{"role": "Lead", "env": "prod", "cost": "999999"}, true, ""},
		{"unknown role", map[string]any{"role": "Intern", "env": "stage", "cost": "1"}, false, model.DenyInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res model.PermissionResult
			h.AssertJSON(t, h.POST("/api/permissions/evaluate", tt.body), http.StatusOK, &res)
			assert.Equal(t, tt.allowed, res.Allowed)
			assert.Equal(t, tt.code, res.Code)
			if !tt.allowed {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestAPI_EvaluatePermission_badBody(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/api/permissions/evaluate", "{broken")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CheckAccess(t *testing.T) {
	h := NewTestHarness(t)

	var res map[string]bool
	h.AssertJSON(t, h.GET("/api/permissions/access?role=Senior&env=preprod&cost=100"), http.StatusOK, &res)
	assert.True(t, res["allowed"])

	h.AssertJSON(t, h.GET("/api/permissions/access?role=Junior&env=stage&cost=100"), http.StatusOK, &res)
	assert.False(t, res["allowed"], "cost equal to the ceiling is denied")
}

func TestAPI_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, `roles:
  Contractor:
    allowed_envs: [sandbox]
    max_cost:
      default: 50
`)

	h := NewTestHarness(t, WithPolicyFile(path))

	var res model.PermissionResult
	h.AssertJSON(t, h.POST("/api/permissions/evaluate",
		map[string]any{"role": "Contractor", "env": "sandbox", "cost": "10"}), http.StatusOK, &res)
	assert.True(t, res.Allowed)

	h.AssertJSON(t, h.POST("/api/permissions/evaluate",
		map[string]any{"role": "Lead", "env": "prod", "cost": "1"}), http.StatusOK, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, model.DenyInvalidRole, res.Code)
}

// ==========================================================================
// Metrics
// ==========================================================================

func TestAPI_Metrics(t *testing.T) {
	h := NewTestHarness(t)
	h.ReadBody(h.GET("/api/templates"))

	body := string(h.ReadBody(h.GET("/metrics")))
	assert.Contains(t, body, "wizard_templates_loaded 4")
	assert.Contains(t, body, `wizard_http_requests_total{method="GET",path_pattern="/api/templates",status="200"} 1`)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
