package transport

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pitabwire/wizard/internal/observability"
	"github.com/pitabwire/wizard/model"
)

// PermissionChecker evaluates role, environment and cost requests.
type PermissionChecker interface {
	CanAccessWorkflows(role, env, cost string) bool
	EvaluateWorkflowCreation(role, env, cost string) model.PermissionResult
}

// permissionRequest accepts cost as either a JSON number or a string.
type permissionRequest struct {
	Role string          `json:"role"`
	Env  string          `json:"env"`
	Cost json.RawMessage `json:"cost"`
}

func (p permissionRequest) cost() string {
	raw := bytes.TrimSpace(p.Cost)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func handleEvaluatePermission(checker PermissionChecker, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body permissionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		result := checker.EvaluateWorkflowCreation(body.Role, body.Env, body.cost())
		if metrics != nil {
			metrics.RecordPermissionDecision("evaluate", result.Allowed, result.Code)
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleCheckAccess(checker PermissionChecker, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		allowed := checker.CanAccessWorkflows(q.Get("role"), q.Get("env"), q.Get("cost"))
		if metrics != nil {
			metrics.RecordPermissionDecision("access", allowed, "")
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
	}
}
