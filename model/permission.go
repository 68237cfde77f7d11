package model

// Permission denial codes.
const (
	DenyInvalidRole     = "INVALID_ROLE"
	DenyEnvironment     = "ENVIRONMENT_NOT_ALLOWED"
	DenyCostLimit       = "COST_LIMIT_EXCEEDED"
	DenyInsufficientAny = "INSUFFICIENT_PERMISSIONS"
)

// PermissionResult is the outcome of a role/environment/cost check. Reason
// and Code are set only on denial.
type PermissionResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Allow returns an allowed result.
func Allow() PermissionResult {
	return PermissionResult{Allowed: true}
}

// Deny returns a denied result with the given code and reason.
func Deny(code, reason string) PermissionResult {
	return PermissionResult{Allowed: false, Code: code, Reason: reason}
}
