package permission

import (
	"math"
	"sort"
	"testing"

	"github.com/pitabwire/wizard/model"
)

func TestGuard_Check(t *testing.T) {
	g := NewGuard()

	tests := []struct {
		name    string
		role    string
		env     string
		cost    string
		allowed bool
		code    string
		reason  string
	}{
		{
			name: "junior in prod", role: "Junior", env: "prod", cost: "0",
			code: model.DenyEnvironment, reason: "Environment 'prod' not allowed for role 'Junior'",
		},
		{
			name: "senior at stage ceiling", role: "Senior", env: "stage", cost: "500",
			code: model.DenyCostLimit, reason: "Cost 500 exceeds limit for Senior in stage",
		},
		{name: "senior below stage ceiling", role: "Senior", env: "stage", cost: "499.99", allowed: true},
		{name: "lead anywhere", role: "Lead", env: "anything", cost: "1e9", allowed: true},
		{
			name: "unknown role", role: "Intern", env: "stage", cost: "1",
			code: model.DenyInvalidRole, reason: "Invalid or unknown role",
		},
		{
			name: "role is case sensitive", role: "junior", env: "stage", cost: "1",
			code: model.DenyInvalidRole, reason: "Invalid or unknown role",
		},
		{name: "role and env are trimmed", role: "  Junior ", env: " STAGE ", cost: "99", allowed: true},
		{
			name: "junior default ceiling", role: "Junior", env: "stage", cost: "100",
			code: model.DenyCostLimit, reason: "Cost 100 exceeds limit for Junior in stage",
		},
		{name: "unparseable cost is zero", role: "Junior", env: "stage", cost: "lots", allowed: true},
		{name: "empty cost is zero", role: "Senior", env: "prod", cost: "", allowed: true},
		{name: "senior prod ceiling", role: "Senior", env: "prod", cost: "999", allowed: true},
		{
			name: "senior unknown env", role: "Senior", env: "dev", cost: "1",
			code: model.DenyEnvironment, reason: "Environment 'dev' not allowed for role 'Senior'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Check(tt.role, tt.env, tt.cost)
			if got.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (%+v)", got.Allowed, tt.allowed, got)
			}
			if got.Code != tt.code {
				t.Errorf("Code = %q, want %q", got.Code, tt.code)
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestGuard_wrappers(t *testing.T) {
	g := NewGuard()

	if !g.CanAccessWorkflows("Lead", "prod", "10") {
		t.Error("CanAccessWorkflows(Lead) = false, want true")
	}
	if g.CanAccessWorkflows("Junior", "prod", "0") {
		t.Error("CanAccessWorkflows(Junior, prod) = true, want false")
	}

	res := g.EvaluateWorkflowCreation("Senior", "preprod", "600")
	if res.Allowed || res.Code != model.DenyCostLimit || res.Reason == "" {
		t.Errorf("EvaluateWorkflowCreation() = %+v", res)
	}
	if res := g.EvaluateWorkflowCreation("Senior", "preprod", "1"); !res.Allowed || res.Reason != "" {
		t.Errorf("EvaluateWorkflowCreation() = %+v, want bare allow", res)
	}
}

func TestParseCost(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12.5", 12.5},
		{" 7 ", 7},
		{"1e3", 1000},
		{"", 0},
		{"abc", 0},
		{"NaN", 0},
	}
	for _, tt := range tests {
		if got := ParseCost(tt.in); got != tt.want {
			t.Errorf("ParseCost(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewGuardFromFile(t *testing.T) {
	g, err := NewGuardFromFile("testdata/policy.yaml")
	if err != nil {
		t.Fatalf("NewGuardFromFile() error = %v", err)
	}

	roles := g.Roles()
	sort.Strings(roles)
	if len(roles) != 2 || roles[0] != "Admin" || roles[1] != "Contractor" {
		t.Errorf("Roles() = %v", roles)
	}

	if res := g.Check("Junior", "stage", "1"); res.Code != model.DenyInvalidRole {
		t.Errorf("built-in role should be replaced, got %+v", res)
	}
	if !g.CanAccessWorkflows("Contractor", "sandbox", "49") {
		t.Error("Contractor sandbox 49 should be allowed")
	}
	if res := g.Check("Admin", "prod", "5000"); res.Code != model.DenyCostLimit {
		t.Errorf("Admin prod 5000 = %+v, want cost denial", res)
	}
	if !g.CanAccessWorkflows("Admin", "qa", "1e12") {
		t.Error("Admin default ceiling should be infinite")
	}
}

func TestNewGuardFromFile_errors(t *testing.T) {
	if _, err := NewGuardFromFile("testdata/missing.yaml"); err == nil {
		t.Error("missing file should return error")
	}
	if _, err := NewGuardFromFile("testdata/invalid.yaml"); err == nil {
		t.Error("invalid YAML should return error")
	}
}

func TestBuiltinRoles_lead_ceiling(t *testing.T) {
	lead := BuiltinRoles()["Lead"]
	if !math.IsInf(lead.ceiling("anything"), 1) {
		t.Errorf("Lead ceiling = %v, want +Inf", lead.ceiling("anything"))
	}
}
