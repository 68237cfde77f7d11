// Package permission gates workflow access by role, environment, and cost.
package permission

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/wizard/model"
)

// Wildcard in AllowedEnvs permits every environment.
const Wildcard = "*"

// DefaultCeiling is the MaxCost key used when an environment has no entry.
const DefaultCeiling = "default"

const insufficientReason = "Insufficient permissions for this role/environment/cost"

// Role declares where a role may deploy and how much it may spend.
type Role struct {
	AllowedEnvs []string           `yaml:"allowed_envs" json:"allowedEnvs"`
	MaxCost     map[string]float64 `yaml:"max_cost"     json:"maxCost"`
}

func (r Role) allows(env string) bool {
	for _, e := range r.AllowedEnvs {
		if e == env || e == Wildcard {
			return true
		}
	}
	return false
}

func (r Role) ceiling(env string) float64 {
	if c, ok := r.MaxCost[env]; ok {
		return c
	}
	if c, ok := r.MaxCost[DefaultCeiling]; ok {
		return c
	}
	return 0
}

type policyFile struct {
	Roles map[string]Role `yaml:"roles"`
}

// BuiltinRoles is the registry used when no policy file is configured.
func BuiltinRoles() map[string]Role {
	return map[string]Role{
		"Junior": {
			AllowedEnvs: []string{"stage"},
			MaxCost:     map[string]float64{DefaultCeiling: 100},
		},
		"Senior": {
			AllowedEnvs: []string{"stage", "preprod", "prod"},
			MaxCost:     map[string]float64{"stage": 500, "preprod": 500, "prod": 1000, DefaultCeiling: 500},
		},
		"Lead": {
			AllowedEnvs: []string{Wildcard},
			MaxCost:     map[string]float64{DefaultCeiling: math.Inf(1)},
		},
	}
}

// Guard evaluates permission checks against a role registry. An optional
// YAML policy file replaces the built-in roles and can be re-read with Sync.
type Guard struct {
	path  string
	mu    sync.RWMutex
	roles map[string]Role
}

// NewGuard creates a Guard over the built-in roles.
func NewGuard() *Guard {
	return &Guard{roles: BuiltinRoles()}
}

// NewGuardFromFile creates a Guard whose roles are loaded from path.
func NewGuardFromFile(path string) (*Guard, error) {
	g := &Guard{path: path}
	if err := g.Sync(); err != nil {
		return nil, err
	}
	return g, nil
}

// Sync reloads the policy file from disk. A Guard without a file keeps its
// built-in roles.
func (g *Guard) Sync() error {
	if g.path == "" {
		return nil
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("permission: reading policy file %s: %w", g.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("permission: parsing policy file %s: %w", g.path, err)
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("permission: policy file %s declares no roles", g.path)
	}

	g.mu.Lock()
	g.roles = p.Roles
	g.mu.Unlock()

	return nil
}

// Roles returns the names of the registered roles.
func (g *Guard) Roles() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.roles))
	for name := range g.roles {
		names = append(names, name)
	}
	return names
}

// ParseCost reads a cost the lenient way: surrounding space is ignored and
// anything that is not a finite number counts as 0.
func ParseCost(raw string) float64 {
	c, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(c) {
		return 0
	}
	return c
}

// Check evaluates role, env, and cost in that order and returns the first
// denial. A cost equal to the ceiling is denied.
func (g *Guard) Check(role, env, cost string) model.PermissionResult {
	roleName := strings.TrimSpace(role)
	envName := strings.ToLower(strings.TrimSpace(env))
	amount := ParseCost(cost)

	g.mu.RLock()
	r, ok := g.roles[roleName]
	g.mu.RUnlock()

	if !ok {
		return model.Deny(model.DenyInvalidRole, "Invalid or unknown role")
	}
	if !r.allows(envName) {
		return model.Deny(model.DenyEnvironment,
			fmt.Sprintf("Environment '%s' not allowed for role '%s'", envName, roleName))
	}
	if amount >= r.ceiling(envName) {
		return model.Deny(model.DenyCostLimit,
			fmt.Sprintf("Cost %s exceeds limit for %s in %s", strconv.FormatFloat(amount, 'f', -1, 64), roleName, envName))
	}
	return model.Allow()
}

// CanAccessWorkflows is the boolean form of Check used for read access.
func (g *Guard) CanAccessWorkflows(role, env, cost string) bool {
	return g.Check(role, env, cost).Allowed
}

// EvaluateWorkflowCreation is the structured form of Check used for create
// access. A denial always carries a reason.
func (g *Guard) EvaluateWorkflowCreation(role, env, cost string) model.PermissionResult {
	res := g.Check(role, env, cost)
	if res.Allowed {
		return model.Allow()
	}
	if res.Reason == "" {
		res.Reason = insufficientReason
	}
	if res.Code == "" {
		res.Code = model.DenyInsufficientAny
	}
	return res
}
