package access

import (
	"maps"
	"slices"
	"time"

	"phiguard/internal/platform/config"
)

// PolicyRule is one of RoleRule, CategoryRule or TimeRule.
type PolicyRule interface {
	policyRule()
}

// RoleRule grants a role actions on a resource type.
type RoleRule struct {
	Role         string
	ResourceType string
	Actions      []string
}

// CategoryRule restricts a role to the listed data categories.
type CategoryRule struct {
	Role       string
	Categories []string
}

// TimeRule restricts a role to [StartHour, EndHour) UTC. StartHour >
// EndHour wraps midnight.
type TimeRule struct {
	Role      string
	StartHour int
	EndHour   int
}

func (RoleRule) policyRule()     {}
func (CategoryRule) policyRule() {}
func (TimeRule) policyRule()     {}

// Policy is the static role policy plus the sensitivity and emergency
// tables.
type Policy struct {
	rules          map[string][]PolicyRule
	emergencyRoles []string
	highCategories map[string]bool
}

// NewPolicy builds a policy from rules.
func NewPolicy(rules []PolicyRule, emergencyRoles []string, highCategories []string) *Policy {
	p := &Policy{
		rules:          make(map[string][]PolicyRule),
		emergencyRoles: slices.Clone(emergencyRoles),
		highCategories: make(map[string]bool, len(highCategories)),
	}
	for _, r := range rules {
		role := ruleRole(r)
		p.rules[role] = append(p.rules[role], r)
	}
	for _, c := range highCategories {
		p.highCategories[c] = true
	}
	return p
}

// PolicyFromConfig translates the configured policy document into rules.
// Category restrictions naming a group are expanded to its members.
func PolicyFromConfig(cfg config.Policy) *Policy {
	var rules []PolicyRule
	for _, role := range slices.Sorted(maps.Keys(cfg.Roles)) {
		rp := cfg.Roles[role]
		for _, rt := range slices.Sorted(maps.Keys(rp.ResourceTypes)) {
			rules = append(rules, RoleRule{Role: role, ResourceType: rt, Actions: rp.ResourceTypes[rt]})
		}
		if len(rp.Categories) > 0 {
			var cats []string
			for _, c := range rp.Categories {
				cats = append(cats, c)
				cats = append(cats, cfg.CategoryGroups[c]...)
			}
			rules = append(rules, CategoryRule{Role: role, Categories: cats})
		}
		if rp.Hours != nil {
			rules = append(rules, TimeRule{Role: role, StartHour: rp.Hours.Start, EndHour: rp.Hours.End})
		}
	}
	var high []string
	for category, level := range cfg.Sensitivity {
		if level == config.SensitivityHigh {
			high = append(high, category)
		}
	}
	return NewPolicy(rules, cfg.EmergencyRoles, high)
}

func ruleRole(r PolicyRule) string {
	switch r := r.(type) {
	case RoleRule:
		return r.Role
	case CategoryRule:
		return r.Role
	case TimeRule:
		return r.Role
	default:
		return ""
	}
}

// Authorize reports whether role may perform action on resourceType for all
// categories at time at. Some RoleRule must permit the action and every
// CategoryRule and TimeRule for the role must pass.
func (p *Policy) Authorize(role, resourceType, action string, categories []string, at time.Time) bool {
	permitted := false
	for _, rule := range p.rules[role] {
		switch r := rule.(type) {
		case RoleRule:
			if r.ResourceType == resourceType && slices.Contains(r.Actions, action) {
				permitted = true
			}
		case CategoryRule:
			for _, c := range categories {
				if !slices.Contains(r.Categories, c) {
					return false
				}
			}
		case TimeRule:
			if !inHours(at.UTC().Hour(), r.StartHour, r.EndHour) {
				return false
			}
		default:
			return false
		}
	}
	return permitted
}

func inHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// IsEmergencyRole reports whether role bypasses the consent check.
func (p *Policy) IsEmergencyRole(role string) bool {
	return slices.Contains(p.emergencyRoles, role)
}

// IsHighSensitivity reports whether category needs an exact consent.
func (p *Policy) IsHighSensitivity(category string) bool {
	return p.highCategories[category]
}
