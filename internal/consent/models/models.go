// Package models holds the consent domain types and the pure rules that
// decide whether a consent covers a request.
package models

import (
	"slices"
	"strings"
	"time"
)

// ConsentID identifies a consent record.
type ConsentID string

func (id ConsentID) String() string {
	return string(id)
}

// Status is the consent lifecycle: pending -> active -> revoked | expired.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Scope narrows what a consent covers beyond its categories. Empty lists
// mean unrestricted.
type Scope struct {
	// TimeLimitDays bounds the consent to [GrantedAt, GrantedAt+days).
	// Nil means no time limit.
	TimeLimitDays   *int
	GeographicScope []string
	Purposes        []string
}

// ConsentRecord is a subject's grant of access to a grantee.
type ConsentRecord struct {
	ID             ConsentID
	SubjectID      string
	Grantee        string
	DataCategories []string
	Scope          Scope
	Status         Status
	CreatedAt      time.Time
	// GrantedAt is set on activation and starts the time window.
	GrantedAt *time.Time
	RevokedAt *time.Time
	RevokedBy string
}

// WindowEnd returns the exclusive end of the time window, or false when the
// consent has no time limit or has not been granted.
func (c *ConsentRecord) WindowEnd() (time.Time, bool) {
	if c.GrantedAt == nil || c.Scope.TimeLimitDays == nil {
		return time.Time{}, false
	}
	return c.GrantedAt.AddDate(0, 0, *c.Scope.TimeLimitDays), true
}

// InWindow reports whether asOf falls inside the consent's time window.
func (c *ConsentRecord) InWindow(asOf time.Time) bool {
	if c.GrantedAt == nil || asOf.Before(*c.GrantedAt) {
		return false
	}
	if end, ok := c.WindowEnd(); ok && !asOf.Before(end) {
		return false
	}
	return true
}

// IsValidFor reports whether the consent authorizes requesterID at asOf.
func (c *ConsentRecord) IsValidFor(requesterID string, asOf time.Time) bool {
	return c.Status == StatusActive && c.Grantee == requesterID && c.InWindow(asOf)
}

// IsStale reports whether an active consent's window has closed as of now.
func (c *ConsentRecord) IsStale(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	end, ok := c.WindowEnd()
	return ok && !now.Before(end)
}

// CoversPurpose reports whether purpose is within scope.
func (c *ConsentRecord) CoversPurpose(purpose string) bool {
	return len(c.Scope.Purposes) == 0 || slices.Contains(c.Scope.Purposes, purpose)
}

// CoversRegion reports whether region is within scope. A geographically
// restricted consent does not cover a request with no region.
func (c *ConsentRecord) CoversRegion(region string) bool {
	if len(c.Scope.GeographicScope) == 0 {
		return true
	}
	return slices.ContainsFunc(c.Scope.GeographicScope, func(r string) bool {
		return strings.EqualFold(r, region)
	})
}

// CategoryMatch classifies how a consent covers a category.
type CategoryMatch int

const (
	NoMatch CategoryMatch = iota
	GroupMatch
	ExactMatch
)

// MatchCategory reports how c covers category, given the configured
// category groups (group name -> member categories).
func (c *ConsentRecord) MatchCategory(category string, groups map[string][]string) CategoryMatch {
	if slices.Contains(c.DataCategories, category) {
		return ExactMatch
	}
	for _, granted := range c.DataCategories {
		if slices.Contains(groups[granted], category) {
			return GroupMatch
		}
	}
	return NoMatch
}

// CreateInput is the request to record a new consent.
type CreateInput struct {
	SubjectID      string
	Grantee        string
	DataCategories []string
	Scope          Scope
	// Pending leaves the consent inactive until ActivateConsent.
	Pending bool
	// ActorID records who created the consent; defaults to the subject.
	ActorID string
}

// Query asks for the consent that best covers one category of a request.
type Query struct {
	SubjectID   string
	RequesterID string
	Category    string
	Purpose     string
	Region      string
	AsOf        time.Time
}

// Match is the consent selected for a query.
type Match struct {
	ConsentID ConsentID
	// Exact is false when the consent covers the category only through a
	// category group.
	Exact bool
}

// Better reports whether candidate a outranks b: exact category first, then
// the most recently granted, then the lowest id.
func Better(a, b *ConsentRecord, aMatch, bMatch CategoryMatch) bool {
	if aMatch != bMatch {
		return aMatch > bMatch
	}
	ag, bg := grantedAt(a), grantedAt(b)
	if !ag.Equal(bg) {
		return ag.After(bg)
	}
	return a.ID < b.ID
}

func grantedAt(c *ConsentRecord) time.Time {
	if c.GrantedAt == nil {
		return time.Time{}
	}
	return *c.GrantedAt
}
