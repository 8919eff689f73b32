package access

import (
	"time"

	"phiguard/internal/audit"
)

// DefaultResourceType applies when a request does not name one.
const DefaultResourceType = "health_record"

// Actions a request may perform on a resource.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// ReasonCode explains a decision. It is the only detail callers outside
// the core see.
type ReasonCode string

const (
	ReasonInvalidRequest          ReasonCode = "invalid_request"
	ReasonRoleUnauthorized        ReasonCode = "role_unauthorized"
	ReasonSelfAccess              ReasonCode = "self_access"
	ReasonEmergencyAccess         ReasonCode = "emergency_access"
	ReasonEmergencyReasonRequired ReasonCode = "emergency_reason_required"
	ReasonNoValidConsent          ReasonCode = "no_valid_consent"
	ReasonInsufficientScope       ReasonCode = "insufficient_consent_scope"
	ReasonConsentGranted          ReasonCode = "consent_granted"
	ReasonInternalError           ReasonCode = "internal_error"
	ReasonAuditFailure            ReasonCode = "audit_failure"
)

// Request is one access attempt on a subject's data.
type Request struct {
	RequesterID    string
	RequesterRole  string
	SubjectID      string
	DataCategories []string
	Purpose        string
	Action         string
	// ResourceType defaults to DefaultResourceType.
	ResourceType string
	// Region is where the data will be accessed from; checked against
	// geographically scoped consents.
	Region string
	// EmergencyReason is required when the role is an emergency override.
	EmergencyReason string
}

// Decision is either Allow or Deny. Callers switch on the concrete type.
type Decision interface {
	Outcome() Outcome
	isDecision()
}

// Allow grants the request. ConsentIDs is empty for self and emergency
// access.
type Allow struct {
	Code       ReasonCode
	ConsentIDs []string
	At         time.Time
	EntryID    audit.EntryID
}

// Deny refuses the request. EntryID is zero when the denial itself could
// not be audited.
type Deny struct {
	Code    ReasonCode
	At      time.Time
	EntryID audit.EntryID
}

func (Allow) isDecision() {}
func (Deny) isDecision()  {}

func (a Allow) Outcome() Outcome {
	return Outcome{Allowed: true, ReasonCode: a.Code}
}

func (d Deny) Outcome() Outcome {
	return Outcome{Allowed: false, ReasonCode: d.Code}
}

// Outcome is the projection of a decision safe to return to callers.
type Outcome struct {
	Allowed    bool       `json:"allowed"`
	ReasonCode ReasonCode `json:"reason_code"`
}

// IsAllowed reports whether d is an Allow.
func IsAllowed(d Decision) bool {
	_, ok := d.(Allow)
	return ok
}
