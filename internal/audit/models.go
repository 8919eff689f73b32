package audit

import (
	"strconv"
	"time"
)

// EntryID is the monotonic sequence number of an entry. The first entry is 1.
type EntryID uint64

func (id EntryID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Action names the operation an entry records.
type Action string

const (
	// Access decisions
	ActionAccessDecision Action = "access_decision"

	// Key lifecycle
	ActionKeyRotation Action = "key_rotation"
	ActionKeyExpired  Action = "key_expired"
	ActionKeyPurged   Action = "key_purged"

	// Consent lifecycle
	ActionConsentGranted   Action = "consent_granted"
	ActionConsentActivated Action = "consent_activated"
	ActionConsentRevoked   Action = "consent_revoked"
	ActionConsentExpired   Action = "consent_expired"

	// Log maintenance
	ActionAuditPruned Action = "audit_pruned"
)

// Result is the outcome recorded for an action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultAllowed Result = "allowed"
	ResultDenied  Result = "denied"
)

// Severity drives alert routing downstream.
type Severity string

const (
	SeverityNormal Severity = "normal"
	SeverityHigh   Severity = "high"
)

// actionSeverities maps actions that default to elevated severity.
// Everything else is normal unless the emitter says otherwise.
var actionSeverities = map[Action]Severity{
	ActionKeyPurged:   SeverityHigh,
	ActionAuditPruned: SeverityHigh,
}

// DefaultSeverity returns the severity used when an entry does not set one.
func (a Action) DefaultSeverity() Severity {
	if s, ok := actionSeverities[a]; ok {
		return s
	}
	return SeverityNormal
}

// Resource types referenced by entries.
const (
	ResourceKey     = "encryption_key"
	ResourceConsent = "consent"
	ResourceLog     = "audit_log"
)

// Entry is one immutable record in the hash-chained log. ID, Timestamp and
// PriorEntryHash are assigned by Log.Append; emitters fill in the rest.
type Entry struct {
	ID             EntryID
	ActorID        string
	Action         Action
	ResourceType   string
	ResourceID     string
	Result         Result
	Reason         string
	Purpose        string
	Severity       Severity
	RequestID      string
	Timestamp      time.Time
	PriorEntryHash string
}

// Checkpoint anchors the chain after pruning: Hash is the hash of entry
// Through, which is the last entry no longer present in the store.
type Checkpoint struct {
	Through EntryID
	Hash    string
}

// IsZero reports whether nothing has been pruned yet.
func (c Checkpoint) IsZero() bool {
	return c.Through == 0
}

// Cursor marks a position in the log; a page resumes strictly after it.
type Cursor uint64

func (c Cursor) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseCursor parses a cursor previously rendered with String. Empty input is
// the start of the log.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Cursor(v), nil
}

// Filter selects entries for Query and Page. Zero fields match everything.
// From is inclusive, To is exclusive.
type Filter struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	Result       Result
	Severity     Severity
	From         time.Time
	To           time.Time
	After        Cursor
	PageSize     int
}

// Matches reports whether e satisfies every non-zero field of f, ignoring
// paging fields.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Page is one slice of a query plus the cursor to resume from.
type Page struct {
	Entries []Entry
	Next    Cursor
	HasMore bool
}
