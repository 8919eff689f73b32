// Package fallback provides emergency channels for audit entries the primary
// store rejected. Entries delivered here have no sequence ID or chain link;
// operators reconcile them into the log by hand.
package fallback

import (
	"encoding/json"
	"time"

	"phiguard/internal/audit"
)

// Record is the wire form of an undelivered entry.
type Record struct {
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Result       string    `json:"result"`
	Reason       string    `json:"reason,omitempty"`
	Purpose      string    `json:"purpose,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Cause        string    `json:"cause"`
	FailedAt     time.Time `json:"failed_at"`
}

// NewRecord converts entry and the failure cause into a Record.
func NewRecord(entry audit.Entry, cause error, at time.Time) Record {
	r := Record{
		ActorID:      entry.ActorID,
		Action:       string(entry.Action),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Result:       string(entry.Result),
		Reason:       entry.Reason,
		Purpose:      entry.Purpose,
		Severity:     string(entry.Severity),
		RequestID:    entry.RequestID,
		FailedAt:     at.UTC(),
	}
	if cause != nil {
		r.Cause = cause.Error()
	}
	return r
}

func encode(entry audit.Entry, cause error, at time.Time) ([]byte, error) {
	return json.Marshal(NewRecord(entry, cause, at))
}
