package admin

import (
	"time"

	"phiguard/internal/audit"
)

// EntryResponse is the HTTP response DTO for one audit entry.
type EntryResponse struct {
	ID             uint64    `json:"id"`
	ActorID        string    `json:"actor_id"`
	Action         string    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Result         string    `json:"result"`
	Reason         string    `json:"reason,omitempty"`
	Purpose        string    `json:"purpose,omitempty"`
	Severity       string    `json:"severity"`
	RequestID      string    `json:"request_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	PriorEntryHash string    `json:"prior_entry_hash"`
}

// EntriesResponse wraps one page of audit entries.
type EntriesResponse struct {
	Entries []EntryResponse `json:"entries"`
	Next    string          `json:"next"`
	HasMore bool            `json:"has_more"`
}

// VerifyResponse reports a chain verification.
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	Checked  int    `json:"checked"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// PruneResponse reports how many entries a prune removed.
type PruneResponse struct {
	Pruned int `json:"pruned"`
}

// RotateResponse carries the id of a freshly generated key.
type RotateResponse struct {
	KeyID string `json:"key_id"`
}

func toEntryResponse(e audit.Entry) EntryResponse {
	return EntryResponse{
		ID:             uint64(e.ID),
		ActorID:        e.ActorID,
		Action:         string(e.Action),
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Result:         string(e.Result),
		Reason:         e.Reason,
		Purpose:        e.Purpose,
		Severity:       string(e.Severity),
		RequestID:      e.RequestID,
		Timestamp:      e.Timestamp,
		PriorEntryHash: e.PriorEntryHash,
	}
}
