package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// GenesisHash is the prior hash of the first entry ever appended.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalEntry fixes field order and formats so the same entry always
// hashes to the same digest, whichever store it was read back from.
type canonicalEntry struct {
	ID             uint64 `json:"id"`
	ActorID        string `json:"actor_id"`
	Action         string `json:"action"`
	ResourceType   string `json:"resource_type"`
	ResourceID     string `json:"resource_id"`
	Result         string `json:"result"`
	Reason         string `json:"reason"`
	Purpose        string `json:"purpose"`
	Severity       string `json:"severity"`
	RequestID      string `json:"request_id"`
	Timestamp      string `json:"ts"`
	PriorEntryHash string `json:"prior_entry_hash"`
}

// HashEntry returns the hex SHA-256 digest of e's canonical encoding.
func HashEntry(e Entry) string {
	payload, _ := json.Marshal(canonicalEntry{
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
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		PriorEntryHash: e.PriorEntryHash,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// normalizeTimestamp truncates to the precision every store can round-trip.
// PostgreSQL keeps microseconds, so nanoseconds would break verification.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
