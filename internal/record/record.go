// Package record defines the snapshot types shared across the resilience
// layer: queued sync records, accumulated memory state, and the read-only
// status projections handed to callers.
//
// Every type in this package is a value. Components never hand out references
// into their live internal state; they construct a fresh snapshot per call.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of local mutation a queued record represents.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncRecord is one queued change awaiting delivery to the authoritative
// store, or one change received from it.
//
// UpdatedAt is wall-clock unix seconds and is the sole ordering signal used
// for conflict resolution; there are no vector clocks. It must reflect the
// time of the local mutation, not the time the record arrived anywhere.
//
// SyncID is generated at construction and identifies this record instance
// for queue bookkeeping and (eventually) server-side idempotency.
type SyncRecord struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	ClientID  string          `json:"client_id"`
	UpdatedAt int64           `json:"updated_at"`
	SyncID    string          `json:"sync_id"`
}

// New builds a SyncRecord for a local mutation happening now.
//
// The payload is serialized immediately so later mutations to the caller's
// value cannot leak into the queued record. A later change to the same ID
// must produce a new record via New, never mutate the old one.
func New(id string, payload any, clientID string, at time.Time) (SyncRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SyncRecord{}, fmt.Errorf("failed to serialize payload for %q: %w", id, err)
	}
	return SyncRecord{
		ID:        id,
		Data:      data,
		ClientID:  clientID,
		UpdatedAt: at.Unix(),
		SyncID:    uuid.NewString(),
	}, nil
}

// Fields unmarshals the record payload into a field map.
// Returns an error if the payload is not a JSON object.
func (r SyncRecord) Fields() (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		return nil, fmt.Errorf("record %q payload is not an object: %w", r.ID, err)
	}
	return fields, nil
}

// MemoryState describes accumulated write volume inside one tracking epoch.
// BytesWritten is monotonically non-decreasing until an explicit reset.
// Monitors replace the whole state on every tracked write rather than
// mutating it in place.
type MemoryState struct {
	BytesWritten uint64
	RowCount     uint64
	CreatedAt    time.Time
}

// MemoryStats is the snapshot returned by a monitor's Stats call.
type MemoryStats struct {
	BytesWritten uint64  `json:"bytes_written"`
	RowCount     uint64  `json:"row_count"`
	MaxBytes     uint64  `json:"max_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	Status       string  `json:"status"`
	Uptime       time.Duration
}

// SyncStatus is the read-only projection of a sync manager's state,
// recomputed on demand and never cached.
type SyncStatus struct {
	ClientID     string `json:"client_id"`
	LastSyncTime int64  `json:"last_sync_time"`
	PendingCount int    `json:"pending_count"`
	IsSyncing    bool   `json:"is_syncing"`
}

// NewClientID generates a fresh replica identity.
func NewClientID() string {
	return uuid.NewString()
}
