// Package resolve decides which of two competing record versions wins when a
// local replica and the authoritative store diverge. Resolution is purely
// timestamp-based (last-write-wins) with a configurable strategy; there is no
// distributed consensus and no cross-replica transaction.
package resolve

import (
	"encoding/json"

	"github.com/outpostdb/outpost/internal/record"
)

// Strategy names a conflict-resolution policy.
type Strategy string

const (
	// StrategyLocal keeps the local version unconditionally.
	StrategyLocal Strategy = "local"

	// StrategyServer keeps the remote version unconditionally.
	// This is the default: the server is the authoritative store.
	StrategyServer Strategy = "server"

	// StrategyMerge starts from the remote version and overlays every local
	// payload field that is present and non-null, taking the later UpdatedAt.
	StrategyMerge Strategy = "merge"
)

// Known reports whether s names a recognized strategy.
func Known(s Strategy) bool {
	switch s {
	case StrategyLocal, StrategyServer, StrategyMerge:
		return true
	}
	return false
}

// Normalize maps unknown strategy names to StrategyServer.
// Callers that want the fallback to be observable should check Known first.
func Normalize(s Strategy) Strategy {
	if !Known(s) {
		return StrategyServer
	}
	return s
}

// IsLocalNewer reports whether the local version strictly postdates the
// remote one. Equal timestamps are "not newer": ties never favor local.
func IsLocalNewer(local, remote record.SyncRecord) bool {
	return local.UpdatedAt > remote.UpdatedAt
}

// Resolve returns the winning version of a record under the given strategy.
// Pure and deterministic; neither input is modified.
func Resolve(local, remote record.SyncRecord, strategy Strategy) record.SyncRecord {
	switch Normalize(strategy) {
	case StrategyLocal:
		return local
	case StrategyMerge:
		return merge(local, remote)
	default:
		return remote
	}
}

// merge builds the merged version: remote is the base, local payload fields
// that are present and non-null override, and UpdatedAt is the max of both.
//
// When both sides hold different non-null values for the same field the local
// value wins. That is policy, not contract: the behavior is under-specified
// upstream and may change with product input.
//
// If either payload is not a JSON object the merge degrades to whole-record
// last-write-wins.
func merge(local, remote record.SyncRecord) record.SyncRecord {
	localFields, lerr := local.Fields()
	remoteFields, rerr := remote.Fields()
	if lerr != nil || rerr != nil {
		if IsLocalNewer(local, remote) {
			return local
		}
		return remote
	}

	for k, v := range localFields {
		if v == nil {
			continue
		}
		remoteFields[k] = v
	}

	merged := remote
	if data, err := json.Marshal(remoteFields); err == nil {
		merged.Data = data
	}
	if IsLocalNewer(local, remote) {
		merged.UpdatedAt = local.UpdatedAt
		merged.ClientID = local.ClientID
	}
	return merged
}
