// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// SyncStatus is the state of one neurostore-to-pond identifier mapping.
type SyncStatus string

const (
	// SyncOK means the mapping was verified against ns-pond on the last pass.
	SyncOK SyncStatus = "ok"

	// SyncConflict means ns-pond reported a different pond id than the one
	// on record. Conflicts are never resolved automatically.
	SyncConflict SyncStatus = "conflict"
)

// IdentifierMapping links a neurostore base-study id to its ns-pond id.
// A neurostore id maps to at most one pond id at any time, and vice versa.
type IdentifierMapping struct {
	NeurostoreID NeurostoreStudyID `json:"neurostore_id" yaml:"neurostore_id"`
	PondID       PondID            `json:"pond_id" yaml:"pond_id"`
	Status       SyncStatus        `json:"status" yaml:"status"`

	// LastVerified is when the mapping was last confirmed against ns-pond.
	LastVerified time.Time `json:"last_verified" yaml:"last_verified"`
}

// SyncResult classifies the outcome of reconciling one neurostore id.
type SyncResult string

const (
	// SyncCreated means a new mapping was recorded.
	SyncCreated SyncResult = "created"

	// SyncVerified means an existing mapping was re-confirmed.
	SyncVerified SyncResult = "verified"

	// SyncConflicted means ns-pond diverged from the recorded mapping.
	SyncConflicted SyncResult = "conflict"

	// SyncFailed means the pond lookup failed for this id.
	SyncFailed SyncResult = "failed"
)

// SyncOutcome is the per-id result of a reconciliation pass.
type SyncOutcome struct {
	NeurostoreID NeurostoreStudyID `json:"neurostore_id" yaml:"neurostore_id"`
	PondID       PondID            `json:"pond_id,omitempty" yaml:"pond_id,omitempty"`
	Result       SyncResult        `json:"result" yaml:"result"`

	// Detail explains conflict and failure outcomes.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}
