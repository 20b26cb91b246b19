package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of change an audit entry records.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditUpdated  AuditAction = "updated"
	AuditDeleted  AuditAction = "deleted"
	AuditRestored AuditAction = "restored"
)

// AuditEntry is an append-only record of the changes made to one entity in
// one write. Sequence is per entity and unrelated to command sequence.
type AuditEntry struct {
	ID         uuid.UUID   `json:"id"`
	EntityType EntityType  `json:"entityType"`
	EntityID   int64       `json:"entityId"`
	Sequence   int64       `json:"sequence"`
	Action     AuditAction `json:"action"`
	Diffs      []FieldDiff `json:"diffs"`
	ActorID    string      `json:"actorId"`
	CommandID  *uuid.UUID  `json:"commandId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}
