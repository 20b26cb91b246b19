package repository

import (
	"context"

	"github.com/rpattn/casetrail/internal/domain"

	"github.com/google/uuid"
)

// Store is the single coordination point. WithTx runs fn inside one
// read-write transaction and commits only when fn returns nil. View runs fn
// against a read-only transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close()
}

// Tx exposes transaction-bound repositories.
type Tx interface {
	Organizations() OrganizationRepository
	TestCases() TestCaseRepository
	Commands() CommandRepository
	Audit() AuditRepository
}

// OrganizationRepository defines the interface for organization and folder operations
type OrganizationRepository interface {
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)
	// LockByID is GetByID that also holds the organization row for the rest
	// of a read-write transaction. Command log writes in one organization
	// serialize on it.
	LockByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)
	List(ctx context.Context) ([]domain.Organization, error)
	CreateFolder(ctx context.Context, folder domain.Folder) (domain.Folder, error)
	GetFolder(ctx context.Context, organizationID uuid.UUID, id int64) (domain.Folder, error)
}

// TestCaseRepository defines row-level access to test cases and their
// scenarios. Versions are written exactly as given; callers decide whether a
// write bumps or restores them.
type TestCaseRepository interface {
	// NextID reserves an id from the shared entity id sequence.
	NextID(ctx context.Context) (int64, error)
	// GetByIDs returns the cases that exist, with scenarios, ordered by id.
	// Rows are locked for the rest of the transaction where the store supports it.
	GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []int64) ([]domain.TestCase, error)
	// ListByFolder returns the cases of a folder (nil = unfiled) ordered by position.
	ListByFolder(ctx context.Context, organizationID uuid.UUID, folderID *int64) ([]domain.TestCase, error)
	// MaxPosition returns the highest position in a folder, or -1 when empty.
	MaxPosition(ctx context.Context, organizationID uuid.UUID, folderID *int64) (int, error)

	Insert(ctx context.Context, tc domain.TestCase) error
	Update(ctx context.Context, tc domain.TestCase) error
	Delete(ctx context.Context, organizationID uuid.UUID, id int64) error

	InsertScenario(ctx context.Context, sc domain.Scenario) error
	UpdateScenario(ctx context.Context, sc domain.Scenario) error
	DeleteScenario(ctx context.Context, id int64) error
}

// CommandRepository persists the per-organization command log.
type CommandRepository interface {
	Insert(ctx context.Context, cmd domain.Command) error
	// Update writes status, sequence, payloads and stamps of an existing command.
	Update(ctx context.Context, cmd domain.Command) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Command, error)
	// MaxSequence returns the highest sequence in the organization, 0 when empty.
	MaxSequence(ctx context.Context, organizationID uuid.UUID) (int64, error)
	// ExpireUndone transitions every undone command in the organization to expired.
	ExpireUndone(ctx context.Context, organizationID uuid.UUID) (int64, error)
	// ListByStatus returns commands with the given status. Descending order
	// puts the highest sequence first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, organizationID uuid.UUID, status domain.CommandStatus, descending bool, limit int) ([]domain.Command, error)
}

// AuditRepository stores the append-only audit trail.
type AuditRepository interface {
	// Append assigns each entry the next per-entity sequence and stores it.
	Append(ctx context.Context, entries []domain.AuditEntry) error
	ListByEntity(ctx context.Context, entityID int64) ([]domain.AuditEntry, error)
	ListByEntities(ctx context.Context, entityIDs []int64) (map[int64][]domain.AuditEntry, error)
}
