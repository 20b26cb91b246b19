// Package audit turns before/after snapshots of test cases into append-only
// audit entries.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// Change is one entity's state on both sides of a write. A nil side means
// the entity did not exist.
type Change struct {
	ID     int64
	Before *domain.TestCase
	After  *domain.TestCase
}

// Write describes who made a set of changes and why.
type Write struct {
	ActorID   string
	CommandID *uuid.UUID
	// Reversal marks writes that undo a command. Entities brought back into
	// existence by a reversal are recorded as restored rather than created.
	Reversal bool
	At       time.Time
}

// Writer builds audit entries and appends them through the repository.
type Writer struct {
	strategies []domain.DiffStrategy
}

// NewWriter creates a writer using the default test case diff strategies.
func NewWriter() *Writer {
	return &Writer{strategies: domain.TestCaseDiffStrategies}
}

// Entries computes the audit entries for changes without storing them.
// Updates with no field differences produce no entry.
func (w *Writer) Entries(write Write, changes []Change) []domain.AuditEntry {
	at := write.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entries := make([]domain.AuditEntry, 0, len(changes))
	for _, change := range changes {
		action, ok := classify(change, write.Reversal)
		if !ok {
			continue
		}
		diffs := w.diff(change.Before, change.After)
		if action == domain.AuditUpdated && len(diffs) == 0 {
			continue
		}
		entries = append(entries, domain.AuditEntry{
			ID:         uuid.New(),
			EntityType: domain.EntityTypeTestCase,
			EntityID:   change.ID,
			Action:     action,
			Diffs:      diffs,
			ActorID:    write.ActorID,
			CommandID:  write.CommandID,
			CreatedAt:  at,
		})
	}
	return entries
}

// Record computes and appends the audit entries for changes.
func (w *Writer) Record(ctx context.Context, repo repository.AuditRepository, write Write, changes []Change) ([]domain.AuditEntry, error) {
	entries := w.Entries(write, changes)
	if len(entries) == 0 {
		return nil, nil
	}
	if err := repo.Append(ctx, entries); err != nil {
		return nil, fmt.Errorf("failed to append audit entries: %w", err)
	}
	return entries, nil
}

func (w *Writer) diff(before, after *domain.TestCase) []domain.FieldDiff {
	diffs := []domain.FieldDiff{}
	for _, strategy := range w.strategies {
		if diff, ok := strategy.Diff(before, after); ok {
			diffs = append(diffs, diff)
		}
	}
	return diffs
}

func classify(change Change, reversal bool) (domain.AuditAction, bool) {
	switch {
	case change.Before == nil && change.After == nil:
		return "", false
	case change.Before == nil:
		if reversal {
			return domain.AuditRestored, true
		}
		return domain.AuditCreated, true
	case change.After == nil:
		return domain.AuditDeleted, true
	default:
		return domain.AuditUpdated, true
	}
}
