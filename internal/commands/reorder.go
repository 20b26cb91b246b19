package commands

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// ReorderParams is the complete new ordering of one folder (nil = unfiled).
type ReorderParams struct {
	FolderID   *int64  `json:"folderId"`
	OrderedIDs []int64 `json:"orderedIds"`
}

type orderEntry struct {
	ID       int64 `json:"id"`
	Position int   `json:"position"`
}

// reorderInverse is the full prior permutation of the folder, not a diff.
type reorderInverse struct {
	FolderID *int64       `json:"folderId"`
	Prior    []orderEntry `json:"prior"`
}

// Reorder rewrites the positions of every test case in a folder.
type Reorder struct{}

func (Reorder) Type() domain.ActionType { return domain.ActionReorder }

func (Reorder) Validate(params json.RawMessage) error {
	var p ReorderParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	return validateIDs(p.OrderedIDs)
}

func (Reorder) Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error) {
	var p ReorderParams
	if err := decodeParams(params, &p); err != nil {
		return Outcome{}, err
	}
	if err := validateIDs(p.OrderedIDs); err != nil {
		return Outcome{}, err
	}

	if p.FolderID != nil {
		if _, err := tx.Organizations().GetFolder(ctx, scope, *p.FolderID); err != nil {
			return Outcome{}, err
		}
	}

	current, err := tx.TestCases().ListByFolder(ctx, scope, p.FolderID)
	if err != nil {
		return Outcome{}, err
	}
	if len(current) != len(p.OrderedIDs) {
		return Outcome{}, domain.ErrValidation(
			"orderedIds must list all %d test cases in folder %s, got %d",
			len(current), domain.FolderLabel(p.FolderID), len(p.OrderedIDs),
		)
	}

	byID := make(map[int64]domain.TestCase, len(current))
	inverse := reorderInverse{FolderID: p.FolderID, Prior: make([]orderEntry, 0, len(current))}
	affected := make([]int64, 0, len(current))
	for _, tc := range current {
		byID[tc.ID] = tc
		inverse.Prior = append(inverse.Prior, orderEntry{ID: tc.ID, Position: tc.Position})
		affected = append(affected, tc.ID)
	}

	mutation := domain.Mutation{}
	for position, id := range p.OrderedIDs {
		tc, ok := byID[id]
		if !ok {
			return Outcome{}, domain.ErrValidation("test case %d is not in folder %s", id, domain.FolderLabel(p.FolderID))
		}
		if tc.Position == position {
			continue
		}
		moved := tc.WithPosition(position)
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &moved})
	}

	forward, err := encode(p)
	if err != nil {
		return Outcome{}, err
	}
	inverseRaw, err := encode(inverse)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Mutation:    mutation,
		Forward:     forward,
		Inverse:     inverseRaw,
		Affected:    affected,
		Description: "Reordered " + testCases(len(p.OrderedIDs)),
	}, nil
}

func (Reorder) ApplyInverse(ctx context.Context, tx repository.Tx, scope uuid.UUID, inverse json.RawMessage) (Outcome, error) {
	var inv reorderInverse
	if err := decodeInverse(inverse, &inv); err != nil {
		return Outcome{}, err
	}

	ids := make([]int64, len(inv.Prior))
	for i, entry := range inv.Prior {
		ids[i] = entry.ID
	}
	byID, err := loadAll(ctx, tx, scope, ids)
	if err != nil {
		return Outcome{}, err
	}

	// Cases created in the folder since the reorder keep their relative
	// order after the restored permutation.
	members, err := tx.TestCases().ListByFolder(ctx, scope, inv.FolderID)
	if err != nil {
		return Outcome{}, err
	}
	prior := make(map[int64]struct{}, len(inv.Prior))
	last := -1
	for _, entry := range inv.Prior {
		prior[entry.ID] = struct{}{}
		if entry.Position > last {
			last = entry.Position
		}
	}

	mutation := domain.Mutation{Restore: true}
	for _, entry := range inv.Prior {
		tc := byID[entry.ID]
		if tc.Position == entry.Position {
			continue
		}
		restored := tc.WithPosition(entry.Position)
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &restored})
	}
	for _, tc := range members {
		if _, ok := prior[tc.ID]; ok {
			continue
		}
		last++
		ids = append(ids, tc.ID)
		if tc.Position == last {
			continue
		}
		shifted := tc.WithPosition(last)
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &shifted})
	}

	return Outcome{
		Mutation:    mutation,
		Affected:    ids,
		Description: "Restored order of " + testCases(len(ids)),
	}, nil
}
