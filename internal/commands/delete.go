package commands

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// DeleteParams selects the test cases to delete.
type DeleteParams struct {
	IDs []int64 `json:"ids"`
}

// deleteInverse carries every deleted row with its scenarios, enough to
// restore them under their original ids, folder and position.
type deleteInverse struct {
	Rows []domain.TestCase `json:"rows"`
}

// DeleteEntities deletes test cases together with their scenarios.
type DeleteEntities struct{}

func (DeleteEntities) Type() domain.ActionType { return domain.ActionDeleteEntities }

func (DeleteEntities) Validate(params json.RawMessage) error {
	var p DeleteParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	return validateIDs(p.IDs)
}

func (d DeleteEntities) Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error) {
	var p DeleteParams
	if err := decodeParams(params, &p); err != nil {
		return Outcome{}, err
	}
	if err := validateIDs(p.IDs); err != nil {
		return Outcome{}, err
	}

	byID, err := loadAll(ctx, tx, scope, p.IDs)
	if err != nil {
		return Outcome{}, err
	}

	inverse := deleteInverse{Rows: make([]domain.TestCase, 0, len(p.IDs))}
	mutation := domain.Mutation{}
	for _, id := range p.IDs {
		row := byID[id]
		inverse.Rows = append(inverse.Rows, row.Clone())
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpDelete, TestCase: &row})
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
		Affected:    append([]int64(nil), p.IDs...),
		Description: "Deleted " + testCases(len(p.IDs)),
	}, nil
}

func (DeleteEntities) ApplyInverse(_ context.Context, _ repository.Tx, _ uuid.UUID, inverse json.RawMessage) (Outcome, error) {
	var inv deleteInverse
	if err := decodeInverse(inverse, &inv); err != nil {
		return Outcome{}, err
	}

	mutation := domain.Mutation{Restore: true}
	affected := make([]int64, 0, len(inv.Rows))
	for _, row := range inv.Rows {
		restored := row.Clone()
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpInsert, TestCase: &restored})
		affected = append(affected, row.ID)
	}

	return Outcome{
		Mutation:    mutation,
		Affected:    affected,
		Description: "Restored " + testCases(len(inv.Rows)),
	}, nil
}
