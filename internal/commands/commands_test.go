package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
	"github.com/rpattn/casetrail/internal/repository/memory"
)

var seededAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// seed creates an organization with one folder holding cases 10-12 and an
// unfiled case 13. Case 10 has scenarios 20 and 21.
func seed(t *testing.T) (*memory.Store, uuid.UUID, int64) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	org := domain.NewOrganization("QA", "")
	var folderID int64

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().Create(ctx, org); err != nil {
			return err
		}
		folder, err := tx.Organizations().CreateFolder(ctx, domain.Folder{OrganizationID: org.ID, Name: "Login"})
		if err != nil {
			return err
		}
		folderID = folder.ID

		states := map[int64]string{10: "draft", 11: "ready", 12: "blocked"}
		for position, id := range []int64{10, 11, 12} {
			tc := domain.TestCase{
				ID: id, OrganizationID: org.ID, FolderID: &folderID, Title: "Case", State: states[id],
				Priority: domain.DefaultPriority, Position: position, Version: 1, CreatedAt: seededAt, UpdatedAt: seededAt,
			}
			if id == 10 {
				tc.Scenarios = []domain.Scenario{
					{ID: 20, TestCaseID: 10, Name: "first", Steps: "Given one", Position: 0, Version: 1},
					{ID: 21, TestCaseID: 10, Name: "second", Steps: "Given two", Position: 1, Version: 1},
				}
			}
			if err := tx.TestCases().Insert(ctx, tc); err != nil {
				return err
			}
		}
		return tx.TestCases().Insert(ctx, domain.TestCase{
			ID: 13, OrganizationID: org.ID, Title: "Unfiled", State: domain.DefaultState,
			Priority: domain.DefaultPriority, Version: 1, CreatedAt: seededAt, UpdatedAt: seededAt,
		})
	})
	require.NoError(t, err)
	return store, org.ID, folderID
}

func execute(t *testing.T, store *memory.Store, scope uuid.UUID, def Definition, params any) Outcome {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, def.Validate(raw))

	var outcome Outcome
	err = store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		outcome, err = def.Execute(context.Background(), tx, scope, raw)
		return err
	})
	require.NoError(t, err)
	return outcome
}

func TestDefaultRegistryHasEveryActionType(t *testing.T) {
	registry := DefaultRegistry()
	assert.Equal(t, []domain.ActionType{
		domain.ActionChangeField,
		domain.ActionDeleteEntities,
		domain.ActionEditChildCollection,
		domain.ActionMoveToContainer,
		domain.ActionReorder,
	}, registry.Types())

	def, err := registry.Lookup(domain.ActionReorder)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReorder, def.Type())

	_, err = registry.Lookup("Rename")
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestDeleteInverseCarriesRowsAndScenarios(t *testing.T) {
	store, scope, folderID := seed(t)

	outcome := execute(t, store, scope, DeleteEntities{}, DeleteParams{IDs: []int64{10, 11}})
	assert.Equal(t, "Deleted 2 test cases", outcome.Description)
	assert.Equal(t, []int64{10, 11}, outcome.Affected)
	require.Len(t, outcome.Mutation.Ops, 2)
	assert.Equal(t, domain.OpDelete, outcome.Mutation.Ops[0].Kind)
	assert.False(t, outcome.Mutation.Restore)

	var inv deleteInverse
	require.NoError(t, json.Unmarshal(outcome.Inverse, &inv))
	require.Len(t, inv.Rows, 2)
	assert.Equal(t, int64(10), inv.Rows[0].ID)
	assert.Equal(t, folderID, *inv.Rows[0].FolderID)
	assert.Len(t, inv.Rows[0].Scenarios, 2)

	var restore Outcome
	err := store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		restore, err = DeleteEntities{}.ApplyInverse(context.Background(), tx, scope, outcome.Inverse)
		return err
	})
	require.NoError(t, err)
	assert.True(t, restore.Mutation.Restore)
	require.Len(t, restore.Mutation.Ops, 2)
	assert.Equal(t, domain.OpInsert, restore.Mutation.Ops[0].Kind)
	assert.Len(t, restore.Mutation.Ops[0].TestCase.Scenarios, 2)
}

func TestChangeFieldInverseKeepsHeterogeneousPriorValues(t *testing.T) {
	store, scope, _ := seed(t)

	outcome := execute(t, store, scope, ChangeField{}, ChangeFieldParams{
		IDs:    []int64{10, 11, 12},
		Fields: map[string]string{domain.FieldState: "retired"},
	})
	assert.Equal(t, "Changed state on 3 test cases", outcome.Description)

	var inv changeFieldInverse
	require.NoError(t, json.Unmarshal(outcome.Inverse, &inv))
	assert.Equal(t, "draft", inv.Prior[10].Fields[domain.FieldState])
	assert.Equal(t, "ready", inv.Prior[11].Fields[domain.FieldState])
	assert.Equal(t, "blocked", inv.Prior[12].Fields[domain.FieldState])

	for _, op := range outcome.Mutation.Ops {
		assert.Equal(t, "retired", op.TestCase.State)
	}
}

func TestChangeFieldValidation(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{name: "no fields", params: `{"ids":[1],"fields":{}}`},
		{name: "unknown field", params: `{"ids":[1],"fields":{"folder":"x"}}`},
		{name: "empty title", params: `{"ids":[1],"fields":{"title":"  "}}`},
		{name: "empty state", params: `{"ids":[1],"fields":{"state":""}}`},
		{name: "negative id", params: `{"ids":[-1],"fields":{"state":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ChangeField{}.Validate(json.RawMessage(tt.params))
			var validation *domain.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}

	assert.NoError(t, ChangeField{}.Validate(json.RawMessage(`{"ids":[1],"fields":{"description":""}}`)))
}

func TestMoveAppendsAndSkipsCasesAlreadyInTarget(t *testing.T) {
	store, scope, folderID := seed(t)

	outcome := execute(t, store, scope, MoveToContainer{}, MoveParams{IDs: []int64{13, 11}, FolderID: &folderID})
	assert.Equal(t, "Moved 2 test cases to folder "+domain.FolderLabel(&folderID), outcome.Description)
	require.Len(t, outcome.Mutation.Ops, 1)
	moved := outcome.Mutation.Ops[0].TestCase
	assert.Equal(t, int64(13), moved.ID)
	assert.Equal(t, folderID, *moved.FolderID)
	assert.Equal(t, 3, moved.Position)

	var inv moveInverse
	require.NoError(t, json.Unmarshal(outcome.Inverse, &inv))
	require.Contains(t, inv.Prior, int64(13))
	assert.Nil(t, inv.Prior[13].FolderID)
	assert.NotContains(t, inv.Prior, int64(11))
}

// settle writes rows as they are, outside any command.
func settle(t *testing.T, store *memory.Store, update []domain.TestCase, insert []domain.TestCase) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		for _, tc := range update {
			if err := tx.TestCases().Update(ctx, tc); err != nil {
				return err
			}
		}
		for _, tc := range insert {
			if err := tx.TestCases().Insert(ctx, tc); err != nil {
				return err
			}
		}
		return nil
	}))
}

func inverseOf(t *testing.T, store *memory.Store, scope uuid.UUID, def Definition, inverse json.RawMessage) Outcome {
	t.Helper()
	var outcome Outcome
	err := store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		outcome, err = def.ApplyInverse(context.Background(), tx, scope, inverse)
		return err
	})
	require.NoError(t, err)
	return outcome
}

func positionsOf(mutation domain.Mutation) map[int64]int {
	out := map[int64]int{}
	for _, op := range mutation.Ops {
		if op.TestCase != nil {
			out[op.TestCase.ID] = op.TestCase.Position
		}
	}
	return out
}

func TestMoveBackAppendsWhenPriorSlotIsTaken(t *testing.T) {
	store, scope, folderID := seed(t)

	outcome := execute(t, store, scope, MoveToContainer{}, MoveParams{IDs: []int64{11, 12}, FolderID: nil})
	var moved []domain.TestCase
	for _, op := range outcome.Mutation.Ops {
		moved = append(moved, *op.TestCase)
	}
	newcomer := domain.TestCase{
		ID: 14, OrganizationID: scope, FolderID: &folderID, Title: "Newcomer", State: domain.DefaultState,
		Priority: domain.DefaultPriority, Position: 1, Version: 1, CreatedAt: seededAt, UpdatedAt: seededAt,
	}
	settle(t, store, moved, []domain.TestCase{newcomer})

	back := inverseOf(t, store, scope, MoveToContainer{}, outcome.Inverse)
	positions := positionsOf(back.Mutation)
	assert.Equal(t, 2, positions[12], "free slot is restored")
	assert.Equal(t, 3, positions[11], "taken slot appends after the last case")
	for _, op := range back.Mutation.Ops {
		assert.Equal(t, folderID, *op.TestCase.FolderID)
		assert.Equal(t, int64(1), op.TestCase.Version, "current version is carried for the executor to bump")
	}
}

func TestMoveToMissingFolderIsNotFound(t *testing.T) {
	store, scope, _ := seed(t)
	missing := int64(999)
	raw, _ := json.Marshal(MoveParams{IDs: []int64{10}, FolderID: &missing})

	err := store.View(context.Background(), func(tx repository.Tx) error {
		_, err := MoveToContainer{}.Execute(context.Background(), tx, scope, raw)
		return err
	})
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestReorderInverseIsTheFullPriorPermutation(t *testing.T) {
	store, scope, folderID := seed(t)

	outcome := execute(t, store, scope, Reorder{}, ReorderParams{FolderID: &folderID, OrderedIDs: []int64{10, 12, 11}})
	assert.Equal(t, []int64{10, 11, 12}, outcome.Affected)
	require.Len(t, outcome.Mutation.Ops, 2, "case 10 keeps its position")

	var inv reorderInverse
	require.NoError(t, json.Unmarshal(outcome.Inverse, &inv))
	require.Len(t, inv.Prior, 3)
	for i, entry := range inv.Prior {
		assert.Equal(t, i, entry.Position)
	}
}

func TestReorderBackKeepsLaterCasesAfterThePermutation(t *testing.T) {
	store, scope, folderID := seed(t)

	outcome := execute(t, store, scope, Reorder{}, ReorderParams{FolderID: &folderID, OrderedIDs: []int64{12, 11, 10}})
	var reordered []domain.TestCase
	for _, op := range outcome.Mutation.Ops {
		reordered = append(reordered, *op.TestCase)
	}
	newcomer := domain.TestCase{
		ID: 14, OrganizationID: scope, FolderID: &folderID, Title: "Newcomer", State: domain.DefaultState,
		Priority: domain.DefaultPriority, Position: 0, Version: 1, CreatedAt: seededAt, UpdatedAt: seededAt,
	}
	settle(t, store, reordered, []domain.TestCase{newcomer})

	back := inverseOf(t, store, scope, Reorder{}, outcome.Inverse)
	assert.Equal(t, map[int64]int{10: 0, 12: 2, 14: 3}, positionsOf(back.Mutation))
	assert.Contains(t, back.Affected, int64(14))
}

func TestReorderRequiresEveryCaseOfTheFolder(t *testing.T) {
	store, scope, folderID := seed(t)

	for _, ordered := range [][]int64{{10, 11}, {10, 11, 13}} {
		raw, _ := json.Marshal(ReorderParams{FolderID: &folderID, OrderedIDs: ordered})
		err := store.View(context.Background(), func(tx repository.Tx) error {
			_, err := Reorder{}.Execute(context.Background(), tx, scope, raw)
			return err
		})
		var validation *domain.ValidationError
		assert.ErrorAs(t, err, &validation, "ordered %v", ordered)
	}
}

func TestEditChildCollectionDiffsByStableID(t *testing.T) {
	store, scope, _ := seed(t)

	var outcome Outcome
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		raw, _ := json.Marshal(EditChildrenParams{
			TestCaseID: 10,
			Scenarios: []ScenarioInput{
				{ID: 21, Name: "second", Steps: "Given two"},
				{Name: "third", Steps: "Given three"},
			},
		})
		var err error
		outcome, err = EditChildCollection{}.Execute(context.Background(), tx, scope, raw)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "Edited scenarios of test case 10 (+1 -1 ~1)", outcome.Description)
	assert.Equal(t, []int64{10}, outcome.Affected)

	kinds := make([]domain.OpKind, len(outcome.Mutation.Ops))
	for i, op := range outcome.Mutation.Ops {
		kinds[i] = op.Kind
	}
	assert.Equal(t, []domain.OpKind{domain.OpDelete, domain.OpUpdate, domain.OpInsert}, kinds)
	assert.Equal(t, 0, outcome.Mutation.Ops[1].Scenario.Position)

	var forward EditChildrenParams
	require.NoError(t, json.Unmarshal(outcome.Forward, &forward))
	require.Len(t, forward.Scenarios, 2)
	assert.False(t, forward.Scenarios[0].Create)
	assert.True(t, forward.Scenarios[1].Create)
	assert.NotZero(t, forward.Scenarios[1].ID)

	var inv editChildrenInverse
	require.NoError(t, json.Unmarshal(outcome.Inverse, &inv))
	assert.Equal(t, []int64{forward.Scenarios[1].ID}, inv.Added)
	require.Len(t, inv.Removed, 1)
	assert.Equal(t, int64(20), inv.Removed[0].ID)
	require.Len(t, inv.Modified, 1)
	assert.Equal(t, 1, inv.Modified[0].Position)
}

func TestEditChildCollectionValidation(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{name: "missing test case", params: `{"scenarios":[]}`},
		{name: "blank name", params: `{"testCaseId":10,"scenarios":[{"name":" "}]}`},
		{name: "duplicate id", params: `{"testCaseId":10,"scenarios":[{"id":20,"name":"a"},{"id":20,"name":"b"}]}`},
		{name: "create flag", params: `{"testCaseId":10,"scenarios":[{"id":30,"name":"a","create":true}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EditChildCollection{}.Validate(json.RawMessage(tt.params))
			var validation *domain.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}

	assert.NoError(t, EditChildCollection{}.Validate(json.RawMessage(`{"testCaseId":10,"scenarios":[]}`)))
}
