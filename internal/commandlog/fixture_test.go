package commandlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
	"github.com/rpattn/casetrail/internal/repository/memory"
	"github.com/rpattn/casetrail/internal/testcases"
)

const actor = "alice"

var fixedNow = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

// fixture seeds one organization with two folders and test cases 10-13.
// Cases 10-12 live in folder A with two scenarios each; 13 is unfiled.
type fixture struct {
	store   *memory.Store
	cases   *testcases.Service
	log     *Service
	scope   uuid.UUID
	folderA int64
	folderB int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return fixedNow }

	store := memory.New()
	cases := testcases.NewService(store, testcases.WithClock(clock))
	log := NewService(store, nil, append([]Option{WithClock(clock)}, opts...)...)

	org, err := cases.CreateOrganization(ctx, "QA", "")
	require.NoError(t, err)
	folderA, err := cases.CreateFolder(ctx, org.ID, "Checkout", nil)
	require.NoError(t, err)
	folderB, err := cases.CreateFolder(ctx, org.ID, "Archive", nil)
	require.NoError(t, err)

	for _, id := range []int64{10, 11, 12} {
		_, err := cases.Create(ctx, org.ID, actor, testcases.NewTestCase{ID: id, FolderID: &folderA.ID, Title: "Checkout flow"})
		require.NoError(t, err)
	}
	_, err = cases.Create(ctx, org.ID, actor, testcases.NewTestCase{ID: 13, Title: "Unfiled case"})
	require.NoError(t, err)

	for _, id := range []int64{10, 11, 12} {
		for _, sc := range []testcases.NewScenario{
			{Name: "pay by card", Steps: "Given a cart\nWhen I pay by card"},
			{Name: "pay by voucher", Steps: "Given a cart\nWhen I pay by voucher"},
		} {
			_, err := cases.AddScenario(ctx, org.ID, actor, id, sc)
			require.NoError(t, err)
		}
	}

	return &fixture{
		store:   store,
		cases:   cases,
		log:     log,
		scope:   org.ID,
		folderA: folderA.ID,
		folderB: folderB.ID,
	}
}

func (f *fixture) submit(t *testing.T, actionType domain.ActionType, params any) Submitted {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	submitted, err := f.log.SubmitCommand(context.Background(), f.scope, actor, actionType, raw)
	require.NoError(t, err)
	return submitted
}

func (f *fixture) undo(t *testing.T) Result {
	t.Helper()
	result, err := f.log.ExecuteUndo(context.Background(), f.scope, actor)
	require.NoError(t, err)
	return result
}

func (f *fixture) redo(t *testing.T) Result {
	t.Helper()
	result, err := f.log.ExecuteRedo(context.Background(), f.scope, actor)
	require.NoError(t, err)
	return result
}

// rows renders every test case of the scope, folder by folder, as JSON.
// Versions and timestamps are zeroed: undo moves them forward, so only the
// domain fields are expected to round-trip.
func (f *fixture) rows(t *testing.T) string {
	t.Helper()
	var all []domain.TestCase
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		for _, folder := range []*int64{nil, &f.folderA, &f.folderB} {
			cases, err := tx.TestCases().ListByFolder(context.Background(), f.scope, folder)
			if err != nil {
				return err
			}
			for _, tc := range cases {
				tc.Version = 0
				tc.UpdatedAt = time.Time{}
				for i := range tc.Scenarios {
					tc.Scenarios[i].Version = 0
				}
				all = append(all, tc)
			}
		}
		return nil
	})
	require.NoError(t, err)
	encoded, err := json.Marshal(all)
	require.NoError(t, err)
	return string(encoded)
}

func (f *fixture) dump(t *testing.T) string {
	t.Helper()
	raw, err := f.store.Dump()
	require.NoError(t, err)
	return string(raw)
}

func (f *fixture) command(t *testing.T, id uuid.UUID) domain.Command {
	t.Helper()
	var cmd domain.Command
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		cmd, err = tx.Commands().GetByID(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return cmd
}

func (f *fixture) testCase(t *testing.T, id int64) (domain.TestCase, bool) {
	t.Helper()
	tc, err := f.cases.Get(context.Background(), f.scope, id)
	if err != nil {
		var notFound *domain.NotFoundError
		require.ErrorAs(t, err, &notFound)
		return domain.TestCase{}, false
	}
	return tc, true
}

func (f *fixture) scenarioIDs(t *testing.T, id int64) []int64 {
	t.Helper()
	tc, ok := f.testCase(t, id)
	require.True(t, ok)
	ids := make([]int64, len(tc.Scenarios))
	for i, sc := range tc.Scenarios {
		ids[i] = sc.ID
	}
	return ids
}
