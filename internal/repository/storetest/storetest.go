// Package storetest is a conformance suite for repository.Store
// implementations. Every store the command log can run on must pass it.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// Run exercises store. Tests create their own organization so a shared
// database can be reused across runs.
func Run(t *testing.T, store repository.Store) {
	t.Run("Organizations", func(t *testing.T) { testOrganizations(t, store) })
	t.Run("TestCases", func(t *testing.T) { testTestCases(t, store) })
	t.Run("Scenarios", func(t *testing.T) { testScenarios(t, store) })
	t.Run("Commands", func(t *testing.T) { testCommands(t, store) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, store) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, store) })
	t.Run("ReadOnlyView", func(t *testing.T) { testReadOnlyView(t, store) })
	t.Run("OrganizationLock", func(t *testing.T) { testOrganizationLock(t, store) })
}

var at = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

func write(t *testing.T, store repository.Store, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }))
}

func read(t *testing.T, store repository.Store, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.View(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }))
}

func newOrganization(t *testing.T, store repository.Store) domain.Organization {
	t.Helper()
	org := domain.NewOrganization("org-"+uuid.NewString(), "conformance")
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		org, err = tx.Organizations().Create(ctx, org)
		return err
	})
	return org
}

func newFolder(t *testing.T, store repository.Store, org uuid.UUID) int64 {
	t.Helper()
	var folder domain.Folder
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		folder, err = tx.Organizations().CreateFolder(ctx, domain.Folder{OrganizationID: org, Name: "Suite", CreatedAt: at})
		return err
	})
	return folder.ID
}

// newCase inserts a test case with ids drawn from the entity sequence.
func newCase(t *testing.T, store repository.Store, org uuid.UUID, folderID *int64, position int, scenarios int) domain.TestCase {
	t.Helper()
	var tc domain.TestCase
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		id, err := tx.TestCases().NextID(ctx)
		if err != nil {
			return err
		}
		tc = domain.TestCase{
			ID: id, OrganizationID: org, FolderID: folderID, Title: "Suite case",
			State: domain.DefaultState, Priority: domain.DefaultPriority, Position: position,
			Version: 1, CreatedAt: at, UpdatedAt: at,
		}
		for i := 0; i < scenarios; i++ {
			scID, err := tx.TestCases().NextID(ctx)
			if err != nil {
				return err
			}
			tc.Scenarios = append(tc.Scenarios, domain.Scenario{
				ID: scID, TestCaseID: id, Name: "scenario", Steps: "Given", Position: i, Version: 1,
			})
		}
		return tx.TestCases().Insert(ctx, tc)
	})
	return tc
}

func testOrganizations(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	other := newOrganization(t, store)
	folderID := newFolder(t, store, org.ID)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Organizations().GetByID(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, org.Name, got.Name)

		all, err := tx.Organizations().List(ctx)
		require.NoError(t, err)
		names := map[string]bool{}
		for _, o := range all {
			names[o.Name] = true
		}
		assert.True(t, names[org.Name])
		assert.True(t, names[other.Name])

		_, err = tx.Organizations().GetByID(ctx, uuid.New())
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)

		folder, err := tx.Organizations().GetFolder(ctx, org.ID, folderID)
		require.NoError(t, err)
		assert.Equal(t, "Suite", folder.Name)

		_, err = tx.Organizations().GetFolder(ctx, other.ID, folderID)
		assert.ErrorAs(t, err, &notFound, "folders are scoped to their organization")
		return nil
	})
}

func testTestCases(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	folderID := newFolder(t, store, org.ID)
	second := newCase(t, store, org.ID, &folderID, 1, 0)
	first := newCase(t, store, org.ID, &folderID, 0, 2)
	unfiled := newCase(t, store, org.ID, nil, 0, 0)
	other := newOrganization(t, store)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		repo := tx.TestCases()

		cases, err := repo.GetByIDs(ctx, org.ID, []int64{first.ID, second.ID, 1 << 40})
		require.NoError(t, err)
		require.Len(t, cases, 2, "missing ids are skipped")
		assert.Equal(t, second.ID, cases[0].ID, "ordered by id")
		assert.Len(t, cases[1].Scenarios, 2)

		listed, err := repo.ListByFolder(ctx, org.ID, &folderID)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, first.ID, listed[0].ID, "ordered by position")

		listed, err = repo.ListByFolder(ctx, org.ID, nil)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, unfiled.ID, listed[0].ID)

		highest, err := repo.MaxPosition(ctx, org.ID, &folderID)
		require.NoError(t, err)
		assert.Equal(t, 1, highest)

		highest, err = repo.MaxPosition(ctx, other.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, -1, highest)

		cases, err = repo.GetByIDs(ctx, other.ID, []int64{first.ID})
		require.NoError(t, err)
		assert.Empty(t, cases, "cases are scoped to their organization")
		return nil
	})

	// Versions and timestamps are written verbatim.
	updated := first.Clone()
	updated.Title = "Renamed"
	updated.FolderID = nil
	updated.Version = 7
	updated.UpdatedAt = at.Add(time.Hour)
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.TestCases().Update(ctx, updated)
	})
	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{first.ID})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, "Renamed", cases[0].Title)
		assert.Nil(t, cases[0].FolderID)
		assert.Equal(t, int64(7), cases[0].Version)
		assert.True(t, updated.UpdatedAt.Equal(cases[0].UpdatedAt))
		return nil
	})

	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.TestCases().Delete(ctx, org.ID, first.ID)
	})
	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{first.ID})
		require.NoError(t, err)
		assert.Empty(t, cases)
		return nil
	})

	// A deleted case can be restored under its original ids.
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.TestCases().Insert(ctx, first)
	})
	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{first.ID})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, first.Scenarios[0].ID, cases[0].Scenarios[0].ID)
		assert.Equal(t, first.Version, cases[0].Version)
		return nil
	})

	var next int64
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		next, err = tx.TestCases().NextID(ctx)
		return err
	})
	assert.Greater(t, next, unfiled.ID)
}

func testScenarios(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	tc := newCase(t, store, org.ID, nil, 0, 2)
	sc := tc.Scenarios[0]

	sc.Name = "renamed"
	sc.Position = 1
	sc.Version = 2
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.TestCases().UpdateScenario(ctx, sc); err != nil {
			return err
		}
		return tx.TestCases().DeleteScenario(ctx, tc.Scenarios[1].ID)
	})

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{tc.ID})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		require.Len(t, cases[0].Scenarios, 1)
		assert.Equal(t, sc, cases[0].Scenarios[0])
		return nil
	})

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.TestCases().UpdateScenario(context.Background(), domain.Scenario{ID: 1 << 40, TestCaseID: tc.ID, Name: "ghost"})
	})
	assert.Error(t, err)
}

func testCommands(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	mk := func(sequence int64, status domain.CommandStatus) domain.Command {
		return domain.Command{
			ID: uuid.New(), OrganizationID: org.ID, ActorID: "suite", ActionType: domain.ActionChangeField,
			Description: "Changed state", Sequence: sequence,
			ForwardPayload: json.RawMessage(`{"ids":[1]}`), InversePayload: json.RawMessage(`{"prior":{}}`),
			Status: status, Stamps: domain.Stamps{"test_case:1": 2}, CreatedAt: at, UpdatedAt: at,
		}
	}
	c1, c2, c3 := mk(1, domain.CommandCommitted), mk(2, domain.CommandCommitted), mk(3, domain.CommandUndone)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		top, err := tx.Commands().MaxSequence(ctx, org.ID)
		require.NoError(t, err)
		assert.Zero(t, top)
		return nil
	})

	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		for _, cmd := range []domain.Command{c1, c2, c3} {
			if err := tx.Commands().Insert(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	})

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.Commands().Insert(context.Background(), mk(2, domain.CommandCommitted))
	})
	assert.Error(t, err, "sequence is unique per organization")

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Commands().GetByID(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, c1.Stamps, got.Stamps)
		assert.JSONEq(t, string(c1.ForwardPayload), string(got.ForwardPayload))

		_, err = tx.Commands().GetByID(ctx, uuid.New())
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)

		top, err := tx.Commands().MaxSequence(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), top)

		committed, err := tx.Commands().ListByStatus(ctx, org.ID, domain.CommandCommitted, true, 0)
		require.NoError(t, err)
		require.Len(t, committed, 2)
		assert.Equal(t, c2.ID, committed[0].ID)

		limited, err := tx.Commands().ListByStatus(ctx, org.ID, domain.CommandCommitted, false, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, c1.ID, limited[0].ID)
		return nil
	})

	c1.Status = domain.CommandUndone
	c1.Sequence = 10
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Commands().Update(ctx, c1)
	})

	var expired int64
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		expired, err = tx.Commands().ExpireUndone(ctx, org.ID)
		return err
	})
	assert.Equal(t, int64(2), expired)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Commands().GetByID(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CommandExpired, got.Status)
		assert.Equal(t, int64(10), got.Sequence)

		undone, err := tx.Commands().ListByStatus(ctx, org.ID, domain.CommandUndone, false, 0)
		require.NoError(t, err)
		assert.Empty(t, undone)
		return nil
	})
}

func testAudit(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	a := newCase(t, store, org.ID, nil, 0, 0)
	b := newCase(t, store, org.ID, nil, 1, 0)
	commandID := uuid.New()

	entry := func(id int64, action domain.AuditAction) domain.AuditEntry {
		return domain.AuditEntry{
			EntityType: domain.EntityTypeTestCase, EntityID: id, Action: action, ActorID: "suite",
			Diffs:     []domain.FieldDiff{{Field: domain.FieldState, Kind: domain.DiffScalar, OldValue: "draft", NewValue: "ready"}},
			CommandID: &commandID, CreatedAt: at,
		}
	}
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Audit().Append(ctx, []domain.AuditEntry{entry(a.ID, domain.AuditUpdated), entry(b.ID, domain.AuditDeleted)})
	})
	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Audit().Append(ctx, []domain.AuditEntry{entry(a.ID, domain.AuditDeleted), entry(a.ID, domain.AuditRestored)})
	})

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		entries, err := tx.Audit().ListByEntity(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, e := range entries {
			assert.Equal(t, int64(i+1), e.Sequence)
			assert.NotEqual(t, uuid.Nil, e.ID)
		}
		assert.Equal(t, domain.AuditRestored, entries[2].Action)
		require.Len(t, entries[0].Diffs, 1)
		assert.Equal(t, "ready", entries[0].Diffs[0].NewValue)
		require.NotNil(t, entries[0].CommandID)
		assert.Equal(t, commandID, *entries[0].CommandID)

		grouped, err := tx.Audit().ListByEntities(ctx, []int64{a.ID, b.ID, 1 << 40})
		require.NoError(t, err)
		assert.Len(t, grouped[a.ID], 3)
		assert.Len(t, grouped[b.ID], 1)
		assert.Empty(t, grouped[1<<40])
		return nil
	})
}

func testRollback(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	tc := newCase(t, store, org.ID, nil, 0, 1)
	errBoom := errors.New("boom")

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		changed := tc.Clone()
		changed.Title = "never visible"
		if err := tx.TestCases().Update(context.Background(), changed); err != nil {
			return err
		}
		if err := tx.TestCases().DeleteScenario(context.Background(), tc.Scenarios[0].ID); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{tc.ID})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, tc.Title, cases[0].Title)
		assert.Len(t, cases[0].Scenarios, 1)
		return nil
	})
}

func testReadOnlyView(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	tc := newCase(t, store, org.ID, nil, 0, 0)

	err := store.View(context.Background(), func(tx repository.Tx) error {
		return tx.TestCases().Delete(context.Background(), org.ID, tc.ID)
	})
	assert.Error(t, err)

	read(t, store, func(ctx context.Context, tx repository.Tx) error {
		cases, err := tx.TestCases().GetByIDs(ctx, org.ID, []int64{tc.ID})
		require.NoError(t, err)
		assert.Len(t, cases, 1)
		return nil
	})
}

// testOrganizationLock checks that a second writer locking the same
// organization waits until the first one commits.
func testOrganizationLock(t *testing.T, store repository.Store) {
	org := newOrganization(t, store)
	ctx := context.Background()

	write(t, store, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Organizations().LockByID(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, org.Name, got.Name)

		_, err = tx.Organizations().LockByID(ctx, uuid.New())
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
		return nil
	})

	err := store.View(ctx, func(tx repository.Tx) error {
		_, err := tx.Organizations().LockByID(ctx, org.ID)
		return err
	})
	assert.Error(t, err, "locking needs a read-write transaction")

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- store.WithTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.Organizations().LockByID(ctx, org.ID); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	second := make(chan error, 1)
	go func() {
		second <- store.WithTx(ctx, func(tx repository.Tx) error {
			_, err := tx.Organizations().LockByID(ctx, org.ID)
			return err
		})
	}()

	select {
	case err := <-second:
		t.Fatalf("second writer acquired the lock while the first held it: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second writer still waiting after the first committed")
	}
}
