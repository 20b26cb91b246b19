package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
	"github.com/rpattn/casetrail/internal/repository/memory"
	"github.com/rpattn/casetrail/internal/repository/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, memory.New())
}

func TestDumpIgnoresFailedTransactions(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.Organizations().Create(ctx, domain.NewOrganization("QA", ""))
		return err
	}))
	before, err := store.Dump()
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.TestCases().NextID(ctx); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	after, err := store.Dump()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestCanceledContext(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithTx(ctx, func(repository.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
