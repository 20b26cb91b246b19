package commandlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/audit"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// applied is the result of writing a mutation: per-case before/after
// snapshots for the audit trail.
type applied struct {
	changes []audit.Change
	touched []int64
}

// apply writes the mutation's ops in order. Every update bumps the row's
// version and timestamp, whichever direction it runs in, so versions only
// move forward. Restore inserts bring rows back exactly as carried.
func apply(ctx context.Context, tx repository.Tx, scope uuid.UUID, mutation domain.Mutation, now time.Time) (applied, error) {
	touched := mutation.TouchedCases()
	before, err := snapshot(ctx, tx, scope, touched)
	if err != nil {
		return applied{}, err
	}

	repo := tx.TestCases()
	for i, op := range mutation.Ops {
		if err := applyOp(ctx, repo, scope, op, mutation.Restore, now); err != nil {
			return applied{}, fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}

	after, err := snapshot(ctx, tx, scope, touched)
	if err != nil {
		return applied{}, err
	}

	changes := make([]audit.Change, 0, len(touched))
	for _, id := range touched {
		change := audit.Change{ID: id}
		if tc, ok := before[id]; ok {
			change.Before = &tc
		}
		if tc, ok := after[id]; ok {
			change.After = &tc
		}
		changes = append(changes, change)
	}
	return applied{changes: changes, touched: touched}, nil
}

func applyOp(ctx context.Context, repo repository.TestCaseRepository, scope uuid.UUID, op domain.Op, restore bool, now time.Time) error {
	switch {
	case op.TestCase != nil:
		tc := op.TestCase.Clone()
		tc.OrganizationID = scope
		switch op.Kind {
		case domain.OpInsert:
			if !restore {
				tc.Version = 1
				tc.CreatedAt = now
				tc.UpdatedAt = now
				for i := range tc.Scenarios {
					tc.Scenarios[i].TestCaseID = tc.ID
					tc.Scenarios[i].Version = 1
				}
			}
			return repo.Insert(ctx, tc)
		case domain.OpUpdate:
			tc.Version++
			tc.UpdatedAt = now
			return repo.Update(ctx, tc)
		case domain.OpDelete:
			return repo.Delete(ctx, scope, tc.ID)
		}
	case op.Scenario != nil:
		sc := *op.Scenario
		switch op.Kind {
		case domain.OpInsert:
			if !restore {
				sc.Version = 1
			}
			return repo.InsertScenario(ctx, sc)
		case domain.OpUpdate:
			sc.Version++
			return repo.UpdateScenario(ctx, sc)
		case domain.OpDelete:
			return repo.DeleteScenario(ctx, sc.ID)
		}
	default:
		return errors.New("op carries no row")
	}
	return fmt.Errorf("unknown op kind %q", op.Kind)
}

func snapshot(ctx context.Context, tx repository.Tx, scope uuid.UUID, ids []int64) (map[int64]domain.TestCase, error) {
	out := make(map[int64]domain.TestCase, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cases, err := tx.TestCases().GetByIDs(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	for _, tc := range cases {
		out[tc.ID] = tc
	}
	return out, nil
}

// captureStamps reads the current versions of the given cases and their
// scenarios.
func captureStamps(ctx context.Context, tx repository.Tx, scope uuid.UUID, ids []int64) (domain.Stamps, error) {
	if len(ids) == 0 {
		return domain.Stamps{}, nil
	}
	cases, err := tx.TestCases().GetByIDs(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	return domain.StampsFor(ids, cases), nil
}

// union merges id sets into one ascending, de-duplicated slice.
func union(sets ...[]int64) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
