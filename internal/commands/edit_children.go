package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// ScenarioInput is one scenario of the desired collection. ID 0 means a new
// scenario. Create is set only in resolved forward payloads, marking a
// scenario whose id was assigned by an earlier execution.
type ScenarioInput struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"name"`
	Steps  string `json:"steps"`
	Create bool   `json:"create,omitempty"`
}

// EditChildrenParams is the full desired scenario collection of a test case,
// in display order.
type EditChildrenParams struct {
	TestCaseID int64           `json:"testCaseId"`
	Scenarios  []ScenarioInput `json:"scenarios"`
}

type editChildrenInverse struct {
	TestCaseID int64             `json:"testCaseId"`
	Added      []int64           `json:"added"`
	Removed    []domain.Scenario `json:"removed"`
	Modified   []domain.Scenario `json:"modified"`
}

// EditChildCollection diffs a test case's scenarios against the desired
// collection by stable id and applies the adds, removes and modifications.
type EditChildCollection struct{}

func (EditChildCollection) Type() domain.ActionType { return domain.ActionEditChildCollection }

func (EditChildCollection) Validate(params json.RawMessage) error {
	var p EditChildrenParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	for _, input := range p.Scenarios {
		if input.Create {
			return domain.ErrValidation("create is not accepted on submitted scenarios")
		}
	}
	return p.validate()
}

func (p EditChildrenParams) validate() error {
	if p.TestCaseID <= 0 {
		return domain.ErrValidation("invalid testCaseId %d", p.TestCaseID)
	}
	seen := map[int64]struct{}{}
	for i, input := range p.Scenarios {
		if strings.TrimSpace(input.Name) == "" {
			return domain.ErrValidation("scenario %d: name must not be empty", i)
		}
		if input.ID < 0 {
			return domain.ErrValidation("scenario %d: invalid id %d", i, input.ID)
		}
		if input.ID == 0 {
			continue
		}
		if _, dup := seen[input.ID]; dup {
			return domain.ErrValidation("duplicate scenario id %d", input.ID)
		}
		seen[input.ID] = struct{}{}
	}
	return nil
}

func (EditChildCollection) Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error) {
	var p EditChildrenParams
	if err := decodeParams(params, &p); err != nil {
		return Outcome{}, err
	}
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	byID, err := loadAll(ctx, tx, scope, []int64{p.TestCaseID})
	if err != nil {
		return Outcome{}, err
	}
	tc := byID[p.TestCaseID]

	existing := make(map[int64]domain.Scenario, len(tc.Scenarios))
	for _, sc := range tc.Scenarios {
		existing[sc.ID] = sc
	}

	resolved := EditChildrenParams{TestCaseID: p.TestCaseID, Scenarios: make([]ScenarioInput, len(p.Scenarios))}
	inverse := editChildrenInverse{TestCaseID: p.TestCaseID}
	var inserts, updates, deletes []domain.Op
	kept := map[int64]struct{}{}

	for position, input := range p.Scenarios {
		desired := domain.Scenario{
			ID:         input.ID,
			TestCaseID: tc.ID,
			Name:       input.Name,
			Steps:      input.Steps,
			Position:   position,
		}

		if input.ID == 0 || input.Create {
			if input.ID == 0 {
				desired.ID, err = tx.TestCases().NextID(ctx)
				if err != nil {
					return Outcome{}, err
				}
			} else if _, clash := existing[input.ID]; clash {
				return Outcome{}, domain.ErrValidation("scenario %d already exists", input.ID)
			}
			resolved.Scenarios[position] = ScenarioInput{ID: desired.ID, Name: input.Name, Steps: input.Steps, Create: true}
			inverse.Added = append(inverse.Added, desired.ID)
			sc := desired
			inserts = append(inserts, domain.Op{Kind: domain.OpInsert, Scenario: &sc})
			continue
		}

		current, ok := existing[input.ID]
		if !ok {
			return Outcome{}, domain.ErrNotFound("scenario %d not found on test case %d", input.ID, tc.ID)
		}
		kept[input.ID] = struct{}{}
		resolved.Scenarios[position] = ScenarioInput{ID: input.ID, Name: input.Name, Steps: input.Steps}
		if current.Name == desired.Name && current.Steps == desired.Steps && current.Position == desired.Position {
			continue
		}
		desired.Version = current.Version
		inverse.Modified = append(inverse.Modified, current)
		sc := desired
		updates = append(updates, domain.Op{Kind: domain.OpUpdate, Scenario: &sc})
	}

	for _, sc := range tc.Scenarios {
		if _, ok := kept[sc.ID]; ok {
			continue
		}
		removed := sc
		inverse.Removed = append(inverse.Removed, removed)
		deletes = append(deletes, domain.Op{Kind: domain.OpDelete, Scenario: &removed})
	}

	mutation := domain.Mutation{Ops: append(append(deletes, updates...), inserts...)}

	forward, err := encode(resolved)
	if err != nil {
		return Outcome{}, err
	}
	inverseRaw, err := encode(inverse)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Mutation: mutation,
		Forward:  forward,
		Inverse:  inverseRaw,
		Affected: []int64{tc.ID},
		Description: fmt.Sprintf("Edited scenarios of test case %d (+%d -%d ~%d)",
			tc.ID, len(inverse.Added), len(inverse.Removed), len(inverse.Modified)),
	}, nil
}

func (EditChildCollection) ApplyInverse(ctx context.Context, tx repository.Tx, scope uuid.UUID, inverse json.RawMessage) (Outcome, error) {
	var inv editChildrenInverse
	if err := decodeInverse(inverse, &inv); err != nil {
		return Outcome{}, err
	}

	byID, err := loadAll(ctx, tx, scope, []int64{inv.TestCaseID})
	if err != nil {
		return Outcome{}, err
	}
	current := map[int64]domain.Scenario{}
	for _, sc := range byID[inv.TestCaseID].Scenarios {
		current[sc.ID] = sc
	}

	mutation := domain.Mutation{Restore: true}
	for _, id := range inv.Added {
		sc, ok := current[id]
		if !ok {
			return Outcome{}, domain.ErrNotFound("scenario %d not found on test case %d", id, inv.TestCaseID)
		}
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpDelete, Scenario: &sc})
	}
	for i := range inv.Modified {
		sc := inv.Modified[i]
		live, ok := current[sc.ID]
		if !ok {
			return Outcome{}, domain.ErrNotFound("scenario %d not found on test case %d", sc.ID, inv.TestCaseID)
		}
		sc.Version = live.Version
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, Scenario: &sc})
	}
	for i := range inv.Removed {
		sc := inv.Removed[i]
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpInsert, Scenario: &sc})
	}

	return Outcome{
		Mutation:    mutation,
		Affected:    []int64{inv.TestCaseID},
		Description: fmt.Sprintf("Restored scenarios of test case %d", inv.TestCaseID),
	}, nil
}
