// Package commands holds the reversible command definitions. Each definition
// knows how to turn its parameters into a row-level mutation plus an inverse
// payload, and how to turn that inverse payload back into a mutation.
// Definitions only read state; applying mutations is the caller's job.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// Outcome is what a definition produces from either direction.
//
// Forward is the resolved forward payload: replaying it through Execute
// against the pre-command state reproduces the same mutation, including any
// ids assigned on first execution. Affected lists the test case ids whose
// version stamps guard the command.
type Outcome struct {
	Mutation    domain.Mutation
	Forward     json.RawMessage
	Inverse     json.RawMessage
	Affected    []int64
	Description string
}

// Definition is one reversible action type.
type Definition interface {
	Type() domain.ActionType
	// Validate checks parameters structurally without touching state.
	Validate(params json.RawMessage) error
	Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error)
	ApplyInverse(ctx context.Context, tx repository.Tx, scope uuid.UUID, inverse json.RawMessage) (Outcome, error)
}

// Registry maps action types to their definitions.
type Registry struct {
	definitions map[domain.ActionType]Definition
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{definitions: make(map[domain.ActionType]Definition, len(defs))}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in action type.
func DefaultRegistry() *Registry {
	return NewRegistry(
		DeleteEntities{},
		ChangeField{},
		MoveToContainer{},
		Reorder{},
		EditChildCollection{},
	)
}

// Register adds or replaces the definition for def.Type().
func (r *Registry) Register(def Definition) {
	r.definitions[def.Type()] = def
}

// Lookup returns the definition for actionType.
func (r *Registry) Lookup(actionType domain.ActionType) (Definition, error) {
	def, ok := r.definitions[actionType]
	if !ok {
		return nil, domain.ErrValidation("unknown action type %q", actionType)
	}
	return def, nil
}

// Types lists registered action types in name order.
func (r *Registry) Types() []domain.ActionType {
	types := make([]domain.ActionType, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// decodeParams strictly decodes a JSON payload. Malformed or unknown fields
// are validation errors.
func decodeParams(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.ErrValidation("params are required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return domain.ErrValidation("invalid params: %v", err)
	}
	return nil
}

// decodeInverse decodes a stored inverse payload. Failures here mean the
// command record is corrupt, not that the caller sent bad input.
func decodeInverse(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode inverse payload: %w", err)
	}
	return nil
}

func encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// validateIDs rejects empty, non-positive and duplicate id sets.
func validateIDs(ids []int64) error {
	if len(ids) == 0 {
		return domain.ErrValidation("ids must not be empty")
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return domain.ErrValidation("invalid id %d", id)
		}
		if _, dup := seen[id]; dup {
			return domain.ErrValidation("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// loadAll fetches the test cases for ids and fails with NotFoundError naming
// the first missing id.
func loadAll(ctx context.Context, tx repository.Tx, scope uuid.UUID, ids []int64) (map[int64]domain.TestCase, error) {
	cases, err := tx.TestCases().GetByIDs(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, domain.ErrNotFound("test case %d not found", id)
		}
	}
	return byID, nil
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}

func testCases(n int) string { return plural(n, "test case", "test cases") }
