package commands

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// ChangeFieldParams sets the same field values on every listed test case.
type ChangeFieldParams struct {
	IDs    []int64           `json:"ids"`
	Fields map[string]string `json:"fields"`
}

// fieldPrior is what one test case looked like before the change. Bulk
// changes may overwrite different prior values per case.
type fieldPrior struct {
	Fields map[string]string `json:"fields"`
}

type changeFieldInverse struct {
	Prior map[int64]fieldPrior `json:"prior"`
}

// ChangeField bulk-edits scalar fields.
type ChangeField struct{}

func (ChangeField) Type() domain.ActionType { return domain.ActionChangeField }

func (ChangeField) Validate(params json.RawMessage) error {
	var p ChangeFieldParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	return p.validate()
}

func (p ChangeFieldParams) validate() error {
	if err := validateIDs(p.IDs); err != nil {
		return err
	}
	if len(p.Fields) == 0 {
		return domain.ErrValidation("fields must not be empty")
	}
	for name, value := range p.Fields {
		if !domain.IsEditableField(name) {
			return domain.ErrValidation("field %q cannot be changed", name)
		}
		if (name == domain.FieldTitle || name == domain.FieldState) && strings.TrimSpace(value) == "" {
			return domain.ErrValidation("field %q must not be empty", name)
		}
	}
	return nil
}

func (p ChangeFieldParams) fieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ChangeField) Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error) {
	var p ChangeFieldParams
	if err := decodeParams(params, &p); err != nil {
		return Outcome{}, err
	}
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	byID, err := loadAll(ctx, tx, scope, p.IDs)
	if err != nil {
		return Outcome{}, err
	}

	names := p.fieldNames()
	inverse := changeFieldInverse{Prior: make(map[int64]fieldPrior, len(p.IDs))}
	mutation := domain.Mutation{}
	for _, id := range p.IDs {
		current := byID[id]
		prior := fieldPrior{Fields: map[string]string{}}
		next := current.Clone()
		for _, name := range names {
			value, _ := current.Field(name)
			prior.Fields[name] = value
			next = next.WithField(name, p.Fields[name])
		}
		inverse.Prior[id] = prior
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &next})
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
		Description: "Changed " + strings.Join(names, ", ") + " on " + testCases(len(p.IDs)),
	}, nil
}

func (ChangeField) ApplyInverse(ctx context.Context, tx repository.Tx, scope uuid.UUID, inverse json.RawMessage) (Outcome, error) {
	var inv changeFieldInverse
	if err := decodeInverse(inverse, &inv); err != nil {
		return Outcome{}, err
	}

	ids := make([]int64, 0, len(inv.Prior))
	for id := range inv.Prior {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	byID, err := loadAll(ctx, tx, scope, ids)
	if err != nil {
		return Outcome{}, err
	}

	names := map[string]struct{}{}
	mutation := domain.Mutation{Restore: true}
	for _, id := range ids {
		prior := inv.Prior[id]
		restored := byID[id].Clone()
		for name, value := range prior.Fields {
			restored = restored.WithField(name, value)
			names[name] = struct{}{}
		}
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &restored})
	}

	fields := make([]string, 0, len(names))
	for name := range names {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	return Outcome{
		Mutation:    mutation,
		Affected:    ids,
		Description: "Reverted " + strings.Join(fields, ", ") + " on " + testCases(len(ids)),
	}, nil
}
