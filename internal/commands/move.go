package commands

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// MoveParams moves test cases into a folder. A nil FolderID means "no folder".
type MoveParams struct {
	IDs      []int64 `json:"ids"`
	FolderID *int64  `json:"folderId"`
}

type movePrior struct {
	FolderID *int64 `json:"folderId"`
	Position int    `json:"position"`
}

type moveInverse struct {
	Prior map[int64]movePrior `json:"prior"`
}

// MoveToContainer reassigns test cases to a folder, appending them after the
// folder's current last position in the order given.
type MoveToContainer struct{}

func (MoveToContainer) Type() domain.ActionType { return domain.ActionMoveToContainer }

func (MoveToContainer) Validate(params json.RawMessage) error {
	var p MoveParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	return p.validate()
}

func (p MoveParams) validate() error {
	if err := validateIDs(p.IDs); err != nil {
		return err
	}
	if p.FolderID != nil && *p.FolderID <= 0 {
		return domain.ErrValidation("invalid folder id %d", *p.FolderID)
	}
	return nil
}

func (MoveToContainer) Execute(ctx context.Context, tx repository.Tx, scope uuid.UUID, params json.RawMessage) (Outcome, error) {
	var p MoveParams
	if err := decodeParams(params, &p); err != nil {
		return Outcome{}, err
	}
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	if p.FolderID != nil {
		if _, err := tx.Organizations().GetFolder(ctx, scope, *p.FolderID); err != nil {
			return Outcome{}, err
		}
	}

	byID, err := loadAll(ctx, tx, scope, p.IDs)
	if err != nil {
		return Outcome{}, err
	}

	last, err := tx.TestCases().MaxPosition(ctx, scope, p.FolderID)
	if err != nil {
		return Outcome{}, err
	}

	inverse := moveInverse{Prior: make(map[int64]movePrior, len(p.IDs))}
	mutation := domain.Mutation{}
	for _, id := range p.IDs {
		current := byID[id]
		if domain.SameFolder(current.FolderID, p.FolderID) {
			continue
		}
		inverse.Prior[id] = movePrior{FolderID: current.FolderID, Position: current.Position}
		last++
		moved := current.WithFolder(p.FolderID, last)
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
		Affected:    append([]int64(nil), p.IDs...),
		Description: "Moved " + testCases(len(p.IDs)) + " to folder " + domain.FolderLabel(p.FolderID),
	}, nil
}

func (MoveToContainer) ApplyInverse(ctx context.Context, tx repository.Tx, scope uuid.UUID, inverse json.RawMessage) (Outcome, error) {
	var inv moveInverse
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

	// Cases added to a folder outside the command log since the move are not
	// stamped, so a prior slot may be taken. Those restores append instead.
	restoring := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		restoring[id] = struct{}{}
	}
	slots := map[string]*folderSlots{}
	positions := make(map[int64]int, len(ids))
	var displaced []int64
	for _, id := range ids {
		prior := inv.Prior[id]
		key := domain.FolderLabel(prior.FolderID)
		if _, ok := slots[key]; !ok {
			slots[key], err = occupiedSlots(ctx, tx, scope, prior.FolderID, restoring)
			if err != nil {
				return Outcome{}, err
			}
		}
		if slots[key].reserve(prior.Position) {
			positions[id] = prior.Position
		} else {
			displaced = append(displaced, id)
		}
	}
	for _, id := range displaced {
		positions[id] = slots[domain.FolderLabel(inv.Prior[id].FolderID)].next()
	}

	mutation := domain.Mutation{Restore: true}
	for _, id := range ids {
		restored := byID[id].WithFolder(inv.Prior[id].FolderID, positions[id])
		mutation.Ops = append(mutation.Ops, domain.Op{Kind: domain.OpUpdate, TestCase: &restored})
	}

	return Outcome{
		Mutation:    mutation,
		Affected:    ids,
		Description: "Moved " + testCases(len(ids)) + " back",
	}, nil
}

// folderSlots tracks the positions in use in one folder.
type folderSlots struct {
	taken map[int]struct{}
	last  int
}

func occupiedSlots(ctx context.Context, tx repository.Tx, scope uuid.UUID, folderID *int64, skip map[int64]struct{}) (*folderSlots, error) {
	members, err := tx.TestCases().ListByFolder(ctx, scope, folderID)
	if err != nil {
		return nil, err
	}
	slots := &folderSlots{taken: map[int]struct{}{}, last: -1}
	for _, tc := range members {
		if _, ok := skip[tc.ID]; ok {
			continue
		}
		slots.taken[tc.Position] = struct{}{}
		if tc.Position > slots.last {
			slots.last = tc.Position
		}
	}
	return slots, nil
}

// reserve marks position as used and reports whether it was free.
func (f *folderSlots) reserve(position int) bool {
	if _, used := f.taken[position]; used {
		return false
	}
	f.taken[position] = struct{}{}
	if position > f.last {
		f.last = position
	}
	return true
}

// next takes the slot after the folder's last used position.
func (f *folderSlots) next() int {
	f.last++
	f.taken[f.last] = struct{}{}
	return f.last
}
