package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType tags a command with the definition that knows how to execute
// and reverse it.
type ActionType string

const (
	ActionDeleteEntities      ActionType = "DeleteEntities"
	ActionChangeField         ActionType = "ChangeField"
	ActionMoveToContainer     ActionType = "MoveToContainer"
	ActionReorder             ActionType = "Reorder"
	ActionEditChildCollection ActionType = "EditChildCollection"
)

// CommandStatus is the position of a command in the undo/redo state machine.
type CommandStatus string

const (
	CommandCommitted CommandStatus = "committed"
	CommandUndone    CommandStatus = "undone"
	CommandExpired   CommandStatus = "expired"
)

// Command is one reversible mutation. Sequence is monotonic per organization;
// Stamps are the entity versions captured at the last transition and are what
// the conflict check compares against.
type Command struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ActorID        string          `json:"actor_id"`
	ActionType     ActionType      `json:"action_type"`
	Description    string          `json:"description"`
	Sequence       int64           `json:"sequence"`
	ForwardPayload json.RawMessage `json:"forward_payload"`
	InversePayload json.RawMessage `json:"inverse_payload"`
	Status         CommandStatus   `json:"status"`
	Stamps         Stamps          `json:"stamps"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StackItem is the preview shape of a command on the undo or redo stack.
type StackItem struct {
	ID          uuid.UUID  `json:"id"`
	Description string     `json:"description"`
	ActionType  ActionType `json:"actionType"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Item returns the stack preview for the command.
func (c Command) Item() StackItem {
	return StackItem{
		ID:          c.ID,
		Description: c.Description,
		ActionType:  c.ActionType,
		CreatedAt:   c.CreatedAt,
	}
}

// OpKind is the row-level operation a mutation step performs.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one row write. Exactly one of TestCase or Scenario is set. For
// deletes only the id is used. Insert of a test case also inserts the
// scenarios it carries.
type Op struct {
	Kind     OpKind
	TestCase *TestCase
	Scenario *Scenario
}

// Mutation is the ordered set of writes a definition produces. Updates carry
// the row's current version and are bumped when written. Restore mutations
// insert rows with the versions they carry; forward inserts start at 1.
type Mutation struct {
	Ops     []Op
	Restore bool
}

// TouchedCases returns the ids of the test cases the mutation writes to,
// directly or through one of their scenarios, in first-seen order.
func (m Mutation) TouchedCases() []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, op := range m.Ops {
		switch {
		case op.TestCase != nil:
			add(op.TestCase.ID)
		case op.Scenario != nil:
			add(op.Scenario.TestCaseID)
		}
	}
	return ids
}
