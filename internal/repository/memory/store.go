// Package memory provides an in-process transactional store. Each write
// transaction works on a private copy of the state that replaces the shared
// state only on commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

type state struct {
	organizations map[uuid.UUID]domain.Organization
	folders       map[int64]domain.Folder
	cases         map[int64]domain.TestCase
	scenarios     map[int64]domain.Scenario
	commands      map[uuid.UUID]domain.Command
	audit         map[int64][]domain.AuditEntry
	nextID        int64
}

func newState() state {
	return state{
		organizations: map[uuid.UUID]domain.Organization{},
		folders:       map[int64]domain.Folder{},
		cases:         map[int64]domain.TestCase{},
		scenarios:     map[int64]domain.Scenario{},
		commands:      map[uuid.UUID]domain.Command{},
		audit:         map[int64][]domain.AuditEntry{},
	}
}

func (s state) clone() state {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.organizations {
		out.organizations[k] = v
	}
	for k, v := range s.folders {
		out.folders[k] = v
	}
	for k, v := range s.cases {
		out.cases[k] = v.Clone()
	}
	for k, v := range s.scenarios {
		out.scenarios[k] = v
	}
	for k, v := range s.commands {
		out.commands[k] = cloneCommand(v)
	}
	for k, v := range s.audit {
		entries := make([]domain.AuditEntry, len(v))
		copy(entries, v)
		out.audit[k] = entries
	}
	return out
}

func cloneCommand(cmd domain.Command) domain.Command {
	out := cmd
	out.ForwardPayload = append(json.RawMessage(nil), cmd.ForwardPayload...)
	out.InversePayload = append(json.RawMessage(nil), cmd.InversePayload...)
	if cmd.Stamps != nil {
		out.Stamps = make(domain.Stamps, len(cmd.Stamps))
		for k, v := range cmd.Stamps {
			out.Stamps[k] = v
		}
	}
	return out
}

// Store is a repository.Store held entirely in memory. Write transactions
// are serialized.
type Store struct {
	mu    sync.RWMutex
	state state
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn against the current state; writes fail.
func (s *Store) View(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: &s.state, readOnly: true})
}

// Close is a no-op.
func (s *Store) Close() {}

// Dump renders the full state as deterministic JSON. Two dumps are equal
// exactly when the stores hold the same rows.
func (s *Store) Dump() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type dump struct {
		Organizations []domain.Organization `json:"organizations"`
		Folders       []domain.Folder       `json:"folders"`
		Cases         []domain.TestCase     `json:"cases"`
		Scenarios     []domain.Scenario     `json:"scenarios"`
		Commands      []domain.Command      `json:"commands"`
		Audit         []domain.AuditEntry   `json:"audit"`
		NextID        int64                 `json:"next_id"`
	}
	d := dump{NextID: s.state.nextID}
	for _, v := range s.state.organizations {
		d.Organizations = append(d.Organizations, v)
	}
	sort.Slice(d.Organizations, func(i, j int) bool { return d.Organizations[i].ID.String() < d.Organizations[j].ID.String() })
	for _, v := range s.state.folders {
		d.Folders = append(d.Folders, v)
	}
	sort.Slice(d.Folders, func(i, j int) bool { return d.Folders[i].ID < d.Folders[j].ID })
	for _, v := range s.state.cases {
		d.Cases = append(d.Cases, v)
	}
	sort.Slice(d.Cases, func(i, j int) bool { return d.Cases[i].ID < d.Cases[j].ID })
	for _, v := range s.state.scenarios {
		d.Scenarios = append(d.Scenarios, v)
	}
	sort.Slice(d.Scenarios, func(i, j int) bool { return d.Scenarios[i].ID < d.Scenarios[j].ID })
	for _, v := range s.state.commands {
		d.Commands = append(d.Commands, v)
	}
	sort.Slice(d.Commands, func(i, j int) bool { return d.Commands[i].ID.String() < d.Commands[j].ID.String() })
	for _, entries := range s.state.audit {
		d.Audit = append(d.Audit, entries...)
	}
	sort.Slice(d.Audit, func(i, j int) bool {
		if d.Audit[i].EntityID != d.Audit[j].EntityID {
			return d.Audit[i].EntityID < d.Audit[j].EntityID
		}
		return d.Audit[i].Sequence < d.Audit[j].Sequence
	})
	return json.Marshal(d)
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) Organizations() repository.OrganizationRepository { return organizations{t} }
func (t *tx) TestCases() repository.TestCaseRepository         { return testCases{t} }
func (t *tx) Commands() repository.CommandRepository           { return commands{t} }
func (t *tx) Audit() repository.AuditRepository                { return audit{t} }

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}
