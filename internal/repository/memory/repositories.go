package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
)

type organizations struct{ t *tx }

func (r organizations) Create(_ context.Context, org domain.Organization) (domain.Organization, error) {
	if err := r.t.writable(); err != nil {
		return domain.Organization{}, err
	}
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	for _, existing := range r.t.st.organizations {
		if existing.Name == org.Name {
			return domain.Organization{}, fmt.Errorf("failed to create organization: name %q already exists", org.Name)
		}
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	r.t.st.organizations[org.ID] = org
	return org, nil
}

func (r organizations) GetByID(_ context.Context, id uuid.UUID) (domain.Organization, error) {
	org, ok := r.t.st.organizations[id]
	if !ok {
		return domain.Organization{}, domain.ErrNotFound("organization %s not found", id)
	}
	return org, nil
}

// LockByID needs no row lock: the store already runs one writer at a time.
func (r organizations) LockByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	if err := r.t.writable(); err != nil {
		return domain.Organization{}, err
	}
	return r.GetByID(ctx, id)
}

func (r organizations) List(context.Context) ([]domain.Organization, error) {
	out := make([]domain.Organization, 0, len(r.t.st.organizations))
	for _, org := range r.t.st.organizations {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r organizations) CreateFolder(_ context.Context, folder domain.Folder) (domain.Folder, error) {
	if err := r.t.writable(); err != nil {
		return domain.Folder{}, err
	}
	if _, ok := r.t.st.organizations[folder.OrganizationID]; !ok {
		return domain.Folder{}, domain.ErrNotFound("organization %s not found", folder.OrganizationID)
	}
	if folder.ParentID != nil {
		if _, ok := r.t.st.folders[*folder.ParentID]; !ok {
			return domain.Folder{}, domain.ErrNotFound("folder %d not found", *folder.ParentID)
		}
	}
	r.t.st.nextID++
	folder.ID = r.t.st.nextID
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now().UTC()
	}
	r.t.st.folders[folder.ID] = folder
	return folder, nil
}

func (r organizations) GetFolder(_ context.Context, organizationID uuid.UUID, id int64) (domain.Folder, error) {
	folder, ok := r.t.st.folders[id]
	if !ok || folder.OrganizationID != organizationID {
		return domain.Folder{}, domain.ErrNotFound("folder %d not found", id)
	}
	return folder, nil
}

type testCases struct{ t *tx }

func (r testCases) NextID(context.Context) (int64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}
	r.t.st.nextID++
	return r.t.st.nextID, nil
}

func (r testCases) withScenarios(tc domain.TestCase) domain.TestCase {
	out := tc.Clone()
	out.Scenarios = nil
	for _, sc := range r.t.st.scenarios {
		if sc.TestCaseID == tc.ID {
			out.Scenarios = append(out.Scenarios, sc)
		}
	}
	domain.SortScenarios(out.Scenarios)
	return out
}

func (r testCases) GetByIDs(_ context.Context, organizationID uuid.UUID, ids []int64) ([]domain.TestCase, error) {
	seen := map[int64]struct{}{}
	out := []domain.TestCase{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tc, ok := r.t.st.cases[id]
		if !ok || tc.OrganizationID != organizationID {
			continue
		}
		out = append(out, r.withScenarios(tc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r testCases) ListByFolder(_ context.Context, organizationID uuid.UUID, folderID *int64) ([]domain.TestCase, error) {
	out := []domain.TestCase{}
	for _, tc := range r.t.st.cases {
		if tc.OrganizationID == organizationID && domain.SameFolder(tc.FolderID, folderID) {
			out = append(out, r.withScenarios(tc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r testCases) MaxPosition(_ context.Context, organizationID uuid.UUID, folderID *int64) (int, error) {
	highest := -1
	for _, tc := range r.t.st.cases {
		if tc.OrganizationID == organizationID && domain.SameFolder(tc.FolderID, folderID) && tc.Position > highest {
			highest = tc.Position
		}
	}
	return highest, nil
}

func (r testCases) Insert(_ context.Context, tc domain.TestCase) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, exists := r.t.st.cases[tc.ID]; exists {
		return fmt.Errorf("failed to insert test case: id %d already exists", tc.ID)
	}
	if tc.FolderID != nil {
		if _, ok := r.t.st.folders[*tc.FolderID]; !ok {
			return fmt.Errorf("failed to insert test case: folder %d does not exist", *tc.FolderID)
		}
	}
	row := tc.Clone()
	row.Scenarios = nil
	r.t.st.cases[tc.ID] = row
	if tc.ID > r.t.st.nextID {
		r.t.st.nextID = tc.ID
	}
	for _, sc := range tc.Scenarios {
		if err := r.InsertScenario(context.Background(), sc); err != nil {
			return err
		}
	}
	return nil
}

func (r testCases) Update(_ context.Context, tc domain.TestCase) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.cases[tc.ID]; !ok {
		return fmt.Errorf("failed to update test case: id %d does not exist", tc.ID)
	}
	row := tc.Clone()
	row.Scenarios = nil
	r.t.st.cases[tc.ID] = row
	return nil
}

func (r testCases) Delete(_ context.Context, organizationID uuid.UUID, id int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	tc, ok := r.t.st.cases[id]
	if !ok || tc.OrganizationID != organizationID {
		return fmt.Errorf("failed to delete test case: id %d does not exist", id)
	}
	delete(r.t.st.cases, id)
	for scID, sc := range r.t.st.scenarios {
		if sc.TestCaseID == id {
			delete(r.t.st.scenarios, scID)
		}
	}
	return nil
}

func (r testCases) InsertScenario(_ context.Context, sc domain.Scenario) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.cases[sc.TestCaseID]; !ok {
		return fmt.Errorf("failed to insert scenario: test case %d does not exist", sc.TestCaseID)
	}
	if _, exists := r.t.st.scenarios[sc.ID]; exists {
		return fmt.Errorf("failed to insert scenario: id %d already exists", sc.ID)
	}
	r.t.st.scenarios[sc.ID] = sc
	if sc.ID > r.t.st.nextID {
		r.t.st.nextID = sc.ID
	}
	return nil
}

func (r testCases) UpdateScenario(_ context.Context, sc domain.Scenario) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.scenarios[sc.ID]; !ok {
		return fmt.Errorf("failed to update scenario: id %d does not exist", sc.ID)
	}
	r.t.st.scenarios[sc.ID] = sc
	return nil
}

func (r testCases) DeleteScenario(_ context.Context, id int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.scenarios[id]; !ok {
		return fmt.Errorf("failed to delete scenario: id %d does not exist", id)
	}
	delete(r.t.st.scenarios, id)
	return nil
}

type commands struct{ t *tx }

func (r commands) Insert(_ context.Context, cmd domain.Command) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, exists := r.t.st.commands[cmd.ID]; exists {
		return fmt.Errorf("failed to insert command: id %s already exists", cmd.ID)
	}
	if err := r.checkSequence(cmd); err != nil {
		return err
	}
	r.t.st.commands[cmd.ID] = cloneCommand(cmd)
	return nil
}

func (r commands) Update(_ context.Context, cmd domain.Command) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := r.t.st.commands[cmd.ID]; !ok {
		return fmt.Errorf("failed to update command: id %s does not exist", cmd.ID)
	}
	if err := r.checkSequence(cmd); err != nil {
		return err
	}
	r.t.st.commands[cmd.ID] = cloneCommand(cmd)
	return nil
}

// checkSequence mirrors the unique (organization_id, sequence) constraint.
func (r commands) checkSequence(cmd domain.Command) error {
	for id, other := range r.t.st.commands {
		if id != cmd.ID && other.OrganizationID == cmd.OrganizationID && other.Sequence == cmd.Sequence {
			return fmt.Errorf("duplicate command sequence %d in organization %s", cmd.Sequence, cmd.OrganizationID)
		}
	}
	return nil
}

func (r commands) GetByID(_ context.Context, id uuid.UUID) (domain.Command, error) {
	cmd, ok := r.t.st.commands[id]
	if !ok {
		return domain.Command{}, domain.ErrNotFound("command %s not found", id)
	}
	return cloneCommand(cmd), nil
}

func (r commands) MaxSequence(_ context.Context, organizationID uuid.UUID) (int64, error) {
	var highest int64
	for _, cmd := range r.t.st.commands {
		if cmd.OrganizationID == organizationID && cmd.Sequence > highest {
			highest = cmd.Sequence
		}
	}
	return highest, nil
}

func (r commands) ExpireUndone(_ context.Context, organizationID uuid.UUID) (int64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}
	var n int64
	now := time.Now().UTC()
	for id, cmd := range r.t.st.commands {
		if cmd.OrganizationID == organizationID && cmd.Status == domain.CommandUndone {
			cmd.Status = domain.CommandExpired
			cmd.UpdatedAt = now
			r.t.st.commands[id] = cmd
			n++
		}
	}
	return n, nil
}

func (r commands) ListByStatus(_ context.Context, organizationID uuid.UUID, status domain.CommandStatus, descending bool, limit int) ([]domain.Command, error) {
	out := []domain.Command{}
	for _, cmd := range r.t.st.commands {
		if cmd.OrganizationID == organizationID && cmd.Status == status {
			out = append(out, cloneCommand(cmd))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Sequence > out[j].Sequence
		}
		return out[i].Sequence < out[j].Sequence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type audit struct{ t *tx }

func (r audit) Append(_ context.Context, entries []domain.AuditEntry) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	for _, entry := range entries {
		existing := r.t.st.audit[entry.EntityID]
		entry.Sequence = int64(len(existing)) + 1
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		r.t.st.audit[entry.EntityID] = append(existing, entry)
	}
	return nil
}

func (r audit) ListByEntity(_ context.Context, entityID int64) ([]domain.AuditEntry, error) {
	entries := r.t.st.audit[entityID]
	out := make([]domain.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (r audit) ListByEntities(ctx context.Context, entityIDs []int64) (map[int64][]domain.AuditEntry, error) {
	out := make(map[int64][]domain.AuditEntry, len(entityIDs))
	for _, id := range entityIDs {
		entries, err := r.ListByEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = entries
	}
	return out, nil
}
