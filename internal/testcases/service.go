// Package testcases is the direct, non-reversible write path for test cases:
// creating them and saving editor changes. Every write bumps versions and is
// audited, so the command log can detect it as a concurrent edit.
package testcases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/audit"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// Service manages organizations, folders and test cases outside the command
// log.
type Service struct {
	store  repository.Store
	audit  *audit.Writer
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new test case service.
func NewService(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		audit:  audit.NewWriter(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewScenario is a scenario of a test case being created.
type NewScenario struct {
	Name  string `json:"name"`
	Steps string `json:"steps"`
}

// NewTestCase describes a test case to create. ID, when set, keeps an id
// assigned by another system (imports); otherwise one is reserved.
type NewTestCase struct {
	ID          int64         `json:"id,omitempty"`
	FolderID    *int64        `json:"folderId,omitempty"`
	Title       string        `json:"title"`
	State       string        `json:"state,omitempty"`
	Priority    string        `json:"priority,omitempty"`
	Description string        `json:"description,omitempty"`
	Scenarios   []NewScenario `json:"scenarios,omitempty"`
}

// Edit is a save from the test case editor. ExpectedVersion, when non-zero,
// must match the stored version.
type Edit struct {
	ExpectedVersion int64             `json:"expectedVersion,omitempty"`
	Fields          map[string]string `json:"fields"`
}

// CreateOrganization creates a scope.
func (s *Service) CreateOrganization(ctx context.Context, name, description string) (domain.Organization, error) {
	org := domain.NewOrganization(name, description)
	if org.Name == "" {
		return domain.Organization{}, domain.ErrValidation("organization name is required")
	}
	var created domain.Organization
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		created, err = tx.Organizations().Create(ctx, org)
		return err
	})
	if err != nil {
		return domain.Organization{}, wrap("create organization", err)
	}
	return created, nil
}

// CreateFolder creates a folder in scope, optionally under parentID.
func (s *Service) CreateFolder(ctx context.Context, scope uuid.UUID, name string, parentID *int64) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if scope == uuid.Nil {
		return domain.Folder{}, domain.ErrValidation("scope is required")
	}
	if name == "" {
		return domain.Folder{}, domain.ErrValidation("folder name is required")
	}
	var created domain.Folder
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if parentID != nil {
			if _, err := tx.Organizations().GetFolder(ctx, scope, *parentID); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.Organizations().CreateFolder(ctx, domain.Folder{
			OrganizationID: scope,
			ParentID:       parentID,
			Name:           name,
			CreatedAt:      s.now(),
		})
		return err
	})
	if err != nil {
		return domain.Folder{}, wrap("create folder", err)
	}
	return created, nil
}

// Create inserts a test case at the end of its folder and audits it as
// created.
func (s *Service) Create(ctx context.Context, scope uuid.UUID, actor string, input NewTestCase) (domain.TestCase, error) {
	if err := validateNew(scope, actor, input); err != nil {
		return domain.TestCase{}, err
	}

	var created domain.TestCase
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().GetByID(ctx, scope); err != nil {
			return err
		}
		if input.FolderID != nil {
			if _, err := tx.Organizations().GetFolder(ctx, scope, *input.FolderID); err != nil {
				return err
			}
		}

		repo := tx.TestCases()
		id := input.ID
		if id == 0 {
			var err error
			if id, err = repo.NextID(ctx); err != nil {
				return err
			}
		} else {
			existing, err := repo.GetByIDs(ctx, scope, []int64{id})
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return domain.ErrValidation("test case %d already exists", id)
			}
		}
		last, err := repo.MaxPosition(ctx, scope, input.FolderID)
		if err != nil {
			return err
		}

		now := s.now()
		tc := domain.TestCase{
			ID:             id,
			OrganizationID: scope,
			FolderID:       input.FolderID,
			Title:          strings.TrimSpace(input.Title),
			State:          valueOr(input.State, domain.DefaultState),
			Priority:       valueOr(input.Priority, domain.DefaultPriority),
			Description:    input.Description,
			Position:       last + 1,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := repo.Insert(ctx, tc); err != nil {
			return err
		}
		// Scenario ids are reserved after the insert so they land above an
		// explicitly supplied test case id.
		for i, draft := range input.Scenarios {
			scID, err := repo.NextID(ctx)
			if err != nil {
				return err
			}
			sc := domain.Scenario{
				ID:         scID,
				TestCaseID: id,
				Name:       strings.TrimSpace(draft.Name),
				Steps:      draft.Steps,
				Position:   i,
				Version:    1,
			}
			if err := repo.InsertScenario(ctx, sc); err != nil {
				return err
			}
			tc.Scenarios = append(tc.Scenarios, sc)
		}

		created = tc
		_, err = s.audit.Record(ctx, tx.Audit(), audit.Write{ActorID: actor, At: now}, []audit.Change{{ID: id, After: &tc}})
		return err
	})
	if err != nil {
		return domain.TestCase{}, wrap("create test case", err)
	}

	s.logger.InfoContext(ctx, "test case created", "scope", scope, "test_case_id", created.ID, "actor", actor)
	return created, nil
}

// Save applies an editor save to one test case. The version is bumped and
// the change audited as an update.
func (s *Service) Save(ctx context.Context, scope uuid.UUID, actor string, id int64, edit Edit) (domain.TestCase, error) {
	if err := validateEdit(scope, actor, id, edit); err != nil {
		return domain.TestCase{}, err
	}

	var saved domain.TestCase
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := s.load(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if edit.ExpectedVersion != 0 && edit.ExpectedVersion != current.Version {
			return domain.ErrConflict(uuid.Nil, []domain.EntityRef{domain.TestCaseRef(id)},
				"test case %d is at version %d, expected %d", id, current.Version, edit.ExpectedVersion)
		}

		next := current.Clone()
		for name, value := range edit.Fields {
			next = next.WithField(name, value)
		}
		now := s.now()
		next.Version = current.Version + 1
		next.UpdatedAt = now
		if err := tx.TestCases().Update(ctx, next); err != nil {
			return err
		}

		saved = next
		_, err = s.audit.Record(ctx, tx.Audit(), audit.Write{ActorID: actor, At: now},
			[]audit.Change{{ID: id, Before: &current, After: &next}})
		return err
	})
	if err != nil {
		return domain.TestCase{}, wrap("save test case", err)
	}

	s.logger.InfoContext(ctx, "test case saved", "scope", scope, "test_case_id", id, "version", saved.Version, "actor", actor)
	return saved, nil
}

// AddScenario appends a scenario to a test case.
func (s *Service) AddScenario(ctx context.Context, scope uuid.UUID, actor string, testCaseID int64, input NewScenario) (domain.Scenario, error) {
	if scope == uuid.Nil {
		return domain.Scenario{}, domain.ErrValidation("scope is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.Scenario{}, domain.ErrValidation("actor is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return domain.Scenario{}, domain.ErrValidation("scenario name must not be empty")
	}

	var added domain.Scenario
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := s.load(ctx, tx, scope, testCaseID)
		if err != nil {
			return err
		}
		id, err := tx.TestCases().NextID(ctx)
		if err != nil {
			return err
		}
		added = domain.Scenario{
			ID:         id,
			TestCaseID: testCaseID,
			Name:       strings.TrimSpace(input.Name),
			Steps:      input.Steps,
			Position:   len(current.Scenarios),
			Version:    1,
		}
		if err := tx.TestCases().InsertScenario(ctx, added); err != nil {
			return err
		}

		next := current.Clone()
		next.Scenarios = append(next.Scenarios, added)
		_, err = s.audit.Record(ctx, tx.Audit(), audit.Write{ActorID: actor, At: s.now()},
			[]audit.Change{{ID: testCaseID, Before: &current, After: &next}})
		return err
	})
	if err != nil {
		return domain.Scenario{}, wrap("add scenario", err)
	}
	return added, nil
}

// SaveScenario updates the name and steps of one scenario and audits the
// owning test case.
func (s *Service) SaveScenario(ctx context.Context, scope uuid.UUID, actor string, testCaseID, scenarioID int64, name, steps string) (domain.TestCase, error) {
	if scope == uuid.Nil {
		return domain.TestCase{}, domain.ErrValidation("scope is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.TestCase{}, domain.ErrValidation("actor is required")
	}
	if strings.TrimSpace(name) == "" {
		return domain.TestCase{}, domain.ErrValidation("scenario name must not be empty")
	}

	var saved domain.TestCase
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := s.load(ctx, tx, scope, testCaseID)
		if err != nil {
			return err
		}
		next := current.Clone()
		found := false
		for i := range next.Scenarios {
			if next.Scenarios[i].ID != scenarioID {
				continue
			}
			next.Scenarios[i].Name = name
			next.Scenarios[i].Steps = steps
			next.Scenarios[i].Version++
			if err := tx.TestCases().UpdateScenario(ctx, next.Scenarios[i]); err != nil {
				return err
			}
			found = true
		}
		if !found {
			return domain.ErrNotFound("scenario %d not found on test case %d", scenarioID, testCaseID)
		}

		saved = next
		_, err = s.audit.Record(ctx, tx.Audit(), audit.Write{ActorID: actor, At: s.now()},
			[]audit.Change{{ID: testCaseID, Before: &current, After: &next}})
		return err
	})
	if err != nil {
		return domain.TestCase{}, wrap("save scenario", err)
	}
	return saved, nil
}

// Get returns one test case with its scenarios.
func (s *Service) Get(ctx context.Context, scope uuid.UUID, id int64) (domain.TestCase, error) {
	var tc domain.TestCase
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		tc, err = s.load(ctx, tx, scope, id)
		return err
	})
	if err != nil {
		return domain.TestCase{}, wrap("get test case", err)
	}
	return tc, nil
}

// ListByFolder returns the test cases of a folder (nil = unfiled) in order.
func (s *Service) ListByFolder(ctx context.Context, scope uuid.UUID, folderID *int64) ([]domain.TestCase, error) {
	var cases []domain.TestCase
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		cases, err = tx.TestCases().ListByFolder(ctx, scope, folderID)
		return err
	})
	if err != nil {
		return nil, wrap("list test cases", err)
	}
	return cases, nil
}

func (s *Service) load(ctx context.Context, tx repository.Tx, scope uuid.UUID, id int64) (domain.TestCase, error) {
	cases, err := tx.TestCases().GetByIDs(ctx, scope, []int64{id})
	if err != nil {
		return domain.TestCase{}, err
	}
	if len(cases) == 0 {
		return domain.TestCase{}, domain.ErrNotFound("test case %d not found", id)
	}
	return cases[0], nil
}

func validateNew(scope uuid.UUID, actor string, input NewTestCase) error {
	if scope == uuid.Nil {
		return domain.ErrValidation("scope is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.ErrValidation("actor is required")
	}
	if input.ID < 0 {
		return domain.ErrValidation("invalid id %d", input.ID)
	}
	if strings.TrimSpace(input.Title) == "" {
		return domain.ErrValidation("title is required")
	}
	for i, sc := range input.Scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return domain.ErrValidation("scenario %d: name must not be empty", i)
		}
	}
	return nil
}

func validateEdit(scope uuid.UUID, actor string, id int64, edit Edit) error {
	if scope == uuid.Nil {
		return domain.ErrValidation("scope is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.ErrValidation("actor is required")
	}
	if id <= 0 {
		return domain.ErrValidation("invalid id %d", id)
	}
	if len(edit.Fields) == 0 {
		return domain.ErrValidation("fields must not be empty")
	}
	for name, value := range edit.Fields {
		if !domain.IsEditableField(name) {
			return domain.ErrValidation("field %q cannot be changed", name)
		}
		if (name == domain.FieldTitle || name == domain.FieldState) && strings.TrimSpace(value) == "" {
			return domain.ErrValidation("field %q must not be empty", name)
		}
	}
	return nil
}

func valueOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func wrap(op string, err error) error {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) || errors.As(err, &conflict) {
		return err
	}
	return &domain.TransactionError{Op: op, Err: fmt.Errorf("transaction rolled back: %w", err)}
}
