package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/casetrail/internal/domain"
)

// testCaseRepository reads and writes test cases and scenarios. Versions are
// written as given; bumping or restoring them is the caller's decision.
type testCaseRepository struct {
	tx       pgx.Tx
	lockRows bool
}

const testCaseColumns = `id, organization_id, folder_id, title, state, priority, description, position, version, created_at, updated_at`

func (r *testCaseRepository) lockClause() string {
	if r.lockRows {
		return " FOR UPDATE"
	}
	return ""
}

// NextID reserves an id from the shared entity sequence
func (r *testCaseRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('entity_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to reserve entity id: %w", err)
	}
	return id, nil
}

// GetByIDs retrieves the existing test cases among ids, with scenarios
func (r *testCaseRepository) GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []int64) ([]domain.TestCase, error) {
	if len(ids) == 0 {
		return []domain.TestCase{}, nil
	}

	rows, err := r.tx.Query(ctx, `
		SELECT `+testCaseColumns+`
		FROM test_cases
		WHERE organization_id = $1 AND id = ANY($2)
		ORDER BY id`+r.lockClause(),
		organizationID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get test cases: %w", err)
	}
	cases, err := collectTestCases(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachScenarios(ctx, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// ListByFolder retrieves the test cases of a folder in position order
func (r *testCaseRepository) ListByFolder(ctx context.Context, organizationID uuid.UUID, folderID *int64) ([]domain.TestCase, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+testCaseColumns+`
		FROM test_cases
		WHERE organization_id = $1 AND folder_id IS NOT DISTINCT FROM $2
		ORDER BY position, id`+r.lockClause(),
		organizationID, folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases by folder: %w", err)
	}
	cases, err := collectTestCases(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachScenarios(ctx, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// MaxPosition returns the highest position in a folder, -1 when empty
func (r *testCaseRepository) MaxPosition(ctx context.Context, organizationID uuid.UUID, folderID *int64) (int, error) {
	var position int
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), -1)
		FROM test_cases
		WHERE organization_id = $1 AND folder_id IS NOT DISTINCT FROM $2`,
		organizationID, folderID,
	).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to get max position: %w", err)
	}
	return position, nil
}

// Insert creates a test case with an explicit id, plus the scenarios it carries
func (r *testCaseRepository) Insert(ctx context.Context, tc domain.TestCase) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO test_cases (`+testCaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tc.ID, tc.OrganizationID, tc.FolderID, tc.Title, tc.State, tc.Priority,
		tc.Description, tc.Position, tc.Version, tc.CreatedAt, tc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test case %d: %w", tc.ID, err)
	}
	// Ids assigned outside the sequence (imports) must not be handed out again.
	if _, err := r.tx.Exec(ctx, `
		SELECT setval('entity_id_seq', $1)
		WHERE $1 > (SELECT last_value FROM entity_id_seq)`,
		tc.ID,
	); err != nil {
		return fmt.Errorf("failed to advance entity id sequence: %w", err)
	}
	for _, sc := range tc.Scenarios {
		if err := r.InsertScenario(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// Update overwrites the mutable columns of a test case
func (r *testCaseRepository) Update(ctx context.Context, tc domain.TestCase) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE test_cases
		SET folder_id = $2, title = $3, state = $4, priority = $5, description = $6,
			position = $7, version = $8, updated_at = $9
		WHERE id = $1`,
		tc.ID, tc.FolderID, tc.Title, tc.State, tc.Priority, tc.Description,
		tc.Position, tc.Version, tc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update test case %d: %w", tc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update test case: id %d does not exist", tc.ID)
	}
	return nil
}

// Delete removes a test case; scenarios cascade
func (r *testCaseRepository) Delete(ctx context.Context, organizationID uuid.UUID, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM test_cases WHERE id = $1 AND organization_id = $2`, id, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete test case %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete test case: id %d does not exist", id)
	}
	return nil
}

// InsertScenario creates a scenario with an explicit id
func (r *testCaseRepository) InsertScenario(ctx context.Context, sc domain.Scenario) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO scenarios (id, test_case_id, name, steps, position, version)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.ID, sc.TestCaseID, sc.Name, sc.Steps, sc.Position, sc.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scenario %d: %w", sc.ID, err)
	}
	return nil
}

// UpdateScenario overwrites a scenario
func (r *testCaseRepository) UpdateScenario(ctx context.Context, sc domain.Scenario) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE scenarios
		SET name = $2, steps = $3, position = $4, version = $5
		WHERE id = $1`,
		sc.ID, sc.Name, sc.Steps, sc.Position, sc.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update scenario %d: %w", sc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update scenario: id %d does not exist", sc.ID)
	}
	return nil
}

// DeleteScenario removes one scenario
func (r *testCaseRepository) DeleteScenario(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM scenarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scenario %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete scenario: id %d does not exist", id)
	}
	return nil
}

func (r *testCaseRepository) attachScenarios(ctx context.Context, cases []domain.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	ids := make([]int64, len(cases))
	index := make(map[int64]int, len(cases))
	for i, tc := range cases {
		ids[i] = tc.ID
		index[tc.ID] = i
	}

	rows, err := r.tx.Query(ctx, `
		SELECT id, test_case_id, name, steps, position, version
		FROM scenarios
		WHERE test_case_id = ANY($1)
		ORDER BY test_case_id, position, id`+r.lockClause(),
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc domain.Scenario
		if err := rows.Scan(&sc.ID, &sc.TestCaseID, &sc.Name, &sc.Steps, &sc.Position, &sc.Version); err != nil {
			return fmt.Errorf("failed to scan scenario: %w", err)
		}
		i := index[sc.TestCaseID]
		cases[i].Scenarios = append(cases[i].Scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}
	return nil
}

func collectTestCases(rows pgx.Rows) ([]domain.TestCase, error) {
	defer rows.Close()

	cases := []domain.TestCase{}
	for rows.Next() {
		var tc domain.TestCase
		if err := rows.Scan(
			&tc.ID, &tc.OrganizationID, &tc.FolderID, &tc.Title, &tc.State, &tc.Priority,
			&tc.Description, &tc.Position, &tc.Version, &tc.CreatedAt, &tc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test cases: %w", err)
	}
	return cases, nil
}
