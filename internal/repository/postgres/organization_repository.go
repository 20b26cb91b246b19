package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/casetrail/internal/domain"
)

type organizationRepository struct {
	tx pgx.Tx
}

const organizationColumns = `id, name, description, created_at, updated_at`

// Create creates a new organization
func (r *organizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	row := r.tx.QueryRow(ctx, `
		INSERT INTO organizations (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+organizationColumns,
		org.ID, org.Name, org.Description,
	)
	created, err := scanOrganization(row)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("failed to create organization: %w", err)
	}
	return created, nil
}

// GetByID retrieves an organization by ID
func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id)
	org, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Organization{}, domain.ErrNotFound("organization %s not found", id)
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// LockByID retrieves an organization and locks its row until the transaction ends
func (r *organizationRepository) LockByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id)
	org, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Organization{}, domain.ErrNotFound("organization %s not found", id)
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("failed to lock organization: %w", err)
	}
	return org, nil
}

// List retrieves all organizations
func (r *organizationRepository) List(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	organizations := []domain.Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		organizations = append(organizations, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return organizations, nil
}

// CreateFolder creates a folder inside an organization
func (r *organizationRepository) CreateFolder(ctx context.Context, folder domain.Folder) (domain.Folder, error) {
	if folder.ParentID != nil {
		if _, err := r.GetFolder(ctx, folder.OrganizationID, *folder.ParentID); err != nil {
			return domain.Folder{}, err
		}
	}
	err := r.tx.QueryRow(ctx, `
		INSERT INTO folders (organization_id, parent_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		folder.OrganizationID, folder.ParentID, folder.Name,
	).Scan(&folder.ID, &folder.CreatedAt)
	if err != nil {
		return domain.Folder{}, fmt.Errorf("failed to create folder: %w", err)
	}
	return folder, nil
}

// GetFolder retrieves a folder scoped to an organization
func (r *organizationRepository) GetFolder(ctx context.Context, organizationID uuid.UUID, id int64) (domain.Folder, error) {
	var folder domain.Folder
	err := r.tx.QueryRow(ctx, `
		SELECT id, organization_id, parent_id, name, created_at
		FROM folders
		WHERE id = $1 AND organization_id = $2`,
		id, organizationID,
	).Scan(&folder.ID, &folder.OrganizationID, &folder.ParentID, &folder.Name, &folder.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Folder{}, domain.ErrNotFound("folder %d not found", id)
	}
	if err != nil {
		return domain.Folder{}, fmt.Errorf("failed to get folder: %w", err)
	}
	return folder, nil
}

func scanOrganization(row pgx.Row) (domain.Organization, error) {
	var org domain.Organization
	err := row.Scan(&org.ID, &org.Name, &org.Description, &org.CreatedAt, &org.UpdatedAt)
	return org, err
}
