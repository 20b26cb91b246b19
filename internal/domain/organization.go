package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary. Command ordering, undo/redo stacks and
// test case ids are all scoped to one organization.
type Organization struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewOrganization creates a new organization with a fresh id.
func NewOrganization(name, description string) Organization {
	now := time.Now().UTC()
	return Organization{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Folder is a container test cases can be assigned to.
type Folder struct {
	ID             int64     `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ParentID       *int64    `json:"parent_id,omitempty"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}
