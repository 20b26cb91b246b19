package domain

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EntityType names the kind of row an id refers to.
type EntityType string

const (
	EntityTypeTestCase EntityType = "test_case"
	EntityTypeScenario EntityType = "scenario"
)

// EntityRef identifies one versioned entity.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// TestCaseRef is shorthand for a test case reference.
func TestCaseRef(id int64) EntityRef { return EntityRef{Type: EntityTypeTestCase, ID: id} }

// ScenarioRef is shorthand for a scenario reference.
func ScenarioRef(id int64) EntityRef { return EntityRef{Type: EntityTypeScenario, ID: id} }

// TestCase is the primary mutable entity. Scenarios are owned children and are
// deleted and restored together with their test case.
type TestCase struct {
	ID             int64      `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	FolderID       *int64     `json:"folder_id"`
	Title          string     `json:"title"`
	State          string     `json:"state"`
	Priority       string     `json:"priority"`
	Description    string     `json:"description"`
	Position       int        `json:"position"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Scenarios      []Scenario `json:"scenarios"`
}

// Scenario is a Gherkin scenario belonging to a test case.
type Scenario struct {
	ID         int64  `json:"id"`
	TestCaseID int64  `json:"test_case_id"`
	Name       string `json:"name"`
	Steps      string `json:"steps"`
	Position   int    `json:"position"`
	Version    int64  `json:"version"`
}

// Default values for new test cases.
const (
	DefaultState    = "draft"
	DefaultPriority = "medium"
)

// Editable scalar fields of a test case, as accepted by ChangeField.
const (
	FieldTitle       = "title"
	FieldState       = "state"
	FieldPriority    = "priority"
	FieldDescription = "description"
)

// EditableFields lists the fields ChangeField may touch.
var EditableFields = []string{FieldTitle, FieldState, FieldPriority, FieldDescription}

// IsEditableField reports whether name is a field ChangeField accepts.
func IsEditableField(name string) bool {
	for _, field := range EditableFields {
		if field == name {
			return true
		}
	}
	return false
}

// Field returns the value of an editable scalar field.
func (tc TestCase) Field(name string) (string, bool) {
	switch name {
	case FieldTitle:
		return tc.Title, true
	case FieldState:
		return tc.State, true
	case FieldPriority:
		return tc.Priority, true
	case FieldDescription:
		return tc.Description, true
	default:
		return "", false
	}
}

// WithField returns a copy with one editable field replaced.
func (tc TestCase) WithField(name, value string) TestCase {
	out := tc.Clone()
	switch name {
	case FieldTitle:
		out.Title = value
	case FieldState:
		out.State = value
	case FieldPriority:
		out.Priority = value
	case FieldDescription:
		out.Description = value
	}
	return out
}

// WithFolder returns a copy assigned to folderID (nil means no folder).
func (tc TestCase) WithFolder(folderID *int64, position int) TestCase {
	out := tc.Clone()
	out.FolderID = cloneID(folderID)
	out.Position = position
	return out
}

// WithPosition returns a copy at a new position within its folder.
func (tc TestCase) WithPosition(position int) TestCase {
	out := tc.Clone()
	out.Position = position
	return out
}

// Clone deep-copies the test case including its scenarios.
func (tc TestCase) Clone() TestCase {
	out := tc
	out.FolderID = cloneID(tc.FolderID)
	if tc.Scenarios != nil {
		out.Scenarios = make([]Scenario, len(tc.Scenarios))
		copy(out.Scenarios, tc.Scenarios)
	}
	return out
}

// SortScenarios orders scenarios by position, then id.
func SortScenarios(scenarios []Scenario) {
	sort.SliceStable(scenarios, func(i, j int) bool {
		if scenarios[i].Position != scenarios[j].Position {
			return scenarios[i].Position < scenarios[j].Position
		}
		return scenarios[i].ID < scenarios[j].ID
	})
}

// SameFolder reports whether two folder assignments are equal.
func SameFolder(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FolderLabel renders a folder assignment for display and audit diffs.
func FolderLabel(id *int64) string {
	if id == nil {
		return "none"
	}
	return strconv.FormatInt(*id, 10)
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// Stamps maps entity refs (as "type:id") to the version observed. A missing
// entity is recorded as version 0.
type Stamps map[string]int64

// Set records the version for ref.
func (s Stamps) Set(ref EntityRef, version int64) {
	s[ref.String()] = version
}

// StampsFor builds the stamp set for the given test case ids from the cases
// that currently exist. Ids with no matching case stamp as absent.
func StampsFor(ids []int64, cases []TestCase) Stamps {
	stamps := Stamps{}
	for _, id := range ids {
		stamps.Set(TestCaseRef(id), 0)
	}
	for _, tc := range cases {
		stamps.Set(TestCaseRef(tc.ID), tc.Version)
		for _, sc := range tc.Scenarios {
			stamps.Set(ScenarioRef(sc.ID), sc.Version)
		}
	}
	return stamps
}

// Stale returns the refs whose versions differ between s and current,
// including refs present in only one of the two sets. Output is sorted.
func (s Stamps) Stale(current Stamps) []EntityRef {
	seen := map[string]struct{}{}
	var stale []string
	for key, version := range s {
		seen[key] = struct{}{}
		if got, ok := current[key]; !ok || got != version {
			if !ok && version == 0 {
				continue
			}
			stale = append(stale, key)
		}
	}
	for key, version := range current {
		if _, ok := seen[key]; ok {
			continue
		}
		if version != 0 {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)

	refs := make([]EntityRef, 0, len(stale))
	for _, key := range stale {
		refs = append(refs, parseRefKey(key))
	}
	return refs
}

// Refs returns every ref recorded in s, sorted.
func (s Stamps) Refs() []EntityRef {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	refs := make([]EntityRef, len(keys))
	for i, key := range keys {
		refs[i] = parseRefKey(key)
	}
	return refs
}

// TestCaseIDs returns the ids of the test cases recorded in s, ascending.
func (s Stamps) TestCaseIDs() []int64 {
	var ids []int64
	for _, ref := range s.Refs() {
		if ref.Type == EntityTypeTestCase {
			ids = append(ids, ref.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func parseRefKey(key string) EntityRef {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			id, _ := strconv.ParseInt(key[i+1:], 10, 64)
			return EntityRef{Type: EntityType(key[:i]), ID: id}
		}
	}
	return EntityRef{Type: EntityType(key)}
}
