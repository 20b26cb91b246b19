package domain

import (
	"reflect"
	"sort"
)

// DiffKind distinguishes scalar field changes from child collection changes.
type DiffKind string

const (
	DiffScalar     DiffKind = "scalar"
	DiffCollection DiffKind = "collection"
)

// FieldDiff is one field-level change inside an audit entry. Scalar diffs
// carry OldValue/NewValue; collection diffs carry Collection.
type FieldDiff struct {
	Field      string          `json:"field"`
	Kind       DiffKind        `json:"kind"`
	OldValue   any             `json:"oldValue"`
	NewValue   any             `json:"newValue"`
	Collection *CollectionDiff `json:"collection,omitempty"`
}

// CollectionDiff describes changes to a child collection keyed by stable id.
type CollectionDiff struct {
	Added   []CollectionItem   `json:"added,omitempty"`
	Removed []CollectionItem   `json:"removed,omitempty"`
	Changed []CollectionChange `json:"changed,omitempty"`
}

// Empty reports whether the diff records no change.
func (d CollectionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// CollectionItem is a child item as it looked when added or removed.
type CollectionItem struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// CollectionChange lists the field changes of one child kept across the write.
type CollectionChange struct {
	ID    int64       `json:"id"`
	Diffs []FieldDiff `json:"diffs"`
}

// DiffStrategy computes the diff of one field or relationship between two
// states of a test case. Either side may be nil.
type DiffStrategy interface {
	Field() string
	Diff(before, after *TestCase) (FieldDiff, bool)
}

// ScalarDiff compares a single value extracted from each side.
type ScalarDiff struct {
	Name  string
	Value func(TestCase) any
}

func (s ScalarDiff) Field() string { return s.Name }

func (s ScalarDiff) Diff(before, after *TestCase) (FieldDiff, bool) {
	var oldValue, newValue any
	if before != nil {
		oldValue = s.Value(*before)
	}
	if after != nil {
		newValue = s.Value(*after)
	}
	if reflect.DeepEqual(oldValue, newValue) {
		return FieldDiff{}, false
	}
	return FieldDiff{Field: s.Name, Kind: DiffScalar, OldValue: oldValue, NewValue: newValue}, true
}

// ScenarioCollectionDiff compares the scenario collections of both sides by
// scenario id.
type ScenarioCollectionDiff struct{}

func (ScenarioCollectionDiff) Field() string { return "scenarios" }

func (ScenarioCollectionDiff) Diff(before, after *TestCase) (FieldDiff, bool) {
	var old, next []Scenario
	if before != nil {
		old = before.Scenarios
	}
	if after != nil {
		next = after.Scenarios
	}
	diff := DiffScenarios(old, next)
	if diff.Empty() {
		return FieldDiff{}, false
	}
	return FieldDiff{Field: "scenarios", Kind: DiffCollection, Collection: &diff}, true
}

// DiffScenarios computes the add/remove/change diff between two scenario
// collections. Output is ordered by scenario id.
func DiffScenarios(before, after []Scenario) CollectionDiff {
	prior := make(map[int64]Scenario, len(before))
	for _, sc := range before {
		prior[sc.ID] = sc
	}
	next := make(map[int64]Scenario, len(after))
	for _, sc := range after {
		next[sc.ID] = sc
	}

	var diff CollectionDiff
	for _, id := range sortedScenarioIDs(next) {
		sc := next[id]
		old, ok := prior[id]
		if !ok {
			diff.Added = append(diff.Added, CollectionItem{ID: id, Fields: scenarioFields(sc)})
			continue
		}
		var changes []FieldDiff
		for _, strategy := range scenarioStrategies {
			if change, ok := strategy.diff(old, sc); ok {
				changes = append(changes, change)
			}
		}
		if len(changes) > 0 {
			diff.Changed = append(diff.Changed, CollectionChange{ID: id, Diffs: changes})
		}
	}
	for _, id := range sortedScenarioIDs(prior) {
		if _, ok := next[id]; !ok {
			diff.Removed = append(diff.Removed, CollectionItem{ID: id, Fields: scenarioFields(prior[id])})
		}
	}
	return diff
}

type scenarioScalar struct {
	name  string
	value func(Scenario) any
}

func (s scenarioScalar) diff(before, after Scenario) (FieldDiff, bool) {
	oldValue, newValue := s.value(before), s.value(after)
	if reflect.DeepEqual(oldValue, newValue) {
		return FieldDiff{}, false
	}
	return FieldDiff{Field: s.name, Kind: DiffScalar, OldValue: oldValue, NewValue: newValue}, true
}

var scenarioStrategies = []scenarioScalar{
	{name: "name", value: func(s Scenario) any { return s.Name }},
	{name: "steps", value: func(s Scenario) any { return s.Steps }},
	{name: "position", value: func(s Scenario) any { return s.Position }},
}

func scenarioFields(sc Scenario) map[string]any {
	return map[string]any{
		"name":     sc.Name,
		"steps":    sc.Steps,
		"position": sc.Position,
	}
}

func sortedScenarioIDs(m map[int64]Scenario) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TestCaseDiffStrategies is the per-field strategy table used for audit
// diffs. Order here is the order diffs appear in an entry.
var TestCaseDiffStrategies = []DiffStrategy{
	ScalarDiff{Name: FieldTitle, Value: func(tc TestCase) any { return tc.Title }},
	ScalarDiff{Name: FieldState, Value: func(tc TestCase) any { return tc.State }},
	ScalarDiff{Name: FieldPriority, Value: func(tc TestCase) any { return tc.Priority }},
	ScalarDiff{Name: FieldDescription, Value: func(tc TestCase) any { return tc.Description }},
	ScalarDiff{Name: "folder_id", Value: func(tc TestCase) any {
		if tc.FolderID == nil {
			return nil
		}
		return *tc.FolderID
	}},
	ScalarDiff{Name: "position", Value: func(tc TestCase) any { return tc.Position }},
	ScenarioCollectionDiff{},
}
