// Package export renders audit trails as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/casetrail/internal/domain"
)

// ContentType is the media type of the workbooks this package writes.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Audit"

var header = []string{"Sequence", "Action", "Actor", "Command", "Recorded At", "Field", "Old Value", "New Value"}

// AuditSource reads the audit trail of an entity.
type AuditSource interface {
	GetAuditLog(ctx context.Context, entityID int64) ([]domain.AuditEntry, error)
}

type Service struct {
	source AuditSource
}

func NewService(source AuditSource) *Service {
	return &Service{source: source}
}

// FileName is the suggested download name of an entity's audit workbook.
func FileName(entityID int64) string {
	return fmt.Sprintf("audit-%d.xlsx", entityID)
}

// WriteAuditLog writes the audit workbook of entityID to w.
func (s *Service) WriteAuditLog(ctx context.Context, w io.Writer, entityID int64) error {
	entries, err := s.source.GetAuditLog(ctx, entityID)
	if err != nil {
		return err
	}
	f, err := Workbook(entries)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// Workbook lays entries out one row per field change. Entries without
// diffs still get a row so every action appears.
func Workbook(entries []domain.AuditEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	rows := [][]any{toRow(header)}
	for _, entry := range entries {
		rows = append(rows, entryRows(entry)...)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}
	return f, nil
}

func entryRows(entry domain.AuditEntry) [][]any {
	command := ""
	if entry.CommandID != nil {
		command = entry.CommandID.String()
	}
	prefix := []any{entry.Sequence, string(entry.Action), entry.ActorID, command, entry.CreatedAt.UTC().Format(time.RFC3339)}
	row := func(field string, oldValue, newValue any) []any {
		out := append([]any{}, prefix...)
		return append(out, field, render(oldValue), render(newValue))
	}

	var rows [][]any
	for _, diff := range entry.Diffs {
		if diff.Kind != domain.DiffCollection || diff.Collection == nil {
			rows = append(rows, row(diff.Field, diff.OldValue, diff.NewValue))
			continue
		}
		c := diff.Collection
		for _, item := range c.Added {
			rows = append(rows, row(itemField(diff.Field, item.ID, ""), nil, renderFields(item.Fields)))
		}
		for _, item := range c.Removed {
			rows = append(rows, row(itemField(diff.Field, item.ID, ""), renderFields(item.Fields), nil))
		}
		for _, change := range c.Changed {
			for _, inner := range change.Diffs {
				rows = append(rows, row(itemField(diff.Field, change.ID, inner.Field), inner.OldValue, inner.NewValue))
			}
		}
	}
	if len(rows) == 0 {
		rows = append(rows, row("", nil, nil))
	}
	return rows
}

func itemField(collection string, id int64, field string) string {
	name := collection + "[" + strconv.FormatInt(id, 10) + "]"
	if field != "" {
		name += "." + field
	}
	return name
}

func render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func renderFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := ""
	for i, key := range keys {
		if i > 0 {
			out += "; "
		}
		out += key + "=" + render(fields[key])
	}
	return out
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
