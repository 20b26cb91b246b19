package export

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/casetrail/internal/domain"
)

type stubSource map[int64][]domain.AuditEntry

func (s stubSource) GetAuditLog(_ context.Context, entityID int64) ([]domain.AuditEntry, error) {
	if entityID <= 0 {
		return nil, domain.ErrValidation("invalid entity id %d", entityID)
	}
	return s[entityID], nil
}

var commandID = uuid.MustParse("7b0f3c56-25a2-4a5e-9a8e-1f3c5d0e9a11")

func sampleEntries() []domain.AuditEntry {
	at := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	return []domain.AuditEntry{
		{
			EntityType: domain.EntityTypeTestCase, EntityID: 10, Sequence: 1, Action: domain.AuditUpdated,
			ActorID: "alice", CommandID: &commandID, CreatedAt: at,
			Diffs: []domain.FieldDiff{
				{Field: "state", Kind: domain.DiffScalar, OldValue: "draft", NewValue: "ready"},
				{Field: "scenarios", Kind: domain.DiffCollection, Collection: &domain.CollectionDiff{
					Added:   []domain.CollectionItem{{ID: 20, Fields: map[string]any{"name": "card", "steps": "Given"}}},
					Changed: []domain.CollectionChange{{ID: 21, Diffs: []domain.FieldDiff{{Field: "name", OldValue: "a", NewValue: "b"}}}},
				}},
			},
		},
		{EntityType: domain.EntityTypeTestCase, EntityID: 10, Sequence: 2, Action: domain.AuditDeleted, ActorID: "bob", CreatedAt: at},
	}
}

func readRows(t *testing.T, raw []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	return rows
}

func TestWriteAuditLogOneRowPerChange(t *testing.T) {
	service := NewService(stubSource{10: sampleEntries()})

	var buf bytes.Buffer
	require.NoError(t, service.WriteAuditLog(context.Background(), &buf, 10))

	rows := readRows(t, buf.Bytes())
	require.Len(t, rows, 5)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"1", "updated", "alice", commandID.String(), "2024-05-06T09:30:00Z", "state", "draft", "ready"}, rows[1])
	assert.Equal(t, "scenarios[20]", rows[2][5])
	assert.Equal(t, "name=card; steps=Given", rows[2][7])
	assert.Equal(t, []string{"scenarios[21].name", "a", "b"}, rows[3][5:])
	assert.Equal(t, []string{"2", "deleted", "bob"}, rows[4][:3])
}

func TestWriteAuditLogPropagatesValidation(t *testing.T) {
	service := NewService(stubSource{})
	err := service.WriteAuditLog(context.Background(), &bytes.Buffer{}, 0)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestHTTPHandler(t *testing.T) {
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/audit/{entityId}/export.xlsx", NewHTTPHandler(NewService(stubSource{10: sampleEntries()}), nil))

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "workbook", path: "/audit/10/export.xlsx", status: http.StatusOK},
		{name: "non numeric id", path: "/audit/abc/export.xlsx", status: http.StatusBadRequest},
		{name: "invalid id", path: "/audit/0/export.xlsx", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-10.xlsx")
			assert.Len(t, readRows(t, rec.Body.Bytes()), 5)
		})
	}
}
