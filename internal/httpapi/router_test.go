package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/auth"
	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository/memory"
	"github.com/rpattn/casetrail/internal/testcases"
)

type client struct {
	t       *testing.T
	handler http.Handler
}

func newClient(t *testing.T) *client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	router := NewRouter(
		commandlog.NewService(store, nil, commandlog.WithLogger(logger)),
		testcases.NewService(store, testcases.WithLogger(logger)),
		logger,
	)
	return &client{t: t, handler: router}
}

// do sends a request as alice unless actor is empty, and decodes the JSON
// response into out when out is non-nil.
func (c *client) do(method, path, actor string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(auth.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type seeded struct {
	scope  uuid.UUID
	folder int64
	cases  []int64
}

func seed(c *client) seeded {
	c.t.Helper()
	var org domain.Organization
	require.Equal(c.t, http.StatusCreated, c.do(http.MethodPost, "/scopes", "", map[string]string{"name": "QA"}, &org))

	var folder domain.Folder
	require.Equal(c.t, http.StatusCreated,
		c.do(http.MethodPost, "/scopes/"+org.ID.String()+"/folders", "", map[string]string{"name": "Checkout"}, &folder))

	s := seeded{scope: org.ID, folder: folder.ID}
	for _, title := range []string{"Pay by card", "Pay by voucher", "Refund"} {
		var tc domain.TestCase
		status := c.do(http.MethodPost, s.path("/testcases"), "alice",
			testcases.NewTestCase{FolderID: &folder.ID, Title: title, Scenarios: []testcases.NewScenario{{Name: "happy path", Steps: "Given a cart"}}}, &tc)
		require.Equal(c.t, http.StatusCreated, status)
		s.cases = append(s.cases, tc.ID)
	}
	return s
}

func (s seeded) path(suffix string) string {
	return "/scopes/" + s.scope.String() + suffix
}

func TestSubmitUndoRedoOverHTTP(t *testing.T) {
	c := newClient(t)
	s := seed(c)

	require.Equal(t, http.StatusNoContent, c.do(http.MethodGet, s.path("/undo"), "", nil, nil))

	var submitted commandlog.Submitted
	status := c.do(http.MethodPost, s.path("/commands"), "alice", map[string]any{
		"actionType": domain.ActionDeleteEntities,
		"params":     map[string]any{"ids": s.cases[:2]},
	}, &submitted)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEqual(t, uuid.Nil, submitted.CommandID)

	var top domain.StackItem
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, s.path("/undo"), "", nil, &top))
	assert.Equal(t, submitted.CommandID, top.ID)
	assert.Equal(t, submitted.Description, top.Description)
	require.Equal(t, http.StatusNoContent, c.do(http.MethodGet, s.path("/redo"), "", nil, nil))

	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, s.path(fmt.Sprintf("/testcases/%d", s.cases[0])), "", nil, nil))

	var result commandlog.Result
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, s.path("/undo"), "alice", nil, &result))
	assert.True(t, result.Applied)
	assert.Equal(t, submitted.Description, result.Description)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, s.path(fmt.Sprintf("/testcases/%d", s.cases[0])), "", nil, nil))

	var redoStack []domain.StackItem
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, s.path("/redo/stack?limit=5"), "", nil, &redoStack))
	require.Len(t, redoStack, 1)

	result = commandlog.Result{}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, s.path("/redo"), "alice", nil, &result))
	assert.True(t, result.Applied)

	result = commandlog.Result{}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, s.path("/redo"), "alice", nil, &result))
	assert.False(t, result.Applied)
	assert.Equal(t, commandlog.NothingToRedo, result.Description)

	var undoStack []domain.StackItem
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, s.path("/undo/stack"), "", nil, &undoStack))
	assert.Len(t, undoStack, 1)
}

func TestRedoAfterDirectEditIsConflict(t *testing.T) {
	c := newClient(t)
	s := seed(c)

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, s.path("/commands"), "alice", map[string]any{
		"actionType": domain.ActionChangeField,
		"params":     map[string]any{"ids": s.cases, "fields": map[string]string{"state": "ready"}},
	}, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, s.path("/undo"), "alice", nil, nil))

	require.Equal(t, http.StatusOK, c.do(http.MethodPatch, s.path(fmt.Sprintf("/testcases/%d", s.cases[1])), "bob",
		testcases.Edit{Fields: map[string]string{"title": "Pay by gift card"}}, nil))

	var body errorBody
	require.Equal(t, http.StatusConflict, c.do(http.MethodPost, s.path("/redo"), "alice", nil, &body))
	assert.Contains(t, body.Entities, domain.TestCaseRef(s.cases[1]))
	require.NotNil(t, body.CommandID)
}

func TestAuditEndpoints(t *testing.T) {
	c := newClient(t)
	s := seed(c)

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, s.path("/commands"), "alice", map[string]any{
		"actionType": domain.ActionDeleteEntities,
		"params":     map[string]any{"ids": []int64{s.cases[0]}},
	}, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, s.path("/undo"), "alice", nil, nil))

	var entries []domain.AuditEntry
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/audit/%d", s.cases[0]), "", nil, &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, []domain.AuditAction{domain.AuditCreated, domain.AuditDeleted, domain.AuditRestored},
		[]domain.AuditAction{entries[0].Action, entries[1].Action, entries[2].Action})

	var grouped map[string][]domain.AuditEntry
	path := fmt.Sprintf("/audit?entityId=%d&entityId=%d", s.cases[0], s.cases[1])
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, path, "", nil, &grouped))
	assert.Len(t, grouped[fmt.Sprint(s.cases[0])], 3)
	assert.Len(t, grouped[fmt.Sprint(s.cases[1])], 1)

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/audit/%d/export.xlsx", s.cases[0]), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())
}

func TestErrorMapping(t *testing.T) {
	c := newClient(t)
	s := seed(c)
	unknown := "/scopes/" + uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
	}{
		{name: "malformed scope", method: http.MethodGet, path: "/scopes/not-a-uuid/undo", status: http.StatusBadRequest},
		{name: "unknown scope", method: http.MethodGet, path: unknown + "/undo", status: http.StatusNotFound},
		{name: "missing actor", method: http.MethodPost, path: s.path("/undo"), status: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, path: s.path("/undo/stack?limit=x"), status: http.StatusBadRequest},
		{name: "unknown action", method: http.MethodPost, path: s.path("/commands"), actor: "alice",
			body: map[string]any{"actionType": "Explode", "params": map[string]any{}}, status: http.StatusBadRequest},
		{name: "unknown field in body", method: http.MethodPost, path: s.path("/commands"), actor: "alice",
			body: map[string]any{"actionType": "DeleteEntities", "extra": 1}, status: http.StatusBadRequest},
		{name: "missing entity", method: http.MethodPost, path: s.path("/commands"), actor: "alice",
			body: map[string]any{"actionType": "DeleteEntities", "params": map[string]any{"ids": []int64{999}}}, status: http.StatusNotFound},
		{name: "audit without ids", method: http.MethodGet, path: "/audit", status: http.StatusBadRequest},
		{name: "audit bad id", method: http.MethodGet, path: "/audit/abc", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.t = t
			var body errorBody
			assert.Equal(t, tt.status, c.do(tt.method, tt.path, tt.actor, tt.body, &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestListActions(t *testing.T) {
	c := newClient(t)
	var actions []domain.ActionType
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/actions", "", nil, &actions))
	assert.Contains(t, actions, domain.ActionReorder)
	assert.Len(t, actions, 5)
}

func TestGraphQLIsMounted(t *testing.T) {
	c := newClient(t)

	var resp struct {
		Data struct {
			ActionTypes []string `json:"actionTypes"`
		} `json:"data"`
	}
	status := c.do(http.MethodPost, "/query", "", map[string]string{"query": "{ actionTypes }"}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, resp.Data.ActionTypes, string(domain.ActionReorder))
}
