package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/domain"
)

type submitRequest struct {
	ActionType domain.ActionType `json:"actionType"`
	Params     json.RawMessage   `json:"params"`
}

func (a *API) listActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.commands.ActionTypes())
}

func (a *API) submitCommand(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req submitRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	submitted, err := a.commands.SubmitCommand(r.Context(), scope, actorID, req.ActionType, req.Params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitted)
}

func (a *API) lastUndo(w http.ResponseWriter, r *http.Request) {
	a.peek(w, r, a.commands.GetLastUndo)
}

func (a *API) lastRedo(w http.ResponseWriter, r *http.Request) {
	a.peek(w, r, a.commands.GetLastRedo)
}

// peek answers 204 when the stack side is empty.
func (a *API) peek(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*domain.StackItem, error)) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	item, err := fn(r.Context(), scope)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) undoStack(w http.ResponseWriter, r *http.Request) {
	a.listStack(w, r, a.commands.GetUndoStack)
}

func (a *API) redoStack(w http.ResponseWriter, r *http.Request) {
	a.listStack(w, r, a.commands.GetRedoStack)
}

func (a *API) listStack(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, int) ([]domain.StackItem, error)) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items, err := fn(r.Context(), scope, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) executeUndo(w http.ResponseWriter, r *http.Request) {
	a.execute(w, r, a.commands.ExecuteUndo)
}

func (a *API) executeRedo(w http.ResponseWriter, r *http.Request) {
	a.execute(w, r, a.commands.ExecuteRedo)
}

// execute reports "nothing to undo/redo" as a 200 with applied=false.
func (a *API) execute(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, string) (commandlog.Result, error)) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := fn(r.Context(), scope, actorID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
