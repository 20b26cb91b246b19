package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/auth"
	"github.com/rpattn/casetrail/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string             `json:"error"`
	CommandID *uuid.UUID         `json:"commandId,omitempty"`
	Entities  []domain.EntityRef `json:"entities,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 and is logged.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validation.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: notFound.Error()})
	case errors.As(err, &conflict):
		id := conflict.CommandID
		body := errorBody{Error: conflict.Error(), Entities: conflict.Entities}
		if id != uuid.Nil {
			body.CommandID = &id
		}
		writeJSON(w, http.StatusConflict, body)
	default:
		a.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrValidation("invalid payload: %v", err)
	}
	return nil
}

func scopeParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "scopeId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrValidation("invalid scopeId %q", raw)
	}
	return id, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidation("invalid %s %q", name, raw)
	}
	return id, nil
}

// actor returns the acting user set by auth.ActorMiddleware.
func actor(r *http.Request) (string, error) {
	id, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		return "", domain.ErrValidation("%s header is required", auth.ActorHeader)
	}
	return id, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.ErrValidation("invalid limit %q", raw)
	}
	return limit, nil
}

func entityIDsParam(r *http.Request) ([]int64, error) {
	values := r.URL.Query()["entityId"]
	if len(values) == 0 {
		return nil, domain.ErrValidation("at least one entityId is required")
	}
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				return nil, domain.ErrValidation("invalid entityId %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
