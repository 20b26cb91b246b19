package httpapi

import (
	"net/http"

	"github.com/rpattn/casetrail/internal/middleware"
)

func (a *API) auditLog(w http.ResponseWriter, r *http.Request) {
	entityID, err := int64Param(r, "entityId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entries, err := a.commands.GetAuditLog(r.Context(), entityID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// auditLogs resolves several entities through the request's audit loader.
func (a *API) auditLogs(w http.ResponseWriter, r *http.Request) {
	ids, err := entityIDsParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	loader := middleware.AuditLoaderFromContext(r.Context())
	if loader == nil {
		logs, err := a.commands.GetAuditLogs(r.Context(), ids)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
		return
	}
	logs, err := loader.LoadMany(r.Context(), ids)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
