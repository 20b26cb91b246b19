package export

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rpattn/casetrail/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHTTPHandler serves the audit workbook of the entity named by the
// entityId route parameter.
func NewHTTPHandler(service *Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid entityId", http.StatusBadRequest)
		return
	}

	// Buffer so a failed render can still produce an error status.
	var buf bytes.Buffer
	if err := h.service.WriteAuditLog(r.Context(), &buf, entityID); err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			http.Error(w, validation.Error(), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(r.Context(), "audit export failed", "entity_id", entityID, "error", err)
		http.Error(w, "failed to export audit log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+FileName(entityID)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
