package handlers

import (
	"net/http"

	domainaudit "github.com/kenjoel/asura-ai/internal/domain/audit"
)

// AuditHandler exposes the audit trail, newest-first.
type AuditHandler struct {
	service *domainaudit.Service
}

func NewAuditHandler(service *domainaudit.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

type auditListResponse struct {
	Events []*domainaudit.Event `json:"events"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// List handles GET /api/v1/audit with limit/offset pagination.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	events, total, err := h.service.List(r.Context(), params.Limit, params.Offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []*domainaudit.Event{}
	}

	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(http.StatusOK)
	writeJSONOr500(w, auditListResponse{
		Events: events,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}
