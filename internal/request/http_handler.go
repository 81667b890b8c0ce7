package request

import (
	"net/http"

	"elibrary/internal/httpx"

	"go.uber.org/zap"
)

type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
}

func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, logger: logger}
}

// ListPending handles GET /v1/requests
// @Summary Pending borrow requests
// @Tags requests
// @Produce json
// @Security Bearer
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Router /v1/requests [get]
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListPending(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, reqs, map[string]any{"total": len(reqs)})
}

// ListMine handles GET /v1/me/requests
// @Summary Caller's borrow requests
// @Tags requests
// @Produce json
// @Security Bearer
// @Success 200 {object} httpx.SuccessResponse
// @Router /v1/me/requests [get]
func (h *HTTPHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListForUser(r.Context(), httpx.UserIDFrom(r))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, reqs, map[string]any{"total": len(reqs)})
}
