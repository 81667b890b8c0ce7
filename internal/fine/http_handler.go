package fine

import (
	"net/http"

	"elibrary/internal/apperr"
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

// ListFines handles GET /v1/fines/{userId}
// @Summary List fines
// @Description All fines of a user, newest first. Users may only read their own.
// @Tags fines
// @Produce json
// @Security Bearer
// @Param userId path string true "User ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Router /v1/fines/{userId} [get]
func (h *HTTPHandler) ListFines(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !httpx.ActorFrom(r).CanAccessUser(userID) {
		httpx.WriteError(w, r, h.logger, apperr.Forbidden("cannot view another user's fines"))
		return
	}

	fines, err := h.service.ListFines(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.JSONSuccess(w, r, fines, map[string]any{
		"total":       len(fines),
		"outstanding": outstanding(fines),
	})
}

// PaymentHistory handles GET /v1/fines/payment-history/{userId}
// @Summary Fine payment history
// @Tags fines
// @Produce json
// @Security Bearer
// @Param userId path string true "User ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Router /v1/fines/payment-history/{userId} [get]
func (h *HTTPHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if !httpx.ActorFrom(r).CanAccessUser(userID) {
		httpx.WriteError(w, r, h.logger, apperr.Forbidden("cannot view another user's payments"))
		return
	}

	fines, err := h.service.ListPaidFines(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.JSONSuccess(w, r, fines, map[string]any{"total": len(fines)})
}
