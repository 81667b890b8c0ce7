package ebook

import (
	"net/http"
	"strconv"

	"elibrary/internal/apperr"
	"elibrary/internal/httpx"
	"elibrary/internal/request"

	"go.uber.org/zap"
)

type HTTPHandler struct {
	engine  *Engine
	service *Service
	logger  *zap.Logger
}

func NewHTTPHandler(engine *Engine, service *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{engine: engine, service: service, logger: logger}
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return false
	}
	if details := httpx.ValidateStruct(dst); len(details) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, string(apperr.KindValidation), "Invalid input", details)
		return false
	}
	return true
}

// List handles GET /v1/ebooks
// @Summary List ebooks
// @Tags ebooks
// @Produce json
// @Security Bearer
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} httpx.SuccessResponse
// @Router /v1/ebooks [get]
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := ListFilter{Limit: limit, Offset: offset}
	if s := q.Get("status"); s != "" {
		status := Status(s)
		if !status.Valid() {
			h.fail(w, r, apperr.Validation("status", "unknown ebook status"))
			return
		}
		filter.Statuses = []Status{status}
	}

	books, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, books, map[string]any{"count": len(books), "limit": filter.Limit, "offset": filter.Offset})
}

// Get handles GET /v1/ebooks/{id}
// @Summary Get an ebook
// @Tags ebooks
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id} [get]
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// Create handles POST /v1/ebooks
// @Summary Add an ebook
// @Tags ebooks
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body NewEbook true "Ebook"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Router /v1/ebooks [post]
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in NewEbook
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.service.Create(r.Context(), httpx.ActorFrom(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccessCreated(w, r, b)
}

// Update handles PUT /v1/ebooks/{id}
// @Summary Edit an ebook's catalogue fields
// @Description Lending fields cannot be changed here. Send version to guard against lost updates.
// @Tags ebooks
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Param request body EbookEdit true "Catalogue fields"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id} [put]
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in EbookEdit
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.service.Update(r.Context(), httpx.ActorFrom(r), r.PathValue("id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// Delete handles DELETE /v1/ebooks/{id}
// @Summary Remove an ebook from the catalogue
// @Tags ebooks
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 204
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id} [delete]
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), httpx.ActorFrom(r), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccessNoContent(w)
}

// RequestBook handles POST /v1/ebooks/{id}/request
// @Summary Request to borrow an ebook
// @Tags lending
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id}/request [post]
func (h *HTTPHandler) RequestBook(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.RequestBook(r.Context(), httpx.ActorFrom(r), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, req, nil)
}

type decideReq struct {
	Status string `json:"status" validate:"required"`
}

// DecideRequest handles PUT /v1/requests/{id}
// @Summary Grant or reject a borrow request
// @Tags lending
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Request ID"
// @Param request body decideReq true "Verdict"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/requests/{id} [put]
func (h *HTTPHandler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	var in decideReq
	if !h.decode(w, r, &in) {
		return
	}
	verdict, err := request.ParseStatus(in.Status)
	if err != nil {
		h.fail(w, r, apperr.Validation("status", err.Error()))
		return
	}
	d, err := h.engine.DecideRequest(r.Context(), httpx.ActorFrom(r), r.PathValue("id"), verdict)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, d, nil)
}

// ReturnBook handles PUT /v1/ebooks/{id}/return
// @Summary Return a borrowed ebook
// @Description Refused with FINE_OUTSTANDING while the loan is overdue.
// @Tags lending
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id}/return [put]
func (h *HTTPHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.ReturnBook(r.Context(), httpx.ActorFrom(r), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, map[string]any{"ebook": b, "fineAmount": 0}, nil)
}

type notifyReq struct {
	EbookID string `json:"ebookId" validate:"required"`
}

// NotifyReturn handles POST /v1/notify-admin-return
// @Summary Tell the librarian a book is being returned
// @Tags lending
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body notifyReq true "Ebook"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /v1/notify-admin-return [post]
func (h *HTTPHandler) NotifyReturn(w http.ResponseWriter, r *http.Request) {
	var in notifyReq
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.engine.NotifyReturn(r.Context(), httpx.ActorFrom(r), in.EbookID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// ApproveReturn handles PUT /v1/requests/approve-return/{id}
// @Summary Approve a pending return
// @Tags lending
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/requests/approve-return/{id} [put]
func (h *HTTPHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.ApproveReturn(r.Context(), httpx.ActorFrom(r), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// Revoke handles POST /v1/ebooks/{id}/revoke
// @Summary Revoke access to an issued ebook
// @Tags lending
// @Produce json
// @Security Bearer
// @Param id path string true "Ebook ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /v1/ebooks/{id}/revoke [post]
func (h *HTTPHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Revoke(r.Context(), httpx.ActorFrom(r), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// PayFine handles PUT /v1/fines/pay/{fineId}
// @Summary Mark a fine paid
// @Tags fines
// @Produce json
// @Security Bearer
// @Param fineId path string true "Fine ID"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /v1/fines/pay/{fineId} [put]
func (h *HTTPHandler) PayFine(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.PayFine(r.Context(), httpx.ActorFrom(r), r.PathValue("fineId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, f, nil)
}

// ConfirmPayment handles POST /v1/pay-fine
// @Summary Confirm a fine payment from the payment gateway
// @Tags fines
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body PaymentConfirmation true "Payment"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 403 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /v1/pay-fine [post]
func (h *HTTPHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var in PaymentConfirmation
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	f, err := h.engine.ConfirmFinePayment(r.Context(), httpx.ActorFrom(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, f, nil)
}

// IssuedBooks handles GET /v1/me/issued-books
// @Summary Caller's borrowed ebooks with the fine owed now
// @Tags lending
// @Produce json
// @Security Bearer
// @Success 200 {object} httpx.SuccessResponse
// @Router /v1/me/issued-books [get]
func (h *HTTPHandler) IssuedBooks(w http.ResponseWriter, r *http.Request) {
	books, outstanding, err := h.engine.IssuedTo(r.Context(), httpx.ActorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, books, map[string]any{
		"count":            len(books),
		"outstandingFines": outstanding,
	})
}
