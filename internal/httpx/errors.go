package httpx

import (
	"net/http"
	"strconv"

	"elibrary/internal/apperr"

	"go.uber.org/zap"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindBlocked:    http.StatusBadRequest,
	apperr.KindValidation: http.StatusBadRequest,
	apperr.KindInfra:      http.StatusInternalServerError,
}

// WriteError renders a classified error. Unclassified and infra errors are logged
// and reported with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if apperr.KindOf(err) == apperr.KindInfra {
		logger.Error("request failed",
			zap.Error(err),
			zap.String("request_id", RequestIDFrom(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		JSONError(w, r, http.StatusInternalServerError, string(apperr.KindInfra), "Internal server error", nil)
		return
	}

	e, _ := apperr.As(err)
	var details []ErrorDetail
	switch e.Kind {
	case apperr.KindBlocked:
		details = []ErrorDetail{{Field: "fineAmount", Message: strconv.FormatInt(e.Amount, 10)}}
	case apperr.KindValidation:
		if e.Field != "" {
			details = []ErrorDetail{{Field: e.Field, Message: e.Message}}
		}
	}
	JSONError(w, r, statusByKind[e.Kind], string(e.Kind), e.Message, details)
}
