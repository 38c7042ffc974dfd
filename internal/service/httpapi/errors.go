package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// AllowedStatuses заполняется для недопустимого перехода статуса.
	AllowedStatuses []domain.OrderStatus `json:"allowed_statuses,omitempty"`
}

// StatusFromError возвращает HTTP-статус и код ошибки для ответа.
func StatusFromError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, ErrorResponse{Code: "idempotency_mismatch", Message: "idempotency key is already used with different request payload"}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, ErrorResponse{Code: "idempotency_in_progress", Message: "request with the same idempotency key is already processing"}
	}

	kind := domain.KindOf(err)
	resp := ErrorResponse{Code: string(kind), Message: err.Error()}
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, resp
	case domain.KindNotFound:
		return http.StatusNotFound, resp
	case domain.KindInvalidTransition:
		var transitionErr *domain.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			resp.AllowedStatuses = transitionErr.Allowed
		}
		return http.StatusConflict, resp
	case domain.KindLocked, domain.KindConflict:
		return http.StatusConflict, resp
	case domain.KindNoChange, domain.KindIncompletePayment:
		return http.StatusUnprocessableEntity, resp
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: string(domain.KindInternal), Message: "internal error"}
	}
}

// errorHandler — echo.HTTPErrorHandler: ошибки echo отдаются как есть,
// ошибки движка переводятся через StatusFromError.
func errorHandler(logger *log.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			message := http.StatusText(httpErr.Code)
			if text, ok := httpErr.Message.(string); ok {
				message = text
			}
			_ = c.JSON(httpErr.Code, ErrorResponse{Code: "http_error", Message: message})
			return
		}

		code, body := StatusFromError(err)
		entry := logger.WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
			"status": code,
		})
		switch {
		case code >= http.StatusInternalServerError:
			entry.WithError(err).Error("http request failed")
		case code == http.StatusConflict:
			entry.WithError(err).Warn("http request conflicted")
		default:
			entry.WithError(err).Debug("http request rejected")
		}
		_ = c.JSON(code, body)
	}
}
