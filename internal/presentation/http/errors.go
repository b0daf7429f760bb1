package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domainInventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type errorResponse struct {
	Error     string                     `json:"error"`
	Code      string                     `json:"code"`
	Shortages []domainInventory.Shortage `json:"shortages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var shortage *domainInventory.ShortageError
	switch {
	case errors.As(err, &shortage):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "insufficient_stock", Shortages: shortage.Shortages})
	case errors.Is(err, application.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domainPayment.ErrMalformedWebhook):
		writeError(w, http.StatusBadRequest, "malformed_webhook", err.Error())
	case errors.Is(err, domainPayment.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, appOrder.ErrNotFound),
		errors.Is(err, domainInventory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appPayment.ErrNotReconcilable),
		errors.Is(err, appPayment.ErrPaymentState),
		errors.Is(err, domainOrder.ErrConflict),
		errors.Is(err, domainOrder.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domainPayment.ErrProviderRejected):
		writeError(w, http.StatusUnprocessableEntity, "provider_rejected", err.Error())
	case errors.Is(err, domainPayment.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
	case errors.Is(err, appPayment.ErrEnqueueFailed):
		writeError(w, http.StatusServiceUnavailable, "enqueue_failed", err.Error())
	case errors.Is(err, appPayment.ErrStatusUpdateFailed):
		writeError(w, http.StatusInternalServerError, "status_update_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
