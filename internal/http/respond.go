package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts a domain error into its HTTP status and code.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)

	var httpStatus int
	switch code {
	case "invalid_quantity", "invalid_amount", "empty_batch", "batch_too_large":
		httpStatus = http.StatusBadRequest
	case "product_not_found", "item_not_found", "order_not_found":
		httpStatus = http.StatusNotFound
	case "insufficient_stock", "empty_cart":
		httpStatus = http.StatusConflict
	case "timeout":
		httpStatus = http.StatusGatewayTimeout
	default:
		httpStatus = http.StatusInternalServerError
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Details = stockErr
	}
	if httpStatus == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Error = "internal server error"
	}
	respondJSON(w, httpStatus, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func positiveIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
