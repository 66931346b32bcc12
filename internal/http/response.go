package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/go-playground/validator/v10"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(context.Background()).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleServiceError converts a core error into a status code and logs
// anything the client cannot fix.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	if status >= http.StatusInternalServerError {
		message = serverErrorMessage(status)
	}
	respondError(w, status, code, message)
}

// serverErrorMessage is the fixed text sent for a 5xx; the cause only goes to the log.
func serverErrorMessage(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "payment gateway unavailable"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrOrderForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, repository.ErrCartVersionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrCouponIneligible):
		return http.StatusUnprocessableEntity, "coupon_ineligible"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, domain.ErrGatewayFailure):
		return http.StatusBadGateway, "payment_gateway_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON object into dst and validates it.
// On failure the response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation failed",
				Code:    "validation_failed",
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		logger.FromContext(r.Context()).Error().Err(err).Msg("unexpected validation error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal validation error")
		return false
	}
	return true
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email"
		case "min", "gte":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max", "lte":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("must be one of: %s", fe.Param())
		default:
			details[field] = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
	}
	return details
}
