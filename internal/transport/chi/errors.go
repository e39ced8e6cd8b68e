package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/domain"
	logpkg "github.com/kailas-cloud/quotapool/internal/logger"
)

// ErrorResponseCode is the machine-readable error code of an API error.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest         ErrorResponseCode = "bad_request"
	ErrorResponseCodeUnauthorized       ErrorResponseCode = "unauthorized"
	ErrorResponseCodeValidationFailed   ErrorResponseCode = "validation_failed"
	ErrorResponseCodeNotFound           ErrorResponseCode = "not_found"
	ErrorResponseCodeNotEnoughHistory   ErrorResponseCode = "not_enough_history"
	ErrorResponseCodeInsufficientQuota  ErrorResponseCode = "insufficient_quota"
	ErrorResponseCodeNoCredential       ErrorResponseCode = "no_credential"
	ErrorResponseCodeUpstreamError      ErrorResponseCode = "upstream_error"
	ErrorResponseCodeCredentialExchange ErrorResponseCode = "credential_exchange_failed"
	ErrorResponseCodeTimeout            ErrorResponseCode = "timeout"
	ErrorResponseCodeInternalError      ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		detailedHandler(domain.ErrInvalidArgument, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		detailedHandler(domain.ErrNotEnoughHistory, http.StatusUnprocessableEntity, ErrorResponseCodeNotEnoughHistory),
		sentinelHandler(domain.ErrInsufficientQuota, http.StatusUnprocessableEntity, ErrorResponseCodeInsufficientQuota),
		sentinelHandler(domain.ErrNoCredential, http.StatusServiceUnavailable, ErrorResponseCodeNoCredential),
		sentinelHandler(domain.ErrExchangeFailed, http.StatusBadGateway, ErrorResponseCodeCredentialExchange),
		sentinelHandler(domain.ErrUpstream, http.StatusBadGateway, ErrorResponseCodeUpstreamError),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, ErrorResponseCodeTimeout),
	}
}

// sentinelHandler matches a single sentinel and replies with its text only.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// detailedHandler matches a sentinel whose wrapped message is built from
// request input and is safe to return as is.
func detailedHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nobody reads the reply
		return
	}
	log := logpkg.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
