package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/types"
)

// Envelope is the uniform API response shape.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized form of a request failure.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID, _ := types.RequestID(r.Context())
	writeJSON(w, status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternal
	}
	status := httpStatusFor(code)

	message := err.Error()
	var typed *types.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}

	if logger != nil {
		logger.Warn("API error",
			zap.String("code", string(code)),
			zap.Int("status", status),
			zap.Error(err))
	}

	requestID, _ := types.RequestID(r.Context())
	writeJSON(w, status, Envelope{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(code),
			Message:   message,
			Retryable: types.IsRetryable(err),
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string) {
	requestID, _ := types.RequestID(r.Context())
	writeJSON(w, status, Envelope{
		Success:   false,
		Error:     &ErrorInfo{Code: string(code), Message: message},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// httpStatusFor maps the error taxonomy onto HTTP statuses.
func httpStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrCompositionNotFound:
		return http.StatusNotFound
	case types.ErrMapping:
		return http.StatusUnprocessableEntity
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrToolExecution:
		return http.StatusBadGateway
	case types.ErrStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes a request body strictly, rejecting unknown fields.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "request body is empty")
		return false
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
