package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/internal/templates"
	"github.com/Proton-105/globalization/pkg/metrics"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Failed    []string `json:"failed,omitempty"`
}

// StatusFor maps an error to the HTTP status returned to callers.
func StatusFor(err error) int {
	if errors.Is(err, templates.ErrTemplateNotFound) {
		return http.StatusNotFound
	}

	var delivery *push.DeliveryError
	if errors.As(err, &delivery) {
		return http.StatusBadGateway
	}

	code := apperrors.CodeOf(err)
	switch {
	case code == apperrors.CodeNotFound:
		return http.StatusNotFound
	case code == apperrors.CodeNoPaymentChannel:
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "E1"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "E2"):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(code, "E3"):
		return http.StatusBadGateway
	case strings.HasPrefix(code, "E4"):
		return http.StatusConflict
	case strings.HasPrefix(code, "E5"):
		return http.StatusTooManyRequests
	}

	if apperrors.IsCircuitRejection(err) {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := s.deps.Errors.Handle(r.Context(), err)
	recordError(err)

	resp := errorResponse{
		Code:      res.Code,
		Message:   res.Message,
		Retryable: res.Retryable,
	}

	if errors.Is(err, templates.ErrTemplateNotFound) {
		resp.Code = apperrors.CodeNotFound
		resp.Message = err.Error()
	}

	var delivery *push.DeliveryError
	if errors.As(err, &delivery) {
		resp.Code = apperrors.CodeExternalAPI
		resp.Message = delivery.Error()
		resp.Failed = delivery.Recipients()
		resp.Retryable = apperrors.IsRetryable(err)
	}

	writeJSON(w, StatusFor(err), resp)
}

func recordError(err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr != nil {
		metrics.RecordError(appErr.Code, string(appErr.Severity))
		return
	}
	metrics.RecordError("", string(apperrors.SeverityHigh))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
