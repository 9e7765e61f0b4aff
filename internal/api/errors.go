package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"schemaevo/internal/domain"
	"schemaevo/internal/service/evolution"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound  *domain.NotFoundError
		malformed *domain.MalformedSchemaError
		invalid   *domain.ValidationError
		conflict  *domain.ConflictError
		busy      *domain.ConcurrentEvaluationError
		noPrior   *domain.NoPriorSnapshotError
	)

	switch {
	case errors.As(err, &notFound), errors.As(err, &noPrior):
		return http.StatusNotFound
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &busy):
		return http.StatusTooManyRequests
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError renders err. A concurrent evaluation also sets Retry-After.
func writeError(w http.ResponseWriter, err error) {
	code := httpStatusFromDomainError(err)
	var busy *domain.ConcurrentEvaluationError
	if errors.As(err, &busy) {
		secs := int(busy.RetryAfter.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Code: code, Kind: evolution.ErrorKind(err), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
