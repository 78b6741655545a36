package api

import (
	"errors"
	"net/http"

	"staybook/internal/auth"
	"staybook/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorMapping struct {
	err  error
	code string
	http int
	grpc codes.Code
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidRange, "INVALID_RANGE", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrNotAvailable, "NOT_AVAILABLE", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrStayTooShort, "STAY_TOO_SHORT", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{domain.ErrStayTooLong, "STAY_TOO_LONG", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{domain.ErrSelfBooking, "SELF_BOOKING", http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrCancellationWindowExpired, "CANCELLATION_WINDOW_EXPIRED", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrNotFound, "NOT_FOUND", http.StatusNotFound, codes.NotFound},
	{domain.ErrConcurrentConflict, "CONCURRENT_CONFLICT", http.StatusConflict, codes.Aborted},
	{auth.ErrMissingToken, "UNAUTHENTICATED", http.StatusUnauthorized, codes.Unauthenticated},
	{auth.ErrInvalidToken, "UNAUTHENTICATED", http.StatusUnauthorized, codes.Unauthenticated},
}

// ErrorBody is the JSON shape of every failed HTTP response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func classify(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return errorMapping{code: "INTERNAL", http: http.StatusInternalServerError, grpc: codes.Internal}
}

func errorBody(err error) (int, ErrorBody) {
	m := classify(err)
	msg := err.Error()
	if m.http == http.StatusInternalServerError {
		msg = "internal error"
	}
	return m.http, ErrorBody{Error: msg, Code: m.code, Retryable: domain.IsRetryable(err)}
}

func grpcError(err error) error {
	m := classify(err)
	msg := err.Error()
	if m.grpc == codes.Internal {
		msg = "internal error"
	}
	return status.Error(m.grpc, msg)
}
