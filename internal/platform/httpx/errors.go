// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Machine readable problem codes.
const (
	CodeValidation        = "validation_failed"
	CodeNotFound          = "not_found"
	CodeInsufficientFunds = "insufficient_funds"
	CodeForbidden         = "forbidden"
	CodeUnauthorized      = "unauthorized"
	CodeRateLimited       = "rate_limited"
	CodeStorage           = "storage_error"
	CodeInternal          = "internal_error"
)

// RespondError maps transport errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemCode(w, http.StatusNotFound, "Not Found", CodeNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		ProblemCode(w, http.StatusBadRequest, "Validation Failed", CodeValidation, err.Error())
	case errors.Is(err, ErrForbidden):
		ProblemCode(w, http.StatusForbidden, "Forbidden", CodeForbidden, err.Error())
	case errors.Is(err, ErrUnauthorized):
		ProblemCode(w, http.StatusUnauthorized, "Unauthorized", CodeUnauthorized, err.Error())
	default:
		ProblemCode(w, http.StatusInternalServerError, "Internal Error", CodeInternal, "")
	}
}
