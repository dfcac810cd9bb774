package dto

import (
	"net/http"
	"strings"

	"github.com/erp/postingengine/internal/domain/shared"
)

// Error codes returned to API clients. Format: ERR_<DESCRIPTION>
const (
	ErrCodeInternal            = "ERR_INTERNAL"
	ErrCodeBadRequest          = "ERR_BAD_REQUEST"
	ErrCodeValidation          = "ERR_VALIDATION"
	ErrCodeInvalidInput        = "ERR_INVALID_INPUT"
	ErrCodeUnauthorized        = "ERR_UNAUTHORIZED"
	ErrCodeForbidden           = "ERR_FORBIDDEN"
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidTransition   = "ERR_INVALID_TRANSITION"
	ErrCodeValidationFailed    = "ERR_VALIDATION_FAILED"
	ErrCodeInsufficientStock   = "ERR_INSUFFICIENT_STOCK"
	ErrCodeLockTimeout         = "ERR_LOCK_TIMEOUT"
	ErrCodeBusinessRule        = "ERR_BUSINESS_RULE"
)

// ErrorCodeHTTPStatus maps API error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeForbidden:           http.StatusForbidden,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidTransition:   http.StatusConflict,
	ErrCodeValidationFailed:    http.StatusUnprocessableEntity,
	ErrCodeInsufficientStock:   http.StatusConflict,
	ErrCodeLockTimeout:         http.StatusServiceUnavailable,
	ErrCodeBusinessRule:        http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status for an API error code, 500 if unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodes maps domain error codes to API error codes
var domainCodes = map[string]string{
	shared.CodeNotFound:            ErrCodeNotFound,
	shared.CodeInvalidInput:        ErrCodeInvalidInput,
	shared.CodeInvalidTransition:   ErrCodeInvalidTransition,
	shared.CodeValidationFailed:    ErrCodeValidationFailed,
	shared.CodeInsufficientStock:   ErrCodeInsufficientStock,
	shared.CodeLockTimeout:         ErrCodeLockTimeout,
	shared.CodeConcurrencyConflict: ErrCodeConcurrencyConflict,
	"BACKFILL_RUNNING":             ErrCodeConflict,
}

// NormalizeErrorCode converts a domain error code to an API error code.
// Field-level codes (INVALID_*, *_REQUIRED) become ERR_INVALID_INPUT; any
// other domain rule becomes ERR_BUSINESS_RULE.
func NormalizeErrorCode(code string) string {
	if c, ok := domainCodes[code]; ok {
		return c
	}
	switch {
	case code == "":
		return ErrCodeInternal
	case strings.HasPrefix(code, "ERR_"):
		return code
	case strings.HasPrefix(code, "INVALID_"), strings.HasSuffix(code, "_REQUIRED"):
		return ErrCodeInvalidInput
	default:
		return ErrCodeBusinessRule
	}
}
