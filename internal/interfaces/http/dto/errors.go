package dto

import "net/http"

// Domain error codes surfaced over HTTP. The codes match what the domain
// layer puts into DomainError.Code, so handlers map errors without rewriting
// them.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeValidation   = "VALIDATION_ERROR"

	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"

	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "INVALID_STATE"

	// Tenancy and governance codes.
	ErrCodeTenantContextMissing = "TENANT_CONTEXT_MISSING"
	ErrCodeTenantInactive       = "TENANT_INACTIVE"
	ErrCodeCrossTenantAccess    = "CROSS_TENANT_ACCESS_DENIED"
	ErrCodeSchemaProvisioning   = "SCHEMA_PROVISIONING_FAILED"
	ErrCodeSchemaNotReady       = "TENANT_SCHEMA_NOT_READY"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeRateLimitStore       = "RATE_LIMIT_STORE_FAILURE"
	ErrCodeCacheUnavailable     = "CACHE_UNAVAILABLE"
)

// errorCodeHTTPStatus maps error codes to HTTP status codes.
//
// Cross-tenant access maps to 404, not 403: a foreign resource must be
// indistinguishable from a missing one, otherwise probing ids leaks which of
// them exist in other tenants.
var errorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeValidation:   http.StatusBadRequest,
	"INVALID_SLUG":      http.StatusBadRequest,
	"INVALID_NAME":      http.StatusBadRequest,
	"INVALID_PLAN":      http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,

	ErrCodeTenantContextMissing: http.StatusUnauthorized,
	ErrCodeTenantInactive:       http.StatusForbidden,
	ErrCodeCrossTenantAccess:    http.StatusNotFound,
	ErrCodeSchemaProvisioning:   http.StatusServiceUnavailable,
	ErrCodeSchemaNotReady:       http.StatusServiceUnavailable,
	ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
	ErrCodeRateLimitStore:       http.StatusServiceUnavailable,
	ErrCodeCacheUnavailable:     http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Returns 500 Internal Server Error if the error code is not found.
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
