package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Isolation and governance errors. The first three are correctness-critical
// and must abort the triggering operation; the cache error is availability
// class and callers may degrade.
var (
	ErrTenantContextMissing  = NewDomainError("TENANT_CONTEXT_MISSING", "No tenant context bound to this operation")
	ErrSchemaProvisioning    = NewDomainError("SCHEMA_PROVISIONING_FAILED", "Tenant schema provisioning failed")
	ErrCrossTenantAccess     = NewDomainError("CROSS_TENANT_ACCESS_DENIED", "Operation targets a resource outside the bound tenant")
	ErrRateLimitExceeded     = NewDomainError("RATE_LIMIT_EXCEEDED", "Too many requests. Please try again later.")
	ErrCacheUnavailable      = NewDomainError("CACHE_UNAVAILABLE", "Cache backend unavailable")
	ErrTenantInactive        = NewDomainError("TENANT_INACTIVE", "Tenant is suspended or deleted")
	ErrTenantSchemaNotReady  = NewDomainError("TENANT_SCHEMA_NOT_READY", "Tenant schema has not been provisioned")
	ErrRateLimitStoreFailure = NewDomainError("RATE_LIMIT_STORE_FAILURE", "Rate limit counter store unreachable")
)
