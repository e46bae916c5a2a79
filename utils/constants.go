package utils

// ContextKey is the type used for request-scoped context values
type ContextKey string

// Request context keys
const (
	// RequestIDKey carries the client supplied X-Request-ID header
	RequestIDKey ContextKey = "X-Request-ID"

	// IPAddressKey carries the remote address of the request
	IPAddressKey ContextKey = "ip_address"

	// EndpointKey carries the route pattern serving the request
	EndpointKey ContextKey = "endpoint"

	// CancelFuncKey carries the cancel function of the request context
	CancelFuncKey ContextKey = "cancel_func"
)
