// Package util provides shared types for the proxy.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., AmbiguousRouteError, BackendStatusError).
//     Each type implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrAmbiguousRoute = errors.New("ambiguous route")
	ErrGatewayTimeout = errors.New("gateway timeout")
	ErrUnavailable    = errors.New("gateway unavailable")
	ErrBadGateway     = errors.New("bad gateway")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// RouteNotFoundError reports a request path that no configured route
// pattern matched.
type RouteNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route matches path %q", e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(path string) *RouteNotFoundError {
	return &RouteNotFoundError{Path: path}
}

// AmbiguousRouteError reports a request path matched by two or more
// specific (non catch-all) route patterns. Sources lists every
// contending pattern so the conflict can be diagnosed from the log
// alone.
type AmbiguousRouteError struct {
	Path    string
	Sources []string
}

// Error implements the error interface.
func (e *AmbiguousRouteError) Error() string {
	return fmt.Sprintf("ambiguous route for path %q: matched by %s",
		e.Path, strings.Join(e.Sources, ", "))
}

// Is checks if the error matches the target.
func (e *AmbiguousRouteError) Is(target error) bool {
	if target == ErrAmbiguousRoute {
		return true
	}
	_, ok := target.(*AmbiguousRouteError)
	return ok
}

// NewAmbiguousRouteError creates a new AmbiguousRouteError.
func NewAmbiguousRouteError(path string, sources []string) *AmbiguousRouteError {
	return &AmbiguousRouteError{Path: path, Sources: sources}
}

// ProductNotFoundError reports a dynamic route whose path carries no
// product UUID, or a UUID the directory does not know.
type ProductNotFoundError struct {
	Path string
	UUID string
}

// Error implements the error interface.
func (e *ProductNotFoundError) Error() string {
	if e.UUID == "" {
		return fmt.Sprintf("no product UUID in path %q", e.Path)
	}
	return fmt.Sprintf("product %s not found", e.UUID)
}

// Is checks if the error matches the target.
func (e *ProductNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*ProductNotFoundError)
	return ok
}

// NewProductNotFoundError creates a new ProductNotFoundError.
func NewProductNotFoundError(path, uuid string) *ProductNotFoundError {
	return &ProductNotFoundError{Path: path, UUID: uuid}
}

// DirectoryError represents a registrar lookup failure other than a
// missing product.
type DirectoryError struct {
	UUID    string
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *DirectoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("directory lookup for %s failed: %s: %v", e.UUID, e.Message, e.Cause)
	}
	return fmt.Sprintf("directory lookup for %s failed: %s", e.UUID, e.Message)
}

// Unwrap returns the underlying error.
func (e *DirectoryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *DirectoryError) Is(target error) bool {
	if target == ErrBadGateway {
		return true
	}
	_, ok := target.(*DirectoryError)
	return ok || errors.Is(e.Cause, target)
}

// NewDirectoryError creates a new DirectoryError.
func NewDirectoryError(uuid string, status int, message string, cause error) *DirectoryError {
	return &DirectoryError{UUID: uuid, Status: status, Message: message, Cause: cause}
}

// TimeoutError represents a backend call that exceeded its deadline,
// during connect or while reading the response.
type TimeoutError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout contacting %s", e.Target)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrGatewayTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(target string, cause error) *TimeoutError {
	return &TimeoutError{Target: target, Cause: cause}
}

// UnavailableError represents a backend that refused the connection or
// failed at the network level.
type UnavailableError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable", e.Target)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UnavailableError) Is(target error) bool {
	if target == ErrUnavailable {
		return true
	}
	_, ok := target.(*UnavailableError)
	return ok || errors.Is(e.Cause, target)
}

// NewUnavailableError creates a new UnavailableError.
func NewUnavailableError(target string, cause error) *UnavailableError {
	return &UnavailableError{Target: target, Cause: cause}
}

// BadGatewayError represents a request or transport failure that is
// neither a timeout nor a connectivity problem.
type BadGatewayError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *BadGatewayError) Error() string {
	return fmt.Sprintf("bad gateway forwarding to %s", e.Target)
}

// Unwrap returns the underlying error.
func (e *BadGatewayError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BadGatewayError) Is(target error) bool {
	if target == ErrBadGateway {
		return true
	}
	_, ok := target.(*BadGatewayError)
	return ok || errors.Is(e.Cause, target)
}

// NewBadGatewayError creates a new BadGatewayError.
func NewBadGatewayError(target string, cause error) *BadGatewayError {
	return &BadGatewayError{Target: target, Cause: cause}
}

// BackendStatusError represents a backend that answered with an HTTP
// error status. The gateway surfaces the backend's own status code.
type BackendStatusError struct {
	Target string
	Status int
}

// Error implements the error interface.
func (e *BackendStatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d", e.Target, e.Status)
}

// Is checks if the error matches the target.
func (e *BackendStatusError) Is(target error) bool {
	_, ok := target.(*BackendStatusError)
	return ok
}

// StatusCode returns the backend's HTTP status code.
func (e *BackendStatusError) StatusCode() int {
	return e.Status
}

// NewBackendStatusError creates a new BackendStatusError.
func NewBackendStatusError(target string, status int) *BackendStatusError {
	return &BackendStatusError{Target: target, Status: status}
}

// RateLimitError represents a rate limit exceeded error.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d, retry after: %v)", e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

// CircuitOpenError represents a circuit breaker open error.
type CircuitOpenError struct {
	Name  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsClientError returns true if the error maps to a 4xx response.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotFound) {
		return true
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var statusErr *BackendStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 400 && statusErr.Status < 500
	}

	return false
}

// IsServerError returns true if the error maps to a 5xx response.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrGatewayTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrBadGateway) ||
		errors.Is(err, ErrAmbiguousRoute) ||
		errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var statusErr *BackendStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500
	}

	return false
}
