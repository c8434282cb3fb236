package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrPathNotFound         = errors.New("path not found")
)

var (
	ErrStageInvalid          = errors.New("stage invalid")
	ErrStageDuplicate        = errors.New("stage duplicate")
	ErrPipelineFinalized     = errors.New("pipeline already finalized")
	ErrPipelineNotConfigured = errors.New("pipeline not configured")
	ErrRequestAborted        = errors.New("request aborted")
)

var (
	ErrRouteInvalidPath   = errors.New("route path invalid")
	ErrRouteInvalidVerb   = errors.New("route verb invalid")
	ErrRouteTargetMissing = errors.New("route target missing")
)

var (
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrPolicyExists        = errors.New("policy exists")
	ErrPolicyConfigInvalid = errors.New("policy config invalid")
	ErrControllerExists    = errors.New("controller exists")
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionStoreUnknown = errors.New("session store unknown")
	ErrSessionRequired     = errors.New("session required")
	ErrSecretEmpty         = errors.New("session secret empty")
)

var (
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInternalError    = errors.New("internal error")
	ErrNotSupported     = errors.New("not supported")
)

// StatusCoder is implemented by errors that map onto an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is a generic request error carrying a status.
type HTTPError struct {
	Status  int
	Message string
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string   { return e.Message }
func (e *HTTPError) StatusCode() int { return e.Status }

// ParseError is raised when a request body cannot be parsed.
type ParseError struct {
	Status  int
	Message string
	Cause   error
	Retried bool
}

func (e *ParseError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "unable to parse HTTP body"
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusBadRequest
}

// DeniedError is an explicit policy rejection.
type DeniedError struct {
	Policy string
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Policy != "" {
		return fmt.Sprintf("denied by policy %s", e.Policy)
	}
	return "access denied"
}

func (e *DeniedError) StatusCode() int { return http.StatusForbidden }

// PolicyFault is an unexpected failure raised inside a policy function.
type PolicyFault struct {
	Policy  string
	Message string
	Cause   error
}

func (e *PolicyFault) Error() string   { return e.Message }
func (e *PolicyFault) Unwrap() error   { return e.Cause }
func (e *PolicyFault) StatusCode() int { return http.StatusInternalServerError }

// CSRFError rejects a state-changing request with a missing or stale token.
type CSRFError struct {
	Reason string
}

func (e *CSRFError) Error() string   { return e.Reason }
func (e *CSRFError) StatusCode() int { return http.StatusForbidden }

// RouteBindingError rejects a malformed route descriptor at bind time.
type RouteBindingError struct {
	Verb string
	Path string
	Err  error
}

func (e *RouteBindingError) Error() string {
	return fmt.Sprintf("cannot bind route %s %q: %v", e.Verb, e.Path, e.Err)
}

func (e *RouteBindingError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, 500 by default.
func StatusOf(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return http.StatusInternalServerError
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
