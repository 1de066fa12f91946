// Package apperr defines the error taxonomy shared by the lab pipeline
// services. Handlers map these to HTTP status codes; services wrap lower-level
// failures into one of these types so callers can render precise messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ValidationError reports one or more business-rule violations. Multi-item
// checks (reagent sufficiency, review adjustments) collect every violation
// before returning, so the operator can fix everything in one pass.
type ValidationError struct {
	Msg        string
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, strings.Join(e.Violations, "; "))
}

// Validation creates a single-message validation error.
func Validation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Violations creates a validation error carrying the full violation list.
func Violations(msg string, violations []string) *ValidationError {
	return &ValidationError{Msg: msg, Violations: violations}
}

// ResourceError reports a consumable exhausted at consumption time. It is
// deliberately distinct from ValidationError: the gate may have passed and a
// concurrent order consumed the lot first.
type ResourceError struct {
	TypeName string
	Lot      string
	Msg      string
}

func (e *ResourceError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("consumable %s (lot %s) exhausted at consumption time", e.TypeName, e.Lot)
}

// Resource creates a ResourceError for the given consumable type and lot.
func Resource(typeName, lot string) *ResourceError {
	return &ResourceError{TypeName: typeName, Lot: lot}
}

// ConflictError reports a lost compare-and-swap: the entity's state moved
// concurrently between the caller's read and its write.
type ConflictError struct {
	Entity string
	Msg    string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflict creates a ConflictError for the given entity.
func Conflict(entity, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent order, message, installation, or comment index.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

// NotFound creates a NotFoundError.
func NotFound(entity, ref string) *NotFoundError {
	return &NotFoundError{Entity: entity, Ref: ref}
}

// ExternalServiceError reports a failure of an out-of-process collaborator
// (text-generation service). The core retries zero times; retry policy, if
// any, belongs to the caller.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError.
func External(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

// ParseDegraded is a warning, not a hard failure: the JSON repair chain had to
// reach its last-resort fallback and the paired result is best-effort. Callers
// receive it alongside a usable value.
type ParseDegraded struct {
	Detail string
}

func (e *ParseDegraded) Error() string {
	return fmt.Sprintf("model output degraded to fallback parse: %s", e.Detail)
}

// ToHTTP converts a taxonomy error into an echo HTTPError. Unknown errors map
// to 500 without leaking internals.
func ToHTTP(err error) *echo.HTTPError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":      ve.Msg,
			"violations": ve.Violations,
		})
	}
	var re *ResourceError
	if errors.As(err, &re) {
		return echo.NewHTTPError(http.StatusConflict, re.Error())
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return echo.NewHTTPError(http.StatusConflict, ce.Error())
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	var ee *ExternalServiceError
	if errors.As(err, &ee) {
		return echo.NewHTTPError(http.StatusBadGateway, ee.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
