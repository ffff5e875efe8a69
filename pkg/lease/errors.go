package lease

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidTransition = errors.New("invalid lease transition")
	ErrInvalidDuration   = errors.New("invalid lease duration")
	ErrInvalidLeaseID    = errors.New("invalid lease id")

	ErrLeaseConflict   = errors.New("lease conflict")
	ErrLeaseNotPresent = errors.New("lease not present")
	ErrLeaseIDMismatch = errors.New("lease id mismatch")
	ErrLeaseLost       = errors.New("lease lost")
	ErrConditionNotMet = errors.New("condition not met")
	ErrNotFound        = errors.New("resource not found")
	ErrService         = errors.New("storage service error")
)

// codeKinds maps storage service error codes onto sentinels.
var codeKinds = map[string]error{
	"LeaseAlreadyPresent":                   ErrLeaseConflict,
	"LeaseAlreadyBroken":                    ErrLeaseConflict,
	"LeaseIsBrokenAndCannotBeRenewed":       ErrLeaseConflict,
	"LeaseIsBreakingAndCannotBeAcquired":    ErrLeaseConflict,
	"LeaseIsBreakingAndCannotBeChanged":     ErrLeaseConflict,
	"LeaseIdMissing":                        ErrLeaseNotPresent,
	"LeaseNotPresentWithLeaseOperation":     ErrLeaseNotPresent,
	"LeaseNotPresentWithBlobOperation":      ErrLeaseNotPresent,
	"LeaseNotPresentWithContainerOperation": ErrLeaseNotPresent,
	"LeaseIdMismatchWithLeaseOperation":     ErrLeaseIDMismatch,
	"LeaseIdMismatchWithBlobOperation":      ErrLeaseIDMismatch,
	"LeaseIdMismatchWithContainerOperation": ErrLeaseIDMismatch,
	"LeaseLost":                             ErrLeaseLost,
	"ConditionNotMet":                       ErrConditionNotMet,
	"BlobNotFound":                          ErrNotFound,
	"ContainerNotFound":                     ErrNotFound,
	"ResourceNotFound":                      ErrNotFound,
}

// ResponseError is a failed lease request as reported by the service.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("lease request failed with status %d", e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap exposes the sentinel matching the error code, so callers can use
// errors.Is(err, ErrLeaseConflict) and friends.
func (e *ResponseError) Unwrap() error {
	if kind, ok := codeKinds[e.Code]; ok {
		return kind
	}
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrLeaseConflict
	case http.StatusPreconditionFailed:
		return ErrConditionNotMet
	default:
		return ErrService
	}
}

// transient reports whether the request may succeed if retried.
func (e *ResponseError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
