package connectors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures so callers pattern-match policy
// instead of string-sniffing: transient failures are retried, rejections are
// recorded and dropped, invariant violations halt the system.
type ErrorKind int

const (
	// KindTransient covers timeouts, 5xx responses and rate-limit rejections.
	// The REST executor retries these internally; one surfacing here means the
	// attempt budget was exhausted.
	KindTransient ErrorKind = iota
	// KindRejected means the venue refused the order (bad size, insufficient
	// balance, invalid price). Never retried.
	KindRejected
	// KindInvariant marks states the system must not continue from, e.g. a
	// bracket response missing a leg id.
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindInvariant:
		return "invariant_violation"
	}
	return "unknown"
}

// APIError is an execution failure tagged with its kind and, when the venue
// supplied one, the venue's own error code.
type APIError struct {
	Kind      ErrorKind
	Venue     string
	Code      int
	Message   string
	HTTPState int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s error (code=%d http=%d): %s", e.Venue, e.Kind, e.Code, e.HTTPState, e.Message)
}

// KindOf extracts the ErrorKind from an error chain, defaulting to transient
// so unknown failures stay on the safe (retry, no order assumed) path.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
