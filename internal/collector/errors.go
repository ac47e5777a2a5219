package collector

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fetch failure. The scheduler picks its retry policy by kind.
type Kind int

const (
	KindTransportInit Kind = iota + 1
	KindContentEncoding
	KindNoAnswer
	KindRequestFailed
	KindRateLimited
	KindIPBlocked
	KindWAFLimit
	KindWaitingPeriod
	KindDataNotAvailable
	KindInvalidParameter
)

func (k Kind) String() string {
	switch k {
	case KindTransportInit:
		return "transport_init_failed"
	case KindContentEncoding:
		return "content_encoding_not_supported"
	case KindNoAnswer:
		return "no_answer"
	case KindRequestFailed:
		return "request_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindIPBlocked:
		return "ip_blocked"
	case KindWAFLimit:
		return "waf_limit"
	case KindWaitingPeriod:
		return "no_response_waiting_period"
	case KindDataNotAvailable:
		return "data_not_available"
	case KindInvalidParameter:
		return "invalid_parameter"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *FetchError matches the sentinel of its kind.
var (
	ErrTransportInit    = &FetchError{Kind: KindTransportInit}
	ErrContentEncoding  = &FetchError{Kind: KindContentEncoding}
	ErrNoAnswer         = &FetchError{Kind: KindNoAnswer}
	ErrRequestFailed    = &FetchError{Kind: KindRequestFailed}
	ErrRateLimited      = &FetchError{Kind: KindRateLimited}
	ErrIPBlocked        = &FetchError{Kind: KindIPBlocked}
	ErrWAFLimit         = &FetchError{Kind: KindWAFLimit}
	ErrWaitingPeriod    = &FetchError{Kind: KindWaitingPeriod}
	ErrDataNotAvailable = &FetchError{Kind: KindDataNotAvailable}
	ErrInvalidParameter = &FetchError{Kind: KindInvalidParameter}
)

// FetchError is returned by the fetcher for every classified failure.
type FetchError struct {
	Kind Kind
	// Status is the HTTP status code, 0 when no response was received.
	Status int
	// RetryAfter is taken from the Retry-After header of throttled responses.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches sentinels by kind. A non-200 response is always a request failure,
// even when it is also classified as throttling.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindRequestFailed && e.Status != 0 && e.Status != 200
}

// KindOf extracts the kind of a fetch failure, 0 if err is not one.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Throttled reports whether err is provider-side throttling or blocking.
func Throttled(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindIPBlocked, KindWAFLimit:
		return true
	}
	return false
}

// RetryAfterOf returns the provider-suggested wait carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

func newFetchError(kind Kind, status int, err error) *FetchError {
	return &FetchError{Kind: kind, Status: status, Err: err}
}
