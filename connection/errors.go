package connection

import (
	"fmt"
	"time"

	"github.com/acme-go/core/problem"
)

// ProtocolError signals that the server's response violates RFC 8555: a
// missing required header, a malformed timestamp, the wrong media type, or
// similar.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acme: protocol error: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("acme: protocol error: %s", e.Msg)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// NotSupportedError signals that the CA's directory does not advertise a
// required endpoint or feature.
type NotSupportedError struct {
	Feature string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("acme: server does not support %q", e.Feature)
}

// IllegalStateError signals a Connection concurrency/state invariant
// violation: a new exchange started before the previous one's response was
// fully consumed.
type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string { return fmt.Sprintf("acme: illegal state: %s", e.Msg) }

// ServerErrorKind enumerates the structured ACME server failures (RFC 8555
// section 6.7) a caller commonly needs to branch on. Kinds not in this list
// surface as KindOther, carrying the raw Problem.
type ServerErrorKind string

const (
	KindUnauthorized            ServerErrorKind = "unauthorized"
	KindRateLimited             ServerErrorKind = "rateLimited"
	KindUserActionRequired      ServerErrorKind = "userActionRequired"
	KindAccountDoesNotExist     ServerErrorKind = "accountDoesNotExist"
	KindAlreadyRevoked          ServerErrorKind = "alreadyRevoked"
	KindBadNonce                ServerErrorKind = "badNonce"
	KindExternalAccountRequired ServerErrorKind = "externalAccountRequired"
	KindOther                   ServerErrorKind = "other"
)

// ServerError wraps a decoded problem document with a structured kind, plus
// any kind-specific extras (Retry-After for rate limiting, a
// terms-of-service link for user-action-required).
type ServerError struct {
	Kind       ServerErrorKind
	Problem    problem.Problem
	RetryAfter time.Time
	HasRetry   bool
	Documents  []string
	TermsURL   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("acme: server error (%s): %s", e.Kind, e.Problem.Error())
}

// classifyServerError maps a parsed Problem to a ServerErrorKind using the
// recognized ACME error kinds (RFC 8555 section 6.7); anything else becomes
// KindOther so callers always get a typed error to switch on.
func classifyServerError(p problem.Problem) ServerErrorKind {
	switch p.Kind {
	case "unauthorized":
		return KindUnauthorized
	case "rateLimited":
		return KindRateLimited
	case "userActionRequired":
		return KindUserActionRequired
	case "accountDoesNotExist":
		return KindAccountDoesNotExist
	case "alreadyRevoked":
		return KindAlreadyRevoked
	case "badNonce":
		return KindBadNonce
	case "externalAccountRequired":
		return KindExternalAccountRequired
	default:
		return KindOther
	}
}
