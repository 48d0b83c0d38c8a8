package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/fintab/pkg/httpx"
)

// Kind classifies a service failure for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified failure whose Message is safe to show the caller.
// Reason is an optional machine readable code such as INVALID_MFA.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets authentication failures satisfy httpx.ErrUnauthenticated so the
// bearer middleware can tell a rejected token from an outage.
func (e *Error) Is(target error) bool {
	return target == httpx.ErrUnauthenticated && e.Kind == KindAuthentication
}

func ValidationError(msg string) error { return &Error{Kind: KindValidation, Message: msg} }

func AuthenticationError(msg string) error { return &Error{Kind: KindAuthentication, Message: msg} }

func AuthorizationError(msg string) error { return &Error{Kind: KindAuthorization, Message: msg} }

func ConflictError(msg string) error { return &Error{Kind: KindConflict, Message: msg} }

func NotFoundError(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

// KindOf returns the kind of the first *Error in err's chain, KindInternal
// for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

const msgInvalidToken = "Invalid or expired token"

// Messages shared by several flows. The credential ones are deliberately
// identical across failure causes.
var (
	errInvalidCredentials = AuthenticationError("Invalid credentials")
	errTokenRevoked       = AuthenticationError("Token has been revoked")
	errInvalidRefresh     = AuthenticationError("Invalid refresh token")
	errInvalidMFA         = &Error{Kind: KindAuthentication, Message: "Invalid MFA token", Reason: "INVALID_MFA"}
)
