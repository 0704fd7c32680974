package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller. Handlers map kinds onto HTTP
// status codes; services never return raw gorm or crypto errors.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthorization
	KindCrypto
	KindNotFound
	KindConflict
	KindExternalService
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindCrypto:
		return "crypto"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternalService:
		return "external_service"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two *Error values by kind, so sentinel errors
// like ErrInvalidNonce compare correctly after wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error      { return New(KindValidation, msg) }
func Authorization(msg string) *Error   { return New(KindAuthorization, msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Conflict(msg string) *Error        { return New(KindConflict, msg) }
func Crypto(msg string, err error) *Error {
	return Wrap(KindCrypto, msg, err)
}
func Integrity(msg string) *Error { return New(KindIntegrity, msg) }
func ExternalService(msg string, err error) *Error {
	return Wrap(KindExternalService, msg, err)
}

// KindOf extracts the kind from any error in the chain. The second return
// is false for errors that carry no kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
