package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
)

// Error is the typed error returned by stores and services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...), nil)
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, fmt.Sprintf(format, args...), nil)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, fmt.Sprintf(format, args...), nil)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, CodeInternal, message, err)
}

// Kinded is implemented by errors outside this package that belong to the taxonomy.
type Kinded interface {
	Kind() Kind
}

// KindOf walks the wrap chain and returns the first kind found; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the machine-readable code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

const (
	CodeInternal          = "INTERNAL_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidAddress    = "INVALID_ADDRESS"
	CodeInvalidGame       = "INVALID_GAME_TYPE"
	CodeInvalidScore      = "INVALID_SCORE"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeSessionNotActive  = "SESSION_NOT_ACTIVE"
	CodeSessionExpired    = "SESSION_EXPIRED"
	CodeSessionActive     = "SESSION_ALREADY_ACTIVE"
	CodePaymentReused     = "PAYMENT_ALREADY_USED"
	CodePaymentPending    = "PAYMENT_IN_PROGRESS"
	CodePoolNotFound      = "POOL_NOT_FOUND"
	CodePoolNotActive     = "POOL_NOT_ACTIVE"
	CodePoolNotFinalized  = "POOL_NOT_FINALIZED"
	CodePlayerNotRanked   = "PLAYER_NOT_RANKED"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
)
