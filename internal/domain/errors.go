package domain

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateConflict     = errors.New("state changed concurrently")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrSigningFailed     = errors.New("signing failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrPollingExhausted  = errors.New("polling attempts exhausted")
	ErrUpstream          = errors.New("upstream error")
)

// Kind classifies an error for retry and HTTP mapping decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindState
	KindNotFound
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "internal"
	}
}

// Error is a classified error carrying a stable code safe to show clients.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError reports bad input or violated limits.
func ValidationError(code, detail string) *Error {
	return &Error{Kind: KindValidation, Code: code, Detail: detail}
}

// AuthError reports a signature or credential mismatch.
func AuthError(detail string) *Error {
	return &Error{Kind: KindAuth, Code: "UNAUTHORIZED", Detail: detail, Err: ErrUnauthorized}
}

// StateError reports an illegal transition or a lifecycle precondition.
func StateError(code, detail string, err error) *Error {
	return &Error{Kind: KindState, Code: code, Detail: detail, Err: err}
}

// TransientError wraps a failure that may succeed on a later attempt.
func TransientError(code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Detail: errDetail(err), Err: err}
}

// PermanentError wraps an external failure that retrying cannot fix.
func PermanentError(code, detail string, err error) *Error {
	return &Error{Kind: KindPermanent, Code: code, Detail: detail, Err: err}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindOf returns the classification of err. Unclassified errors are mapped
// from well-known sentinels, falling back to KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStateConflict):
		return KindState
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstream):
		return KindTransient
	}
	return KindInternal
}

// CodeOf returns the stable code attached to err, or CodeInternal.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrStateConflict):
		return "STATE_CONFLICT"
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	}
	return CodeInternal
}

// HTTPStatus maps err onto the response code returned to API clients.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation, KindState:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

const maxDetailLen = 256

var (
	hexKeyPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64,}`)
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	codePattern   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// Sanitize normalizes an error pair before it is stored on an intent or
// returned to a client. Long hex blobs (keys, signatures) and URLs are masked,
// only the first line is kept and the detail is truncated.
func Sanitize(code, detail string) (string, string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		code = CodeInternal
	}
	if i := strings.IndexAny(detail, "\r\n"); i >= 0 {
		detail = detail[:i]
	}
	detail = hexKeyPattern.ReplaceAllString(detail, "0x[redacted]")
	detail = urlPattern.ReplaceAllString(detail, "[url]")
	detail = strings.TrimSpace(detail)
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen]
	}
	return code, detail
}

// SanitizeError derives the stored (code, detail) pair from err.
func SanitizeError(err error) (string, string) {
	var de *Error
	if errors.As(err, &de) {
		detail := de.Detail
		if detail == "" && de.Err != nil {
			detail = de.Err.Error()
		}
		return Sanitize(de.Code, detail)
	}
	return Sanitize(CodeOf(err), errDetail(err))
}
