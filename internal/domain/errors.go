package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrorKind classifies an error so callers can branch without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindTransient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is a kinded error. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and an operation name.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds a kinded error from a format string.
func Ef(kind ErrorKind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrJobNotFound       = &Error{Kind: KindNotFound, Err: errors.New("job not found")}
	ErrJobNotRunning     = &Error{Kind: KindNotFound, Err: errors.New("job is not running")}
	ErrJobAlreadyRunning = &Error{Kind: KindConflict, Err: errors.New("a refresh job is already running")}
	ErrAlreadyRanToday   = &Error{Kind: KindConflict, Err: errors.New("a refresh job already completed today")}
	ErrInvalidCountry    = &Error{Kind: KindInvalid, Err: errors.New("invalid country name")}
	ErrCountryNotFound   = &Error{Kind: KindNotFound, Err: errors.New("no data for country")}
)

const maxStoredErrorLen = 500

// SanitizeMessage strips control characters and caps the length of an error
// message before it is stored or returned to clients.
func SanitizeMessage(msg string) string {
	msg = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, msg)
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > maxStoredErrorLen {
		msg = string(r[:maxStoredErrorLen]) + "..."
	}
	return msg
}

// ErrJobTerminal is returned when a write targets a job that already finished.
var ErrJobTerminal = &Error{Kind: KindConflict, Err: errors.New("job is already in a terminal state")}
