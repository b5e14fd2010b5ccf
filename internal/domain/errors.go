package domain

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrMalformedLine is wrapped by every ParseError.
	ErrMalformedLine = errors.New("malformed line")

	// ErrLocationUnavailable means no coordinates could be produced for a
	// summit or callsign, neither fresh, stale, nor estimated.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrAuthentication is returned when a remote directory rejects credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound is returned by remote lookups that know nothing about a key.
	ErrNotFound = errors.New("not found")
)

// ParseError describes a feed line that is not a spot.
type ParseError struct {
	Feed   Feed
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s line: %s: %q", e.Feed, e.Reason, e.Line)
}

func (e *ParseError) Unwrap() error { return ErrMalformedLine }

// ConnectError means a feed session could not be established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransientError marks a failure that is expected to clear on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError, a ConnectError, or a
// network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
