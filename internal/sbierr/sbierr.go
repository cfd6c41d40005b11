// Package sbierr defines the negative error codes returned by firmware
// driver entry points.
package sbierr

import (
	"errors"
	"fmt"
)

// Code is a negative SBI error code. The zero value is not an error and is
// never returned as one.
type Code int64

// SBI error codes
const (
	ErrFailed           Code = -1
	ErrNotSupported     Code = -2
	ErrInvalidParam     Code = -3
	ErrDenied           Code = -4
	ErrInvalidAddress   Code = -5
	ErrAlreadyAvailable Code = -6
	ErrAlreadyStarted   Code = -7
	ErrAlreadyStopped   Code = -8
)

// Firmware-internal error codes
const (
	ErrNoDevice Code = -1000
	ErrNoSys    Code = -1001
	ErrTimedOut Code = -1002
	ErrIO       Code = -1003
	ErrIllegal  Code = -1004
	ErrNoSpace  Code = -1005
	ErrNoMemory Code = -1006
	ErrUnknown  Code = -1007
	ErrNoEntry  Code = -1008
)

var names = map[Code]string{
	ErrFailed:           "failed",
	ErrNotSupported:     "not supported",
	ErrInvalidParam:     "invalid parameter",
	ErrDenied:           "denied",
	ErrInvalidAddress:   "invalid address",
	ErrAlreadyAvailable: "already available",
	ErrAlreadyStarted:   "already started",
	ErrAlreadyStopped:   "already stopped",
	ErrNoDevice:         "no device",
	ErrNoSys:            "not implemented",
	ErrTimedOut:         "timed out",
	ErrIO:               "i/o error",
	ErrIllegal:          "illegal operation",
	ErrNoSpace:          "no space",
	ErrNoMemory:         "out of memory",
	ErrUnknown:          "unknown error",
	ErrNoEntry:          "no entry",
}

func (c Code) Error() string {
	if name, ok := names[c]; ok {
		return fmt.Sprintf("sbi: %s (%d)", name, int64(c))
	}
	return fmt.Sprintf("sbi: error %d", int64(c))
}

// FromError extracts the code carried by err. Errors that carry no code map
// to ErrFailed, and a nil error maps to 0.
func FromError(err error) Code {
	if err == nil {
		return 0
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrFailed
}
