// SPDX-License-Identifier: GPL-2.0-or-later

package bsp

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	ErrNotFound ErrorKind = iota
	ErrFileTooSmall
	ErrUnknownFormat
	ErrInvalidFormat
	ErrInfiniteLoop
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "No such file or directory"
	case ErrFileTooSmall:
		return "File too small"
	case ErrUnknownFormat:
		return "Unknown file format"
	case ErrInvalidFormat:
		return "Invalid file format"
	case ErrInfiniteLoop:
		return "Infinite loop avoided"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned for every map that could not be loaded.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalidFormat, Msg: fmt.Sprintf(format, args...)}
}

// ErrorString returns the message shown to the user for a failed load.
// Format errors carry their specific reason, everything else the generic
// kind description.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case ErrInvalidFormat, ErrInfiniteLoop:
			if e.Msg != "" {
				return e.Msg
			}
		}
		return e.Kind.String()
	}
	return errors.Cause(err).Error()
}

// IsKind reports whether err is a load error of the given kind.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
