// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrStructural is the kind of error returned for malformed containers:
	// bad box sizes or types, a missing mandatory box or an unsupported brand.
	ErrStructural = errors.New("structural error")

	// ErrHeaderMismatch is the kind of error returned when the EXIF payload
	// does not start with the expected signature.
	// A header mismatch is also a structural error.
	ErrHeaderMismatch = errors.New("header mismatch")

	// ErrDecode is the kind of error returned when the compressed samples of a
	// frame are corrupt or use a feature that is not supported.
	ErrDecode = errors.New("decode error")

	// ErrRange is the kind of error returned for out-of-bounds pixel rectangles
	// and unknown lookup keys.
	ErrRange = errors.New("range error")
)

var (
	// Internal error to signal that a reader gave up; the cause is stored on the reader.
	errStop = errors.New("stop")

	errShortRead = errors.New("short read")
)

// Error is the error type returned by this package.
// Kind is one of ErrStructural, ErrHeaderMismatch, ErrDecode or ErrRange.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "heic: " + e.Kind.Error()
	}
	return fmt.Sprintf("heic: %s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrHeaderMismatch && target == ErrStructural
}

// IsStructural reports whether err is a structural error.
func IsStructural(err error) bool {
	return errors.Is(err, ErrStructural)
}

// IsHeaderMismatch reports whether err is an EXIF header mismatch.
func IsHeaderMismatch(err error) bool {
	return errors.Is(err, ErrHeaderMismatch)
}

// IsDecode reports whether err is a frame decode error.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}

// IsRange reports whether err is a range error.
func IsRange(err error) bool {
	return errors.Is(err, ErrRange)
}

func newStructuralError(err error) error {
	return wrapKind(ErrStructural, err)
}

func newStructuralErrorf(format string, args ...any) error {
	return &Error{Kind: ErrStructural, Err: fmt.Errorf(format, args...)}
}

func newHeaderMismatchErrorf(format string, args ...any) error {
	return &Error{Kind: ErrHeaderMismatch, Err: fmt.Errorf(format, args...)}
}

func newDecodeError(err error) error {
	return wrapKind(ErrDecode, err)
}

func newDecodeErrorf(format string, args ...any) error {
	return &Error{Kind: ErrDecode, Err: fmt.Errorf(format, args...)}
}

func newRangeErrorf(format string, args ...any) error {
	return &Error{Kind: ErrRange, Err: fmt.Errorf(format, args...)}
}

// wrapKind wraps err in kind unless it already carries a kind.
func wrapKind(kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// errFromRecover converts a recovered panic into an error of the given kind.
// The stop sentinel is replaced by the cause recorded on the reader, if any.
func errFromRecover(r any, kind error, cause func() error) error {
	if r == nil {
		return nil
	}
	var err error
	if errp, ok := r.(error); ok {
		err = errp
	} else {
		err = fmt.Errorf("unknown panic: %v", r)
	}
	if err == errStop {
		if cause != nil {
			if c := cause(); c != nil {
				err = c
			}
		}
		if err == errStop {
			err = io.ErrUnexpectedEOF
		}
	}
	return wrapKind(kind, err)
}
