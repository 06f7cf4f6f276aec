// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"errors"
	"fmt"
)

// Kind classifies the failures of driver calls.
type Kind int

const (
	_ Kind = iota
	OpenFailed
	ReadFailed
	CommandBuildFailed
	CommandValidationFailed
	ArmFailed
	QueryFailed // introspection calls (ranges, flags, buffers)
)

func (k Kind) String() string {
	switch k {
	case OpenFailed:
		return "open failed"
	case ReadFailed:
		return "read failed"
	case CommandBuildFailed:
		return "command build failed"
	case CommandValidationFailed:
		return "command validation failed"
	case ArmFailed:
		return "arm failed"
	case QueryFailed:
		return "query failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error returned by Device methods when the driver reports
// a failure.
type Error struct {
	Op     string     // driver call, e.g. "data_read"
	Path   string     // device path
	Kind   Kind       // failure class
	Result TestResult // validation result, for CommandValidationFailed
	Err    error      // underlying driver error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("comedi: %s %s: %v", e.Op, e.Path, e.Kind)
	if e.Kind == CommandValidationFailed {
		msg += fmt.Sprintf(" (%v)", e.Result)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == ""
}

// Sentinel errors to be used with errors.Is.
var (
	ErrOpenFailed       = &Error{Kind: OpenFailed}
	ErrReadFailed       = &Error{Kind: ReadFailed}
	ErrBuildFailed      = &Error{Kind: CommandBuildFailed}
	ErrValidationFailed = &Error{Kind: CommandValidationFailed}
	ErrArmFailed        = &Error{Kind: ArmFailed}
	ErrQueryFailed      = &Error{Kind: QueryFailed}
)

var (
	errNoNative     = errors.New("comedi: native driver not available (build with -tags comedi)")
	errClosed       = errors.New("comedi: device closed")
	errNotValidated = errors.New("comedi: command did not pass validation")
)

// ValidationResult extracts the validation result carried by err, if any.
func ValidationResult(err error) (TestResult, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Kind != CommandValidationFailed {
		return Success, false
	}
	return e.Result, true
}
