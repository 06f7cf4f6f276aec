// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tube

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSource is returned by Lay when the source is not usable.
	ErrBadSource = errors.New("tube: bad source")
	// ErrBadDest is returned by Lay when the destination is not usable.
	ErrBadDest = errors.New("tube: bad destination")

	errLaid = errors.New("tube: tube already laid")
)

// Lay return codes, as reported by the C-style API.
const (
	codeBadSource = -1
	codeBadDest   = -2
)

// Code returns the integer status of a Lay error:
// 0 on success, -1 for a bad source and -2 for a bad destination.
// A destination the worker could not set up is a bad destination.
func Code(err error) int {
	var terr *TransferError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrBadSource):
		return codeBadSource
	case errors.Is(err, ErrBadDest):
		return codeBadDest
	case errors.As(err, &terr) && terr.Kind == DestinationError:
		return codeBadDest
	}
	return -3
}

// ErrorKind tells which end of a tube failed.
type ErrorKind int

const (
	SourceError ErrorKind = iota + 1
	DestinationError
)

func (k ErrorKind) String() string {
	switch k {
	case SourceError:
		return "source"
	case DestinationError:
		return "destination"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// TransferError is a failure of the worker while moving data.
type TransferError struct {
	Kind  ErrorKind
	Bytes int64 // bytes moved before the failure
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("tube: %v error after %d bytes: %v", e.Kind, e.Bytes, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
