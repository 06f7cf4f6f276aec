// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tube streams raw samples from an armed acquisition to a
// destination from a background worker.
//
// A Tube is shared between two parties: the foreground, which builds the
// tube, lays it and sends commands, and the worker, which moves bytes and
// reports its progress.
// Each shared word has a single writer:
//   - the command word is written by the foreground only,
//   - the status word and the progress counters are written by the worker only.
//
// The status and command words form a fixed protocol:
//
//	status  0x001  InPlace    worker is set up; Lay returns
//	        0x002  Active     data has been moved
//	        0x004  Wait       no data available, or paused
//	        0x008  Failed     unrecoverable error
//	        0x010  Exit       worker is done and the destination is finalized
//	        0x020  SrcFailed  the failure came from the source
//	        0x040  DstFailed  the failure came from the destination
//
//	command 0x001  Pause      stop moving data until cleared
//	        0x002  Warp       do not publish progress until the end
//	        0x004  Stop       stop moving data and finalize the destination
//
// Exit is always the last bit set by the worker: once it is observed, the
// destination may be closed and read back.
package tube // import "github.com/go-lpc/daqtube/tube"

import (
	"fmt"
	"io"
	"strings"
)

// Status is the bitmask published by the worker.
type Status uint32

const (
	StatusInPlace   Status = 0x001
	StatusActive    Status = 0x002
	StatusWait      Status = 0x004
	StatusFailed    Status = 0x008
	StatusExit      Status = 0x010
	StatusSrcFailed Status = 0x020
	StatusDstFailed Status = 0x040
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusInPlace, "inplace"},
	{StatusActive, "active"},
	{StatusWait, "wait"},
	{StatusFailed, "failed"},
	{StatusExit, "exit"},
	{StatusSrcFailed, "src-failed"},
	{StatusDstFailed, "dst-failed"},
}

// Has reports whether all the bits of v are set.
func (st Status) Has(v Status) bool { return st&v == v }

func (st Status) String() string {
	if st == 0 {
		return "none"
	}
	var names []string
	for _, v := range statusNames {
		if st&v.bit != 0 {
			names = append(names, v.name)
		}
	}
	if rest := st &^ 0x7f; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Cmd is the bitmask written by the foreground.
type Cmd uint32

const (
	CmdPause Cmd = 0x001
	CmdWarp  Cmd = 0x002
	CmdStop  Cmd = 0x004
)

// State is the stage of a tube in its lifecycle.
type State int32

const (
	Idle State = iota
	Running
	StopRequested
	Finalizing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop-requested"
	case Finalizing:
		return "finalizing"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Source is the mouth of a tube: a stream of raw samples.
type Source interface {
	io.Reader

	// Buffered returns the number of bytes that can be read without
	// blocking. Buffered returns io.EOF once the stream is over and
	// drained.
	Buffered() (int, error)
}

// Sink is the tail of a tube: a destination that can be written at
// arbitrary offsets and truncated to its final size.
type Sink interface {
	io.WriterAt
	Truncate(size int64) error
	Sync() error
}
