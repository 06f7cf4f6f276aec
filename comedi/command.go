// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"fmt"
	"strings"
)

// TrigSrc is a trigger source bitmask of a command.
type TrigSrc uint32

const (
	TrigInvalid TrigSrc = 0
	TrigNone    TrigSrc = 0x001 // never trigger
	TrigNow     TrigSrc = 0x002 // trigger now + N ns
	TrigFollow  TrigSrc = 0x004 // trigger on next lower level trig
	TrigTime    TrigSrc = 0x008 // trigger at time N ns
	TrigTimer   TrigSrc = 0x010 // trigger at rate N ns
	TrigCount   TrigSrc = 0x020 // trigger when count reaches N
	TrigExt     TrigSrc = 0x040 // trigger on external signal N
	TrigInt     TrigSrc = 0x080 // trigger on comedi-internal signal N
	TrigOther   TrigSrc = 0x100 // driver defined
	TrigAny     TrigSrc = 0xffffffff
)

var trigNames = []struct {
	src  TrigSrc
	name string
}{
	{TrigNone, "none"},
	{TrigNow, "now"},
	{TrigFollow, "follow"},
	{TrigTime, "time"},
	{TrigTimer, "timer"},
	{TrigCount, "count"},
	{TrigExt, "ext"},
	{TrigInt, "int"},
	{TrigOther, "other"},
}

func (src TrigSrc) String() string {
	switch src {
	case TrigInvalid:
		return "invalid"
	case TrigAny:
		return "any"
	}
	var names []string
	for _, v := range trigNames {
		if src&v.src != 0 {
			names = append(names, v.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("TrigSrc(0x%x)", uint32(src))
	}
	return strings.Join(names, "|")
}

// single reports whether exactly one trigger source is selected.
func (src TrigSrc) single() bool {
	return src != 0 && src&(src-1) == 0
}

// Command flags.
const (
	CmdfPriority   uint32 = 0x00000008
	CmdfWakeEOS    uint32 = 0x00000020
	CmdfWrite      uint32 = 0x00000040
	CmdfRawData    uint32 = 0x00000080
	CmdfRoundMask  uint32 = 0x00030000
	CmdfRoundNear  uint32 = 0x00000000
	CmdfRoundDown  uint32 = 0x00010000
	CmdfRoundUp    uint32 = 0x00020000
	CmdfRoundUpNxt uint32 = 0x00030000
)

// Command describes a streaming acquisition request.
type Command struct {
	Subdev uint32
	Flags  uint32

	StartSrc     TrigSrc
	StartArg     uint32
	ScanBeginSrc TrigSrc
	ScanBeginArg uint32
	ConvertSrc   TrigSrc
	ConvertArg   uint32
	ScanEndSrc   TrigSrc
	ScanEndArg   uint32
	StopSrc      TrigSrc
	StopArg      uint32

	Chanlist    []ChanSpec
	ChanlistLen uint32

	last tested // outcome of the validation passes
}

type tested struct {
	passes int
	res    TestResult
}

// Validated reports whether the command went through at least two
// validation passes, the last one reporting no conflicts.
func (cmd *Command) Validated() bool {
	return cmd.last.passes >= 2 && cmd.last.res == Success
}

// SetChanlist sets the channel list of the command and its length.
func (cmd *Command) SetChanlist(specs []ChanSpec) {
	cmd.Chanlist = make([]ChanSpec, len(specs))
	copy(cmd.Chanlist, specs)
	cmd.ChanlistLen = uint32(len(specs))
	cmd.last = tested{}
}

func (cmd *Command) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "subdevice:      %d\n", cmd.Subdev)
	fmt.Fprintf(o, "start:      %-8v %d\n", cmd.StartSrc, cmd.StartArg)
	fmt.Fprintf(o, "scan_begin: %-8v %d\n", cmd.ScanBeginSrc, cmd.ScanBeginArg)
	fmt.Fprintf(o, "convert:    %-8v %d\n", cmd.ConvertSrc, cmd.ConvertArg)
	fmt.Fprintf(o, "scan_end:   %-8v %d\n", cmd.ScanEndSrc, cmd.ScanEndArg)
	fmt.Fprintf(o, "stop:       %-8v %d\n", cmd.StopSrc, cmd.StopArg)
	return o.String()
}

// TestResult is the outcome of a command validation pass.
type TestResult int

const (
	Success          TestResult = 0
	InvalidSource    TestResult = 1
	SourceConflict   TestResult = 2
	InvalidArgument  TestResult = 3
	ArgumentConflict TestResult = 4
	InvalidChanlist  TestResult = 5
)

var testMessages = [...]string{
	Success:          "success",
	InvalidSource:    "invalid source",
	SourceConflict:   "source conflict",
	InvalidArgument:  "invalid argument",
	ArgumentConflict: "argument conflict",
	InvalidChanlist:  "invalid chanlist",
}

func (res TestResult) String() string {
	if res < 0 || int(res) >= len(testMessages) {
		return fmt.Sprintf("TestResult(%d)", int(res))
	}
	return testMessages[res]
}

// Negotiate runs the two validation passes a command must go through before
// it can be armed.
// The first pass may rewrite fields of cmd to driver-suggested values.
// The second pass must report Success; otherwise a CommandValidationFailed
// error carrying the second result is returned.
func Negotiate(dev *Device, cmd *Command) (first, second TestResult, err error) {
	first, err = dev.TestCommand(cmd)
	if err != nil {
		return first, first, err
	}

	second, err = dev.TestCommand(cmd)
	if err != nil {
		return first, second, err
	}

	if second != Success {
		return first, second, &Error{
			Op:     "command_test",
			Path:   dev.path,
			Kind:   CommandValidationFailed,
			Result: second,
			Err:    fmt.Errorf("second test returned %d (%v)", int(second), second),
		}
	}
	return first, second, nil
}
