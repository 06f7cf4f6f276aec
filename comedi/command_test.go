// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"errors"
	"testing"
)

func chanlist(n int, rng uint32, aref ARef) []ChanSpec {
	specs := make([]ChanSpec, n)
	for i := range specs {
		specs[i] = Pack(uint32(i), rng, aref)
	}
	return specs
}

func TestNegotiate(t *testing.T) {
	dev, err := Open("sim:")
	if err != nil {
		t.Fatalf("could not open sim device: %+v", err)
	}
	defer dev.Close()

	for _, tc := range []struct {
		name   string
		mod    func(cmd *Command)
		first  TestResult
		second TestResult
	}{
		{
			name:   "generic",
			mod:    func(cmd *Command) {},
			first:  Success,
			second: Success,
		},
		{
			name:   "fast-scan",
			mod:    func(cmd *Command) { cmd.ScanBeginArg = 10 },
			first:  InvalidArgument,
			second: Success,
		},
		{
			name:   "unrounded-period",
			mod:    func(cmd *Command) { cmd.ScanBeginArg = 1_000_049 },
			first:  InvalidArgument,
			second: Success,
		},
		{
			name: "slow-convert",
			mod: func(cmd *Command) {
				cmd.ConvertArg = 800_000
			},
			first:  ArgumentConflict,
			second: Success,
		},
		{
			name:   "start-arg",
			mod:    func(cmd *Command) { cmd.StartArg = 42 },
			first:  InvalidArgument,
			second: Success,
		},
		{
			name:   "no-stop-arg",
			mod:    func(cmd *Command) { cmd.StopArg = 0 },
			first:  InvalidArgument,
			second: Success,
		},
		{
			name:   "invalid-source",
			mod:    func(cmd *Command) { cmd.StartSrc = TrigTime },
			first:  InvalidSource,
			second: InvalidSource,
		},
		{
			name:   "source-conflict",
			mod:    func(cmd *Command) { cmd.StopSrc = TrigCount | TrigNone },
			first:  SourceConflict,
			second: SourceConflict,
		},
		{
			name:   "ext-now",
			mod:    func(cmd *Command) { cmd.ScanBeginSrc, cmd.ConvertSrc = TrigExt, TrigNow },
			first:  SourceConflict,
			second: SourceConflict,
		},
		{
			name: "invalid-chanlist",
			mod: func(cmd *Command) {
				cmd.Chanlist[1] = Pack(99, 0, ARefGround)
			},
			first:  InvalidChanlist,
			second: InvalidChanlist,
		},
		{
			name: "invalid-aref",
			mod: func(cmd *Command) {
				cmd.Chanlist[0] = Pack(0, 0, ARefOther)
			},
			first:  InvalidChanlist,
			second: InvalidChanlist,
		},
		{
			name: "short-chanlist",
			mod: func(cmd *Command) {
				cmd.Chanlist = cmd.Chanlist[:1]
			},
			first:  InvalidChanlist,
			second: InvalidChanlist,
		},
		{
			name: "empty-chanlist",
			mod: func(cmd *Command) {
				cmd.Chanlist = nil
				cmd.ChanlistLen = 0
			},
			first:  InvalidArgument,
			second: InvalidArgument,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := dev.GenericTimedCommand(0, 2, 1_000_000)
			if err != nil {
				t.Fatalf("could not build command: %+v", err)
			}
			cmd.SetChanlist(chanlist(2, 0, ARefGround))
			cmd.StopArg = 10
			tc.mod(cmd)

			first, second, err := Negotiate(dev, cmd)
			if got, want := first, tc.first; got != want {
				t.Fatalf("invalid first pass: got=%v, want=%v", got, want)
			}
			if got, want := second, tc.second; got != want {
				t.Fatalf("invalid second pass: got=%v, want=%v", got, want)
			}

			switch tc.second {
			case Success:
				if err != nil {
					t.Fatalf("could not negotiate command: %+v", err)
				}
				if !cmd.Validated() {
					t.Fatalf("command should be validated")
				}
				// a converged command is left untouched by a third pass.
				snap := *cmd
				res, err := dev.TestCommand(cmd)
				if err != nil || res != Success {
					t.Fatalf("third pass failed: res=%v, err=%+v", res, err)
				}
				if snap.ScanBeginArg != cmd.ScanBeginArg || snap.ConvertArg != cmd.ConvertArg {
					t.Fatalf("third pass modified the command:\n%v\n%v", &snap, cmd)
				}
				if err := dev.Arm(cmd); err != nil {
					t.Fatalf("could not arm command: %+v", err)
				}
				if err := dev.Cancel(0); err != nil {
					t.Fatalf("could not cancel command: %+v", err)
				}
			default:
				if err == nil {
					t.Fatalf("expected a validation error")
				}
				if !errors.Is(err, ErrValidationFailed) {
					t.Fatalf("invalid error kind: %+v", err)
				}
				res, ok := ValidationResult(err)
				if !ok || res != tc.second {
					t.Fatalf("invalid validation result: got=%v (ok=%v), want=%v", res, ok, tc.second)
				}
				err = dev.Arm(cmd)
				if !errors.Is(err, ErrArmFailed) {
					t.Fatalf("arming a non-converged command should fail: %+v", err)
				}
			}
		})
	}
}

func TestGenericTimedCommand(t *testing.T) {
	dev, err := Open("sim:")
	if err != nil {
		t.Fatalf("could not open sim device: %+v", err)
	}
	defer dev.Close()

	cmd, err := dev.GenericTimedCommand(0, 3, 1_000_000)
	if err != nil {
		t.Fatalf("could not build command: %+v", err)
	}

	for _, tc := range []struct {
		name      string
		got, want interface{}
	}{
		{"start", cmd.StartSrc, TrigNow},
		{"scan-begin", cmd.ScanBeginSrc, TrigTimer},
		{"scan-begin-arg", cmd.ScanBeginArg, uint32(1_000_000)},
		{"convert", cmd.ConvertSrc, TrigTimer},
		{"convert-arg", cmd.ConvertArg, uint32(simMinConvert)},
		{"scan-end", cmd.ScanEndSrc, TrigCount},
		{"scan-end-arg", cmd.ScanEndArg, uint32(3)},
		{"stop", cmd.StopSrc, TrigCount},
		{"stop-arg", cmd.StopArg, uint32(2)},
		{"chanlist-len", cmd.ChanlistLen, uint32(3)},
	} {
		if tc.got != tc.want {
			t.Fatalf("invalid %s: got=%v, want=%v", tc.name, tc.got, tc.want)
		}
	}

	_, err = dev.GenericTimedCommand(2, 1, 1_000_000)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("DIO subdevice should not build commands: %+v", err)
	}

	_, err = dev.GenericTimedCommand(0, 0, 1_000_000)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("empty commands should not build: %+v", err)
	}
}

func TestArmChanlistMismatch(t *testing.T) {
	dev, err := Open("sim:")
	if err != nil {
		t.Fatalf("could not open sim device: %+v", err)
	}
	defer dev.Close()

	cmd, err := dev.GenericTimedCommand(0, 2, 1_000_000)
	if err != nil {
		t.Fatalf("could not build command: %+v", err)
	}
	cmd.SetChanlist(chanlist(2, 0, ARefGround))
	if _, _, err := Negotiate(dev, cmd); err != nil {
		t.Fatalf("could not negotiate command: %+v", err)
	}

	cmd.ChanlistLen = 3
	err = dev.Arm(cmd)
	if !errors.Is(err, ErrArmFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestArmSinglePass(t *testing.T) {
	dev, err := Open("sim:")
	if err != nil {
		t.Fatalf("could not open sim device: %+v", err)
	}
	defer dev.Close()

	cmd, err := dev.GenericTimedCommand(0, 2, 100_000)
	if err != nil {
		t.Fatalf("could not build command: %+v", err)
	}
	cmd.SetChanlist(chanlist(2, 0, ARefGround))
	cmd.StopArg = 10

	res, err := dev.TestCommand(cmd)
	if err != nil || res != Success {
		t.Fatalf("first pass failed: res=%v, err=%+v", res, err)
	}
	if cmd.Validated() {
		t.Fatalf("command validated after a single pass")
	}

	err = dev.Arm(cmd)
	if !errors.Is(err, ErrArmFailed) {
		t.Fatalf("arming after a single pass should fail: %+v", err)
	}

	res, err = dev.TestCommand(cmd)
	if err != nil || res != Success {
		t.Fatalf("second pass failed: res=%v, err=%+v", res, err)
	}
	if !cmd.Validated() {
		t.Fatalf("command should be validated after two passes")
	}

	// a new chanlist requires a new negotiation.
	cmd.SetChanlist(chanlist(2, 1, ARefGround))
	if cmd.Validated() {
		t.Fatalf("command still validated after a chanlist change")
	}

	if _, _, err := Negotiate(dev, cmd); err != nil {
		t.Fatalf("could not negotiate command: %+v", err)
	}
	if err := dev.Arm(cmd); err != nil {
		t.Fatalf("could not arm command: %+v", err)
	}
	if err := dev.Cancel(0); err != nil {
		t.Fatalf("could not cancel command: %+v", err)
	}
}
