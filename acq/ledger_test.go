// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/daqtube/tube"
)

func TestLedger(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "runs.db")
	ldg, err := OpenLedger(fname)
	if err != nil {
		t.Fatalf("could not open ledger: %+v", err)
	}

	start := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rep := Report{
			Name:    "tut3",
			Device:  "sim:",
			Output:  fmt.Sprintf("run-%03d.raw", i),
			Start:   start.Add(time.Duration(i) * time.Hour),
			Elapsed: time.Minute,
			Bytes:   400,
			Records: 200,
			Scans:   100,
			Status:  tube.StatusInPlace | tube.StatusActive | tube.StatusExit,
		}
		if i == 2 {
			rep.Status |= tube.StatusFailed | tube.StatusDstFailed
			rep.Err = errors.New("disk full")
		}
		id, err := ldg.Record(RunFrom(rep))
		if err != nil {
			t.Fatalf("could not record run %d: %+v", i, err)
		}
		if got, want := id, uint64(i+1); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}
	}

	err = ldg.Close()
	if err != nil {
		t.Fatalf("could not close ledger: %+v", err)
	}

	ldg, err = OpenLedger(fname)
	if err != nil {
		t.Fatalf("could not re-open ledger: %+v", err)
	}
	defer ldg.Close()

	runs, err := ldg.Runs()
	if err != nil {
		t.Fatalf("could not list runs: %+v", err)
	}
	if got, want := len(runs), 3; got != want {
		t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
	}
	for i, run := range runs {
		if got, want := run.ID, uint64(i+1); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}
		if got, want := run.Output, fmt.Sprintf("run-%03d.raw", i); got != want {
			t.Fatalf("invalid output: got=%q, want=%q", got, want)
		}
		if got, want := run.Stop, run.Start.Add(time.Minute); !got.Equal(want) {
			t.Fatalf("invalid stop: got=%v, want=%v", got, want)
		}
	}

	run, err := ldg.Run(3)
	if err != nil {
		t.Fatalf("could not get run: %+v", err)
	}
	if got, want := run.Error, "disk full"; got != want {
		t.Fatalf("invalid error: got=%q, want=%q", got, want)
	}
	if got, want := run.Status, "inplace|active|failed|exit|dst-failed"; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}
	if got, want := run.Scans, int64(100); got != want {
		t.Fatalf("invalid scans: got=%d, want=%d", got, want)
	}

	_, err = ldg.Run(42)
	if !errors.Is(err, ErrNoRun) {
		t.Fatalf("invalid error: %+v", err)
	}
}
