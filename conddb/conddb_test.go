// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestLastPreset(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_, err = fakedb.Run(context.Background(), func(ctx context.Context) error {
		name, err := db.LastPreset(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last preset: %+v", err)
		}

		if got, want := name, "tut3-2026"; got != want {
			t.Fatalf("invalid last preset: got=%q, want=%q", got, want)
		}
		return nil
	}, fakedb.Rows{
		Names: []string{"name"},
		Values: [][]driver.Value{
			{"tut3-2026"},
		},
	})
	if err != nil {
		t.Fatalf("error: %+v", err)
	}
}

func TestLastPresetEmpty(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_, err = fakedb.Run(context.Background(), func(ctx context.Context) error {
		_, err := db.LastPreset(ctx)
		return err
	}, fakedb.Rows{Names: []string{"name"}})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), `conddb: no preset in "fakedb" db`; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestPreset(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	want := acq.Config{
		Name:   "tut3-2026",
		Device: "/dev/comedi0",
		Subdev: 0,
		Channels: []acq.Channel{
			{Chan: 0, Range: 0, ARef: "ground"},
			{Chan: 1, Range: 2, ARef: "diff"},
			{Chan: 4, Range: 1, ARef: "ground"},
		},
		PeriodNS: 10000,
		Scans:    100,
		OOR:      "nan",
	}

	_, err = fakedb.Run(context.Background(), func(ctx context.Context) error {
		cfg, err := db.Preset(ctx, "tut3-2026")
		if err != nil {
			t.Fatalf("could not retrieve preset: %+v", err)
		}

		if !reflect.DeepEqual(cfg, want) {
			t.Fatalf("invalid preset:\ngot= %+v\nwant=%+v", cfg, want)
		}

		err = cfg.Validate()
		if err != nil {
			t.Fatalf("invalid preset: %+v", err)
		}
		return nil
	},
		fakedb.Rows{
			Names: []string{"device", "subdev", "period_ns", "scans", "oor"},
			Values: [][]driver.Value{
				{"/dev/comedi0", int64(0), int64(10000), int64(100), "nan"},
			},
		},
		fakedb.Rows{
			Names: []string{"chan", "rng", "aref"},
			Values: [][]driver.Value{
				{int64(0), int64(0), "ground"},
				{int64(1), int64(2), "diff"},
				{int64(4), int64(1), "ground"},
			},
		},
	)
	if err != nil {
		t.Fatalf("error: %+v", err)
	}
}

func TestPresetMissing(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_, err = fakedb.Run(context.Background(), func(ctx context.Context) error {
		_, err := db.Preset(ctx, "not-there")
		return err
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), `conddb: no preset "not-there"`; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestRecordRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	start := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	run := acq.Run{
		Name:    "tut3-2026",
		Device:  "/dev/comedi0",
		Output:  "run-001.raw",
		Start:   start,
		Stop:    start.Add(time.Minute),
		Bytes:   400,
		Records: 200,
		Scans:   100,
		Status:  "inplace|active|exit",
	}

	execs, err := fakedb.Run(context.Background(), func(ctx context.Context) error {
		return db.RecordRun(ctx, run)
	})
	if err != nil {
		t.Fatalf("could not record run: %+v", err)
	}

	if got, want := len(execs), 1; got != want {
		t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
	}
	if !strings.Contains(execs[0].Query, "INSERT INTO runs") {
		t.Fatalf("invalid statement: %q", execs[0].Query)
	}

	args := execs[0].Args
	if got, want := len(args), 11; got != want {
		t.Fatalf("invalid number of arguments: got=%d, want=%d", got, want)
	}
	if got, want := args[0], driver.Value("tut3-2026"); got != want {
		t.Fatalf("invalid preset: got=%v, want=%v", got, want)
	}
	if got, want := args[6], driver.Value(int64(400)); got != want {
		t.Fatalf("invalid bytes: got=%v, want=%v", got, want)
	}
	if got, want := args[9], driver.Value("inplace|active|exit"); got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}
}
