// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/comedi"
	"github.com/go-lpc/daqtube/tube"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	cfg := acq.DefaultConfig()
	cfg.Device = "sim:"
	cfg.Scans = 0

	srv := newServer(cfg, t.TempDir())
	srv.msg = log.New(io.Discard, "", 0)
	srv.opts = []comedi.Option{comedi.WithSimOptions(comedi.WithRealTime())}
	t.Cleanup(func() { _ = srv.close() })
	return srv
}

func TestRunCycle(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.start()
	if err == nil {
		t.Fatalf("expected an error starting an uninitialized server")
	}

	err = srv.initialize()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}
	err = srv.initialize()
	if err == nil {
		t.Fatalf("expected an error initializing twice")
	}

	for i := 1; i <= 2; i++ {
		fname, err := srv.start()
		if err != nil {
			t.Fatalf("could not start run %d: %+v", i, err)
		}
		if got, want := filepath.Base(fname), []string{"", "run-001.raw", "run-002.raw"}[i]; got != want {
			t.Fatalf("invalid output file: got=%q, want=%q", got, want)
		}

		_, err = srv.start()
		if err == nil {
			t.Fatalf("expected an error starting twice")
		}

		time.Sleep(10 * time.Millisecond)
		srv.publish()

		rep, err := srv.stop()
		if err != nil {
			t.Fatalf("could not stop run %d: %+v", i, err)
		}
		if !rep.Status.Has(tube.StatusExit) {
			t.Fatalf("tube did not exit: %v", rep.Status)
		}

		fi, err := os.Stat(fname)
		if err != nil {
			t.Fatalf("could not stat output: %+v", err)
		}
		if got, want := fi.Size(), rep.Bytes; got != want {
			t.Fatalf("invalid output size: got=%d, want=%d", got, want)
		}
		if _, err := os.Stat(acq.SidecarName(fname)); err != nil {
			t.Fatalf("missing calibration sidecar: %+v", err)
		}
	}

	_, err = srv.stop()
	if err == nil {
		t.Fatalf("expected an error stopping an idle server")
	}

	select {
	case raw := <-srv.data:
		dec := tdaq.NewDecoder(bytes.NewReader(raw))
		out := dec.ReadStr()
		if got, want := filepath.Base(out), "run-001.raw"; got != want {
			t.Fatalf("invalid published output: got=%q, want=%q", got, want)
		}
	default:
		t.Fatalf("no progress published")
	}

	err = srv.reset()
	if err != nil {
		t.Fatalf("could not reset: %+v", err)
	}
}

func TestConfigure(t *testing.T) {
	srv := newTestServer(t)

	cfg := acq.DefaultConfig()
	cfg.Device = "sim:"
	cfg.Subdev = 1
	cfg.Scans = 10
	fname := filepath.Join(t.TempDir(), "preset.yaml")
	err := cfg.Save(fname)
	if err != nil {
		t.Fatalf("could not save preset: %+v", err)
	}

	err = srv.configure(fname)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, want := srv.cfg.Subdev, uint32(1); got != want {
		t.Fatalf("invalid subdevice: got=%d, want=%d", got, want)
	}

	err = srv.configure(filepath.Join(t.TempDir(), "not-there.yaml"))
	if err == nil {
		t.Fatalf("expected an error")
	}
}
