// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync(1)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := HandleFrom([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.At(1), byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.WriteAt([]byte{1, 2, 3}, 2)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}
}

func TestMap(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "map.raw"))
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}
	defer f.Close()

	_, err = Map(f.Fd(), 0)
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = f.Truncate(16)
	if err != nil {
		t.Fatalf("could not truncate file: %+v", err)
	}

	h, err := Map(f.Fd(), 16)
	if err != nil {
		t.Fatalf("could not map file: %+v", err)
	}
	defer h.Close()

	_, err = h.WriteAt([]byte("tube"), 4)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = h.Sync(h.Len())
	if err != nil {
		t.Fatalf("could not sync: %+v", err)
	}

	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 4)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if got, want := string(buf), "tube"; got != want {
		t.Fatalf("invalid content: got=%q, want=%q", got, want)
	}
}

func TestStation(t *testing.T) {
	page := int64(unix.Getpagesize())

	f, err := os.Create(filepath.Join(t.TempDir(), "station.raw"))
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}
	defer f.Close()

	st, err := NewStation(f, 1)
	if err != nil {
		t.Fatalf("could not create station: %+v", err)
	}
	defer st.Close()

	if got, want := st.Len(), page; got != want {
		t.Fatalf("invalid initial size: got=%d, want=%d", got, want)
	}
	if got, want := st.Fd(), f.Fd(); got != want {
		t.Fatalf("invalid fd: got=%d, want=%d", got, want)
	}

	var (
		want = new(bytes.Buffer)
		off  int64
	)
	chunk := bytes.Repeat([]byte("0123456789abcdef"), 100)
	for i := 0; i < 20; i++ {
		n, err := st.WriteAt(chunk, off)
		if err != nil {
			t.Fatalf("could not write chunk %d: %+v", i, err)
		}
		off += int64(n)
		want.Write(chunk)
		if st.Len() < off {
			t.Fatalf("station did not grow: len=%d, off=%d", st.Len(), off)
		}
		if st.Len()%page != 0 {
			t.Fatalf("station size not a multiple of a page: %d", st.Len())
		}
	}

	err = st.Sync()
	if err != nil {
		t.Fatalf("could not sync station: %+v", err)
	}

	err = st.Truncate(off)
	if err != nil {
		t.Fatalf("could not truncate station: %+v", err)
	}

	fi, err := f.Stat()
	if err != nil {
		t.Fatalf("could not stat file: %+v", err)
	}
	if got, want := fi.Size(), off; got != want {
		t.Fatalf("invalid file size: got=%d, want=%d", got, want)
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("could not read file: %+v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("invalid file content")
	}

	// writing after a truncation remaps the station.
	_, err = st.WriteAt([]byte("tail"), off)
	if err != nil {
		t.Fatalf("could not write after truncate: %+v", err)
	}
	buf := make([]byte, 4)
	_, err = st.ReadAt(buf, off)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if string(buf) != "tail" {
		t.Fatalf("invalid content: %q", buf)
	}

	_, err = st.WriteAt(nil, -1)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestStationExisting(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "station.raw")
	err := os.WriteFile(fname, bytes.Repeat([]byte{0xff}, 10), 0644)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}

	f, err := os.OpenFile(fname, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("could not open file: %+v", err)
	}
	defer f.Close()

	st, err := NewStation(f, 0)
	if err != nil {
		t.Fatalf("could not create station: %+v", err)
	}
	defer st.Close()

	if got, want := st.Len(), int64(10); got != want {
		t.Fatalf("invalid size: got=%d, want=%d", got, want)
	}

	_, err = st.WriteAt([]byte{1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = st.Truncate(3)
	if err != nil {
		t.Fatalf("could not truncate: %+v", err)
	}

	got, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read file: %+v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("invalid content: %v", got)
	}
}
