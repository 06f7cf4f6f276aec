// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Station is a memory-mapped view of a file that grows with the data
// written into it.
//
// The file is extended by whole pages ahead of the write offset.
// Truncate sets the final size of the file once writing is over.
type Station struct {
	f    *os.File
	h    *Handle
	size int64 // size of the file and of its mapping
	grow int64 // minimal growth step
	page int64
}

// NewStation maps the file f, extending it by at least grow bytes each time
// a write goes past its end.
// Empty files are extended to one page.
func NewStation(f *os.File, grow int64) (*Station, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: could not stat station file: %w", err)
	}

	page := int64(unix.Getpagesize())
	if grow < page {
		grow = page
	}
	st := &Station{
		f:    f,
		size: fi.Size(),
		grow: roundUp(grow, page),
		page: page,
	}

	if st.size < 1 {
		err = unix.Ftruncate(int(f.Fd()), page)
		if err != nil {
			return nil, fmt.Errorf("mmap: could not extend station file: %w", err)
		}
		st.size = page
	}

	st.h, err = Map(f.Fd(), int(st.size))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func roundUp(n, page int64) int64 {
	return (n + page - 1) / page * page
}

// Fd returns the file descriptor of the station file.
func (st *Station) Fd() uintptr { return st.f.Fd() }

// Len returns the current size of the station file.
func (st *Station) Len() int64 { return st.size }

// Grow extends the station file by n bytes, rounded up to a number of
// pages, and remaps it.
func (st *Station) Grow(n int64) error {
	if n <= 0 {
		return nil
	}
	size := st.size + roundUp(n, st.page)

	if st.h != nil {
		err := st.h.Close()
		st.h = nil
		if err != nil {
			return fmt.Errorf("mmap: could not unmap station: %w", err)
		}
	}

	err := unix.Ftruncate(int(st.f.Fd()), size)
	if err != nil {
		return fmt.Errorf("mmap: could not grow station to %d bytes: %w", size, err)
	}
	st.size = size

	st.h, err = Map(st.f.Fd(), int(size))
	if err != nil {
		return fmt.Errorf("mmap: could not remap station: %w", err)
	}
	return nil
}

// WriteAt implements io.WriterAt, growing the station as needed.
func (st *Station) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	if end := off + int64(len(p)); end > st.size || st.h == nil {
		n := end - st.size
		if n < st.grow {
			n = st.grow
		}
		err := st.Grow(n)
		if err != nil {
			return 0, err
		}
	}
	return st.h.WriteAt(p, off)
}

// ReadAt implements io.ReaderAt.
func (st *Station) ReadAt(p []byte, off int64) (int, error) {
	if st.h == nil {
		return st.f.ReadAt(p, off)
	}
	return st.h.ReadAt(p, off)
}

// Sync flushes the mapped region and the file to disk.
func (st *Station) Sync() error {
	if st.h != nil {
		err := st.h.Sync(st.h.Len())
		if err != nil {
			return fmt.Errorf("mmap: could not sync station: %w", err)
		}
	}
	return st.f.Sync()
}

// Truncate unmaps the station and sets the size of its file to n bytes.
func (st *Station) Truncate(n int64) error {
	if st.h != nil {
		err := st.h.Sync(st.h.Len())
		if err != nil {
			return fmt.Errorf("mmap: could not sync station: %w", err)
		}
		err = st.h.Close()
		st.h = nil
		if err != nil {
			return fmt.Errorf("mmap: could not unmap station: %w", err)
		}
	}
	err := st.f.Truncate(n)
	if err != nil {
		return fmt.Errorf("mmap: could not truncate station: %w", err)
	}
	st.size = n
	return nil
}

// Close unmaps the station. The station file is left open.
func (st *Station) Close() error {
	if st.h == nil {
		return nil
	}
	err := st.h.Close()
	st.h = nil
	return err
}

var (
	_ io.WriterAt = (*Station)(nil)
	_ io.ReaderAt = (*Station)(nil)
	_ io.Closer   = (*Station)(nil)
)
