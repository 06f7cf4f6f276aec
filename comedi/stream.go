// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import "io"

// Stream is the data stream of a subdevice running a command.
type Stream struct {
	dev    *Device
	subdev uint32
	size   int
}

// Subdevice returns the index of the streaming subdevice.
func (s *Stream) Subdevice() uint32 { return s.subdev }

// SampleSize returns the size in bytes of one sample of the stream.
func (s *Stream) SampleSize() int { return s.size }

// Fd returns the file descriptor of the device data stream.
func (s *Stream) Fd() (uintptr, error) { return s.dev.Fileno() }

// BufferSize returns the capacity in bytes of the ring buffer.
func (s *Stream) BufferSize() (int, error) { return s.dev.BufferSize(s.subdev) }

// Buffered returns the number of bytes that can be read without blocking.
// Buffered returns io.EOF once the acquisition is over and all of its data
// has been consumed.
func (s *Stream) Buffered() (int, error) {
	n, err := s.dev.BufferContents(s.subdev)
	if err != nil || n > 0 {
		return n, err
	}

	flags, err := s.dev.SubdeviceFlags(s.subdev)
	if err != nil {
		return 0, err
	}
	if flags&SDFRunning != 0 {
		return 0, nil
	}

	// the command may have completed between both queries.
	n, err = s.dev.BufferContents(s.subdev)
	if err != nil || n > 0 {
		return n, err
	}
	return 0, io.EOF
}

// Read reads raw sample bytes from the stream.
func (s *Stream) Read(p []byte) (int, error) {
	return s.dev.Read(p)
}

// Discard drops n bytes from the ring buffer.
func (s *Stream) Discard(n int) (int, error) {
	return s.dev.MarkBufferRead(s.subdev, n)
}

// Cancel stops the acquisition.
func (s *Stream) Cancel() error {
	return s.dev.Cancel(s.subdev)
}
