// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

// Driver is the capability set of a COMEDI driver backend.
//
// Methods follow the native conventions: an error is returned whenever the
// native call reports a failure (negative return code).
type Driver interface {
	Close() error

	BoardName() string
	DriverName() string
	NumSubdevices() int
	NumChannels(subdev uint32) (int, error)
	NumRanges(subdev, ch uint32) (int, error)
	SubdeviceType(subdev uint32) (SubdevType, error)
	SubdeviceFlags(subdev uint32) (SubdevFlags, error)

	DataRead(subdev, ch, rng uint32, aref ARef) (Sample, error)
	Range(subdev, ch, rng uint32) (Range, error)
	MaxData(subdev, ch uint32) (Sample, error)

	// GenericTimed fills cmd with a driver-suggested skeleton streaming
	// nchans channels with a scan period of periodNS nanoseconds.
	GenericTimed(subdev uint32, cmd *Command, nchans, periodNS uint32) error
	// CommandTest validates cmd, possibly rewriting some of its fields.
	CommandTest(cmd *Command) (TestResult, error)
	// Command arms cmd.
	Command(cmd *Command) error
	Cancel(subdev uint32) error

	BufferSize(subdev uint32) (int, error)
	BufferContents(subdev uint32) (int, error)
	MarkBufferRead(subdev uint32, n int) (int, error)

	// Read reads raw sample bytes from the data stream of the device.
	// Read returns io.EOF once an armed command has completed and
	// its data has been consumed.
	Read(p []byte) (int, error)
	Fileno() (uintptr, error)
}
