// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo && comedi

package comedi

//#cgo LDFLAGS: -lcomedi -lm
//
//#include <stdlib.h>
//#include <comedilib.h>
//
//static const char *comedi_last_error(void) {
//  return comedi_strerror(comedi_errno());
//}
import "C"

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	openNative = openCDriver
}

type cdriver struct {
	dev *C.comedi_t
}

func cerr() error {
	return errors.New(C.GoString(C.comedi_last_error()))
}

func openCDriver(path string) (Driver, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	dev := C.comedi_open(cpath)
	if dev == nil {
		return nil, cerr()
	}
	return &cdriver{dev: dev}, nil
}

func (drv *cdriver) Close() error {
	if drv.dev == nil {
		return nil
	}
	rc := C.comedi_close(drv.dev)
	drv.dev = nil
	if rc < 0 {
		return cerr()
	}
	return nil
}

func (drv *cdriver) BoardName() string {
	return C.GoString(C.comedi_get_board_name(drv.dev))
}

func (drv *cdriver) DriverName() string {
	return C.GoString(C.comedi_get_driver_name(drv.dev))
}

func (drv *cdriver) NumSubdevices() int {
	return int(C.comedi_get_n_subdevices(drv.dev))
}

func (drv *cdriver) NumChannels(subdev uint32) (int, error) {
	rc := C.comedi_get_n_channels(drv.dev, C.uint(subdev))
	if rc < 0 {
		return 0, cerr()
	}
	return int(rc), nil
}

func (drv *cdriver) NumRanges(subdev, ch uint32) (int, error) {
	rc := C.comedi_get_n_ranges(drv.dev, C.uint(subdev), C.uint(ch))
	if rc < 0 {
		return 0, cerr()
	}
	return int(rc), nil
}

func (drv *cdriver) SubdeviceType(subdev uint32) (SubdevType, error) {
	rc := C.comedi_get_subdevice_type(drv.dev, C.uint(subdev))
	if rc < 0 {
		return 0, cerr()
	}
	return SubdevType(rc), nil
}

func (drv *cdriver) SubdeviceFlags(subdev uint32) (SubdevFlags, error) {
	rc := C.comedi_get_subdevice_flags(drv.dev, C.uint(subdev))
	if rc < 0 {
		return 0, cerr()
	}
	return SubdevFlags(rc), nil
}

func (drv *cdriver) DataRead(subdev, ch, rng uint32, aref ARef) (Sample, error) {
	var v C.lsampl_t
	rc := C.comedi_data_read(drv.dev, C.uint(subdev), C.uint(ch), C.uint(rng), C.uint(aref), &v)
	if rc < 0 {
		return 0, cerr()
	}
	return Sample(v), nil
}

func (drv *cdriver) Range(subdev, ch, rng uint32) (Range, error) {
	r := C.comedi_get_range(drv.dev, C.uint(subdev), C.uint(ch), C.uint(rng))
	if r == nil {
		return Range{}, cerr()
	}
	return Range{Min: float64(r.min), Max: float64(r.max), Unit: Unit(r.unit)}, nil
}

func (drv *cdriver) MaxData(subdev, ch uint32) (Sample, error) {
	v := C.comedi_get_maxdata(drv.dev, C.uint(subdev), C.uint(ch))
	if v == 0 {
		return 0, cerr()
	}
	return Sample(v), nil
}

func (drv *cdriver) GenericTimed(subdev uint32, cmd *Command, nchans, periodNS uint32) error {
	var c C.comedi_cmd
	rc := C.comedi_get_cmd_generic_timed(drv.dev, C.uint(subdev), &c, C.uint(nchans), C.uint(periodNS))
	if rc < 0 {
		return cerr()
	}
	fromC(cmd, &c)
	cmd.ChanlistLen = nchans
	return nil
}

func (drv *cdriver) CommandTest(cmd *Command) (TestResult, error) {
	c, free := toC(cmd)
	defer free()

	rc := C.comedi_command_test(drv.dev, c)
	if rc < 0 {
		return 0, cerr()
	}
	fromC(cmd, c)
	return TestResult(rc), nil
}

func (drv *cdriver) Command(cmd *Command) error {
	c, free := toC(cmd)
	defer free()

	rc := C.comedi_command(drv.dev, c)
	if rc < 0 {
		return cerr()
	}
	return nil
}

func (drv *cdriver) Cancel(subdev uint32) error {
	rc := C.comedi_cancel(drv.dev, C.uint(subdev))
	if rc < 0 {
		return cerr()
	}
	return nil
}

func (drv *cdriver) BufferSize(subdev uint32) (int, error) {
	rc := C.comedi_get_buffer_size(drv.dev, C.uint(subdev))
	if rc < 0 {
		return 0, cerr()
	}
	return int(rc), nil
}

func (drv *cdriver) BufferContents(subdev uint32) (int, error) {
	rc := C.comedi_get_buffer_contents(drv.dev, C.uint(subdev))
	if rc < 0 {
		return 0, cerr()
	}
	return int(rc), nil
}

func (drv *cdriver) MarkBufferRead(subdev uint32, n int) (int, error) {
	rc := C.comedi_mark_buffer_read(drv.dev, C.uint(subdev), C.uint(n))
	if rc < 0 {
		return 0, cerr()
	}
	return int(rc), nil
}

func (drv *cdriver) Read(p []byte) (int, error) {
	fd, err := drv.Fileno()
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(int(fd), p)
	switch {
	case err != nil:
		return 0, fmt.Errorf("read: %w", err)
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (drv *cdriver) Fileno() (uintptr, error) {
	fd := C.comedi_fileno(drv.dev)
	if fd < 0 {
		return 0, cerr()
	}
	return uintptr(fd), nil
}

// toC copies cmd into C memory, chanlist included.
func toC(cmd *Command) (*C.comedi_cmd, func()) {
	c := (*C.comedi_cmd)(C.calloc(1, C.size_t(unsafe.Sizeof(C.comedi_cmd{}))))
	c.subdev = C.uint(cmd.Subdev)
	c.flags = C.uint(cmd.Flags)
	c.start_src = C.uint(cmd.StartSrc)
	c.start_arg = C.uint(cmd.StartArg)
	c.scan_begin_src = C.uint(cmd.ScanBeginSrc)
	c.scan_begin_arg = C.uint(cmd.ScanBeginArg)
	c.convert_src = C.uint(cmd.ConvertSrc)
	c.convert_arg = C.uint(cmd.ConvertArg)
	c.scan_end_src = C.uint(cmd.ScanEndSrc)
	c.scan_end_arg = C.uint(cmd.ScanEndArg)
	c.stop_src = C.uint(cmd.StopSrc)
	c.stop_arg = C.uint(cmd.StopArg)
	c.chanlist_len = C.uint(cmd.ChanlistLen)

	if n := len(cmd.Chanlist); n > 0 {
		c.chanlist = (*C.uint)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(C.uint(0)))))
		specs := unsafe.Slice(c.chanlist, n)
		for i, cs := range cmd.Chanlist {
			specs[i] = C.uint(cs)
		}
	}

	return c, func() {
		if c.chanlist != nil {
			C.free(unsafe.Pointer(c.chanlist))
		}
		C.free(unsafe.Pointer(c))
	}
}

func fromC(cmd *Command, c *C.comedi_cmd) {
	cmd.Subdev = uint32(c.subdev)
	cmd.Flags = uint32(c.flags)
	cmd.StartSrc = TrigSrc(c.start_src)
	cmd.StartArg = uint32(c.start_arg)
	cmd.ScanBeginSrc = TrigSrc(c.scan_begin_src)
	cmd.ScanBeginArg = uint32(c.scan_begin_arg)
	cmd.ConvertSrc = TrigSrc(c.convert_src)
	cmd.ConvertArg = uint32(c.convert_arg)
	cmd.ScanEndSrc = TrigSrc(c.scan_end_src)
	cmd.ScanEndArg = uint32(c.scan_end_arg)
	cmd.StopSrc = TrigSrc(c.stop_src)
	cmd.StopArg = uint32(c.stop_arg)
}

var _ Driver = (*cdriver)(nil)
