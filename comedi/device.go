// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Option configures a Device.
type Option func(*config)

type config struct {
	msg *log.Logger
	oor OORBehavior
	sim []SimOption
}

func newConfig() config {
	return config{
		msg: log.New(os.Stdout, "comedi: ", 0),
		oor: OORNaN,
	}
}

// WithLogger sets the logger used by the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithOOR sets the initial out-of-range behavior of the device.
func WithOOR(oor OORBehavior) Option {
	return func(cfg *config) {
		cfg.oor = oor
	}
}

// WithSimOptions configures the simulated board opened with a "sim:" path.
func WithSimOptions(opts ...SimOption) Option {
	return func(cfg *config) {
		cfg.sim = append(cfg.sim, opts...)
	}
}

// SimPrefix is the path prefix selecting the simulated board.
const SimPrefix = "sim:"

// openNative opens a device through the native comedilib backend.
// It is replaced by the cgo backend when built with the "comedi" tag.
var openNative = func(path string) (Driver, error) {
	return nil, errNoNative
}

// Device is an open COMEDI device.
type Device struct {
	msg  *log.Logger
	path string

	mu  sync.RWMutex
	drv Driver
	oor OORBehavior
}

// Open opens the device located at path.
// Paths starting with "sim:" open a simulated board.
func Open(path string, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		drv Driver
		err error
	)
	switch {
	case strings.HasPrefix(path, SimPrefix):
		drv, err = newSim(strings.TrimPrefix(path, SimPrefix), cfg.sim...)
	default:
		drv, err = openNative(path)
	}
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Kind: OpenFailed, Err: err}
	}

	return newDevice(path, drv, cfg), nil
}

// OpenDriver wraps an already opened driver into a Device.
func OpenDriver(path string, drv Driver, opts ...Option) (*Device, error) {
	if drv == nil {
		return nil, &Error{
			Op: "open", Path: path, Kind: OpenFailed,
			Err: fmt.Errorf("nil driver"),
		}
	}
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newDevice(path, drv, cfg), nil
}

func newDevice(path string, drv Driver, cfg config) *Device {
	return &Device{
		msg:  cfg.msg,
		path: path,
		drv:  drv,
		oor:  cfg.oor,
	}
}

// Path returns the path the device was opened with.
func (dev *Device) Path() string { return dev.path }

// Driver returns the underlying driver.
func (dev *Device) Driver() Driver { return dev.load() }

func (dev *Device) load() Driver {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return dev.drv
}

// Close closes the device.
// Calls on a closed device, including reads of a running stream, return
// an error.
func (dev *Device) Close() error {
	dev.mu.Lock()
	drv := dev.drv
	dev.drv = nil
	dev.mu.Unlock()

	if drv == nil {
		return nil
	}
	err := drv.Close()
	if err != nil {
		return &Error{Op: "close", Path: dev.path, Kind: QueryFailed, Err: err}
	}
	return nil
}

func (dev *Device) err(op string, kind Kind, err error) error {
	return &Error{Op: op, Path: dev.path, Kind: kind, Err: err}
}

func (dev *Device) driver(op string, kind Kind) (Driver, error) {
	drv := dev.load()
	if drv == nil {
		return nil, dev.err(op, kind, errClosed)
	}
	return drv, nil
}

func (dev *Device) BoardName() string {
	drv := dev.load()
	if drv == nil {
		return ""
	}
	return drv.BoardName()
}

func (dev *Device) DriverName() string {
	drv := dev.load()
	if drv == nil {
		return ""
	}
	return drv.DriverName()
}

func (dev *Device) NumSubdevices() int {
	drv := dev.load()
	if drv == nil {
		return 0
	}
	return drv.NumSubdevices()
}

func (dev *Device) NumChannels(subdev uint32) (int, error) {
	drv, err := dev.driver("get_n_channels", QueryFailed)
	if err != nil {
		return 0, err
	}
	n, err := drv.NumChannels(subdev)
	if err != nil {
		return 0, dev.err("get_n_channels", QueryFailed, err)
	}
	return n, nil
}

func (dev *Device) NumRanges(subdev, ch uint32) (int, error) {
	drv, err := dev.driver("get_n_ranges", QueryFailed)
	if err != nil {
		return 0, err
	}
	n, err := drv.NumRanges(subdev, ch)
	if err != nil {
		return 0, dev.err("get_n_ranges", QueryFailed, err)
	}
	return n, nil
}

func (dev *Device) SubdeviceType(subdev uint32) (SubdevType, error) {
	drv, err := dev.driver("get_subdevice_type", QueryFailed)
	if err != nil {
		return 0, err
	}
	typ, err := drv.SubdeviceType(subdev)
	if err != nil {
		return 0, dev.err("get_subdevice_type", QueryFailed, err)
	}
	return typ, nil
}

// SubdeviceFlags returns the current flags of the subdevice.
func (dev *Device) SubdeviceFlags(subdev uint32) (SubdevFlags, error) {
	drv, err := dev.driver("get_subdevice_flags", QueryFailed)
	if err != nil {
		return 0, err
	}
	flags, err := drv.SubdeviceFlags(subdev)
	if err != nil {
		return 0, dev.err("get_subdevice_flags", QueryFailed, err)
	}
	return flags, nil
}

// SampleSize returns the size in bytes of one sample of the subdevice.
func (dev *Device) SampleSize(subdev uint32) (int, error) {
	flags, err := dev.SubdeviceFlags(subdev)
	if err != nil {
		return 0, err
	}
	return flags.SampleSize(), nil
}

// DataRead reads one sample from the channel of a subdevice.
// DataRead blocks until the conversion completes.
func (dev *Device) DataRead(subdev, ch, rng uint32, aref ARef) (Sample, error) {
	drv, err := dev.driver("data_read", ReadFailed)
	if err != nil {
		return 0, err
	}
	v, err := drv.DataRead(subdev, ch, rng, aref)
	if err != nil {
		return 0, dev.err("data_read", ReadFailed, err)
	}
	return v, nil
}

// Range returns the physical span of the range rng of a channel.
func (dev *Device) Range(subdev, ch, rng uint32) (Range, error) {
	drv, err := dev.driver("get_range", QueryFailed)
	if err != nil {
		return Range{}, err
	}
	r, err := drv.Range(subdev, ch, rng)
	if err != nil {
		return Range{}, dev.err("get_range", QueryFailed, err)
	}
	return r, nil
}

// MaxData returns the maximum raw code of a channel.
func (dev *Device) MaxData(subdev, ch uint32) (Sample, error) {
	drv, err := dev.driver("get_maxdata", QueryFailed)
	if err != nil {
		return 0, err
	}
	v, err := drv.MaxData(subdev, ch)
	if err != nil {
		return 0, dev.err("get_maxdata", QueryFailed, err)
	}
	return v, nil
}

// OORBehavior returns the out-of-range policy of the device.
func (dev *Device) OORBehavior() OORBehavior {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return dev.oor
}

// SetOORBehavior sets the out-of-range policy of the device and returns
// the previous one.
func (dev *Device) SetOORBehavior(oor OORBehavior) OORBehavior {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	old := dev.oor
	dev.oor = oor
	return old
}

// ToPhys converts raw into a physical value using the device policy.
func (dev *Device) ToPhys(raw Sample, rng Range, maxdata Sample) float64 {
	return ToPhys(raw, rng, maxdata, dev.OORBehavior())
}

// GenericTimedCommand returns a driver-suggested command streaming nchans
// channels of subdev every periodNS nanoseconds.
func (dev *Device) GenericTimedCommand(subdev, nchans, periodNS uint32) (*Command, error) {
	drv, err := dev.driver("get_cmd_generic_timed", CommandBuildFailed)
	if err != nil {
		return nil, err
	}
	cmd := &Command{Subdev: subdev}
	err = drv.GenericTimed(subdev, cmd, nchans, periodNS)
	if err != nil {
		return nil, dev.err("get_cmd_generic_timed", CommandBuildFailed, err)
	}
	cmd.Subdev = subdev
	return cmd, nil
}

// TestCommand runs one validation pass of cmd.
// The driver may rewrite fields of cmd to values it supports.
// A non-Success result is not an error: it is reported as the returned
// TestResult.
func (dev *Device) TestCommand(cmd *Command) (TestResult, error) {
	drv, err := dev.driver("command_test", CommandValidationFailed)
	if err != nil {
		return 0, err
	}
	if cmd == nil {
		return 0, dev.err("command_test", CommandValidationFailed, fmt.Errorf("nil command"))
	}
	res, err := drv.CommandTest(cmd)
	if err != nil {
		cmd.last = tested{}
		return res, &Error{
			Op: "command_test", Path: dev.path,
			Kind: CommandValidationFailed, Result: res, Err: err,
		}
	}
	cmd.last = tested{passes: cmd.last.passes + 1, res: res}
	return res, nil
}

// Arm starts the acquisition described by cmd.
// cmd must have gone through two validation passes, the last one with
// a Success result.
func (dev *Device) Arm(cmd *Command) error {
	drv, err := dev.driver("command", ArmFailed)
	if err != nil {
		return err
	}
	switch {
	case cmd == nil:
		return dev.err("command", ArmFailed, fmt.Errorf("nil command"))
	case int(cmd.ChanlistLen) != len(cmd.Chanlist):
		return dev.err("command", ArmFailed, fmt.Errorf(
			"chanlist length mismatch (len=%d, chanlist_len=%d)",
			len(cmd.Chanlist), cmd.ChanlistLen,
		))
	case !cmd.Validated():
		return dev.err("command", ArmFailed, errNotValidated)
	}

	err = drv.Command(cmd)
	if err != nil {
		return dev.err("command", ArmFailed, err)
	}
	return nil
}

// Cancel stops any acquisition running on the subdevice.
func (dev *Device) Cancel(subdev uint32) error {
	drv, err := dev.driver("cancel", QueryFailed)
	if err != nil {
		return err
	}
	err = drv.Cancel(subdev)
	if err != nil {
		return dev.err("cancel", QueryFailed, err)
	}
	return nil
}

// BufferSize returns the size in bytes of the ring buffer of subdev.
func (dev *Device) BufferSize(subdev uint32) (int, error) {
	drv, err := dev.driver("get_buffer_size", QueryFailed)
	if err != nil {
		return 0, err
	}
	n, err := drv.BufferSize(subdev)
	if err != nil {
		return 0, dev.err("get_buffer_size", QueryFailed, err)
	}
	return n, nil
}

// BufferContents returns the number of bytes available in the ring buffer
// of subdev.
func (dev *Device) BufferContents(subdev uint32) (int, error) {
	drv, err := dev.driver("get_buffer_contents", QueryFailed)
	if err != nil {
		return 0, err
	}
	n, err := drv.BufferContents(subdev)
	if err != nil {
		return 0, dev.err("get_buffer_contents", QueryFailed, err)
	}
	return n, nil
}

// MarkBufferRead acknowledges n bytes of the ring buffer of subdev.
func (dev *Device) MarkBufferRead(subdev uint32, n int) (int, error) {
	drv, err := dev.driver("mark_buffer_read", QueryFailed)
	if err != nil {
		return 0, err
	}
	n, err = drv.MarkBufferRead(subdev, n)
	if err != nil {
		return 0, dev.err("mark_buffer_read", QueryFailed, err)
	}
	return n, nil
}

// Read reads raw sample bytes from the data stream of the device.
func (dev *Device) Read(p []byte) (int, error) {
	drv, err := dev.driver("read", ReadFailed)
	if err != nil {
		return 0, err
	}
	n, err := drv.Read(p)
	switch err {
	case nil, io.EOF:
		return n, err
	default:
		return n, dev.err("read", ReadFailed, err)
	}
}

// Fileno returns the file descriptor of the data stream of the device.
func (dev *Device) Fileno() (uintptr, error) {
	drv, err := dev.driver("fileno", QueryFailed)
	if err != nil {
		return 0, err
	}
	fd, err := drv.Fileno()
	if err != nil {
		return 0, dev.err("fileno", QueryFailed, err)
	}
	return fd, nil
}

// Stream returns the data stream of an armed subdevice.
func (dev *Device) Stream(subdev uint32) (*Stream, error) {
	flags, err := dev.SubdeviceFlags(subdev)
	if err != nil {
		return nil, err
	}
	if flags&SDFCmd == 0 {
		return nil, dev.err("stream", QueryFailed, fmt.Errorf(
			"subdevice %d does not support commands", subdev,
		))
	}
	return &Stream{dev: dev, subdev: subdev, size: flags.SampleSize()}, nil
}
