// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/daqtube/comedi"
	"github.com/go-lpc/daqtube/tube"
	"golang.org/x/sync/errgroup"
)

// ErrStop can be returned by a scan callback to end a read loop.
var ErrStop = errors.New("acq: stop acquisition")

// Option configures a Session.
type Option func(*config)

type config struct {
	msg   *log.Logger
	poll  time.Duration
	prog  func(Report)
	tube  []tube.Option
	clock func() time.Time
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "acq: ", 0),
		poll:  100 * time.Millisecond,
		clock: time.Now,
	}
}

// WithLogger sets the logger of the session and of its tubes.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithProgress sets a function called every freq with the current
// report of a running transfer, and once more when it is over.
func WithProgress(freq time.Duration, f func(Report)) Option {
	return func(cfg *config) {
		if freq > 0 {
			cfg.poll = freq
		}
		cfg.prog = f
	}
}

// WithTubeOptions appends options to the ones derived from the preset
// for each tube laid by the session.
func WithTubeOptions(opts ...tube.Option) Option {
	return func(cfg *config) {
		cfg.tube = append(cfg.tube, opts...)
	}
}

// Session is an acquisition on one subdevice of a device.
type Session struct {
	msg  *log.Logger
	dev  *comedi.Device
	cfg  Config
	opts config

	cal Calib
	cmd *comedi.Command

	mu    sync.RWMutex
	tube  *tube.Tube
	out   string
	start time.Time
	stop  time.Time
}

// NewSession creates an acquisition session on dev from the preset cfg.
// The channel list and the calibration of each channel are retrieved
// from the device.
func NewSession(dev *comedi.Device, cfg Config, opts ...Option) (*Session, error) {
	if dev == nil {
		return nil, fmt.Errorf("acq: nil device")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("acq: invalid config: %w", err)
	}

	sess := &Session{
		dev:  dev,
		cfg:  cfg,
		opts: newConfig(),
	}
	for _, opt := range opts {
		opt(&sess.opts)
	}
	sess.msg = sess.opts.msg

	oor, err := cfg.oor()
	if err != nil {
		return nil, err
	}

	specs, err := cfg.Chanlist()
	if err != nil {
		return nil, err
	}

	ssize, err := dev.SampleSize(cfg.Subdev)
	if err != nil {
		return nil, fmt.Errorf("acq: could not get sample size: %w", err)
	}

	sess.cal = Calib{
		SampleSize: ssize,
		OOR:        oor,
		Channels:   make([]ChannelCalib, len(specs)),
	}
	for i, spec := range specs {
		rng, err := dev.Range(cfg.Subdev, spec.Chan(), spec.Range())
		if err != nil {
			return nil, fmt.Errorf("acq: could not get range of channel #%d: %w", i, err)
		}
		maxdata, err := dev.MaxData(cfg.Subdev, spec.Chan())
		if err != nil {
			return nil, fmt.Errorf("acq: could not get maxdata of channel #%d: %w", i, err)
		}
		sess.cal.Channels[i] = ChannelCalib{
			Spec:    spec,
			Range:   rng,
			MaxData: maxdata,
		}
	}

	return sess, nil
}

// Device returns the device of the session.
func (sess *Session) Device() *comedi.Device { return sess.dev }

// Config returns the preset of the session.
func (sess *Session) Config() Config { return sess.cfg }

// Calib returns the calibration of the acquired channels.
func (sess *Session) Calib() Calib { return sess.cal }

// Command returns the prepared command, if any.
func (sess *Session) Command() *comedi.Command { return sess.cmd }

// Prepare builds the timed command of the acquisition: one scan every
// PeriodNS nanoseconds over the channel list, stopping after Scans scans
// (or never, for continuous acquisitions).
func (sess *Session) Prepare() error {
	var (
		nchans = uint32(len(sess.cal.Channels))
		specs  = make([]comedi.ChanSpec, nchans)
	)
	for i, ch := range sess.cal.Channels {
		specs[i] = ch.Spec
	}

	cmd, err := sess.dev.GenericTimedCommand(sess.cfg.Subdev, nchans, sess.cfg.PeriodNS)
	if err != nil {
		return fmt.Errorf("acq: could not prepare command: %w", err)
	}
	cmd.SetChanlist(specs)

	switch {
	case sess.cfg.Scans > 0:
		cmd.StopSrc = comedi.TrigCount
		cmd.StopArg = sess.cfg.Scans
	default:
		cmd.StopSrc = comedi.TrigNone
		cmd.StopArg = 0
	}

	sess.cmd = cmd
	return nil
}

// Arm runs the two validation passes of the command and starts the
// acquisition. Arm prepares the command first if needed.
func (sess *Session) Arm() error {
	if sess.cmd == nil {
		if err := sess.Prepare(); err != nil {
			return err
		}
	}

	first, second, err := comedi.Negotiate(sess.dev, sess.cmd)
	sess.msg.Printf("first test returned %d (%v)", int(first), first)
	if err != nil {
		if res, ok := comedi.ValidationResult(err); ok {
			sess.msg.Printf("second test returned %d (%v)", int(res), res)
		}
		return fmt.Errorf("acq: could not validate command: %w", err)
	}
	sess.msg.Printf("second test returned %d (%v)", int(second), second)

	err = sess.dev.Arm(sess.cmd)
	if err != nil {
		return fmt.Errorf("acq: could not arm command: %w", err)
	}
	return nil
}

// ReadScans reads the armed acquisition synchronously until it is over,
// converting each scan to physical values.
// When w is not nil, one row per scan is printed to w.
// When f is not nil, it is called with each scan. If f returns ErrStop,
// the acquisition is cancelled and ReadScans returns without error.
//
// ReadScans returns the number of complete scans read.
func (sess *Session) ReadScans(w io.Writer, f func(scan []float64) error) (int64, error) {
	stream, err := sess.dev.Stream(sess.cfg.Subdev)
	if err != nil {
		return 0, fmt.Errorf("acq: could not open stream: %w", err)
	}

	var (
		dec  = NewDecoder(stream, sess.cal)
		scan = make([]float64, len(sess.cal.Channels))
		n    int64
	)
	for {
		err := dec.Decode(scan)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("acq: could not read scan %d: %w", n, err)
		}
		n++

		if w != nil {
			err = writeScan(w, scan)
			if err != nil {
				return n, fmt.Errorf("acq: could not write scan %d: %w", n-1, err)
			}
		}

		if f != nil {
			err = f(scan)
			switch {
			case errors.Is(err, ErrStop):
				if err := stream.Cancel(); err != nil {
					return n, fmt.Errorf("acq: could not cancel acquisition: %w", err)
				}
				return n, nil
			case err != nil:
				return n, err
			}
		}
	}
}

func writeScan(w io.Writer, scan []float64) error {
	for _, v := range scan {
		_, err := fmt.Fprintf(w, "%#8.6g ", v)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n")
	return err
}

func (sess *Session) tubeOptions() []tube.Option {
	tc := sess.cfg.Tube
	opts := []tube.Option{
		tube.WithLogger(sess.msg),
		tube.WithSampleSize(sess.cal.SampleSize),
	}
	if tc.Chunk > 0 {
		opts = append(opts, tube.WithChunkSize(tc.Chunk))
	}
	if tc.Growth > 0 {
		opts = append(opts, tube.WithGrowth(tc.Growth))
	}
	if tc.Mmap {
		opts = append(opts, tube.WithMmap())
	}
	if tc.Drain {
		opts = append(opts, tube.WithDrainOnStop())
	}
	return append(opts, sess.opts.tube...)
}

// StreamToFile hands the armed acquisition to a tube writing to f and
// waits until the tube has exited.
// Cancelling ctx stops the tube; the data moved so far is kept in f and
// the acquisition is cancelled.
//
// StreamToFile returns the final report of the transfer. The error is
// the failure of the tube, if any.
func (sess *Session) StreamToFile(ctx context.Context, f *os.File) (Report, error) {
	stream, err := sess.dev.Stream(sess.cfg.Subdev)
	if err != nil {
		return Report{}, fmt.Errorf("acq: could not open stream: %w", err)
	}

	tb := tube.ToFile(stream, f, sess.tubeOptions()...)
	err = tube.Lay(tb)
	if err != nil {
		return Report{}, fmt.Errorf("acq: could not lay tube: %w", err)
	}

	sess.mu.Lock()
	sess.tube = tb
	sess.start = sess.opts.clock()
	sess.stop = time.Time{}
	if f != nil {
		sess.out = f.Name()
	}
	sess.mu.Unlock()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		select {
		case <-ctx.Done():
			tb.Stop()
		case <-tb.Done():
		}
		return nil
	})
	grp.Go(func() error {
		tick := time.NewTicker(sess.opts.poll)
		defer tick.Stop()
		for !tb.Status().Has(tube.StatusExit) {
			select {
			case <-tb.Done():
			case <-tick.C:
				if sess.opts.prog != nil {
					sess.opts.prog(sess.Report())
				}
			}
		}
		return tb.Err()
	})

	err = grp.Wait()

	sess.mu.Lock()
	sess.stop = sess.opts.clock()
	sess.mu.Unlock()

	if e := stream.Cancel(); e != nil {
		sess.msg.Printf("could not cancel acquisition: %+v", e)
	}

	rep := sess.Report()
	if sess.opts.prog != nil {
		sess.opts.prog(rep)
	}
	if err != nil {
		return rep, fmt.Errorf("acq: could not stream to %q: %w", rep.Output, err)
	}
	return rep, nil
}

// Tube returns the tube of the last transfer, if any.
func (sess *Session) Tube() *tube.Tube {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.tube
}

// Stop requests the running tube, if any, to stop.
// Stop reports whether a tube was running.
func (sess *Session) Stop() bool {
	return sess.send(func(tb *tube.Tube) { tb.Stop() })
}

// Pause requests the running tube, if any, to stop moving data.
func (sess *Session) Pause() bool {
	return sess.send(func(tb *tube.Tube) { tb.Pause() })
}

// Resume clears a previous Pause.
func (sess *Session) Resume() bool {
	return sess.send(func(tb *tube.Tube) { tb.Resume() })
}

func (sess *Session) send(f func(tb *tube.Tube)) bool {
	tb := sess.Tube()
	if tb == nil || tb.Status().Has(tube.StatusExit) {
		return false
	}
	f(tb)
	return true
}

// Report returns the state of the last transfer.
func (sess *Session) Report() Report {
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	rep := Report{
		Name:   sess.cfg.Name,
		Device: sess.dev.Path(),
		Subdev: sess.cfg.Subdev,
		Output: sess.out,
		Start:  sess.start,
	}
	if sess.tube == nil {
		return rep
	}

	rep.Bytes = sess.tube.BytesMoved()
	rep.Records = sess.tube.Records()
	rep.Scans = rep.Records / int64(len(sess.cal.Channels))
	rep.Status = sess.tube.Status()
	rep.State = sess.tube.State()
	rep.Err = sess.tube.Err()
	switch {
	case !sess.stop.IsZero():
		rep.Elapsed = sess.stop.Sub(sess.start)
	default:
		rep.Elapsed = sess.opts.clock().Sub(sess.start)
	}
	return rep
}

// Report describes the progress or the outcome of a transfer.
type Report struct {
	Name    string
	Device  string
	Subdev  uint32
	Output  string
	Start   time.Time
	Elapsed time.Duration

	Bytes   int64
	Records int64
	Scans   int64
	Status  tube.Status
	State   tube.State
	Err     error
}

func (rep Report) String() string {
	return fmt.Sprintf(
		"%s[%d] -> %q: %d bytes, %d records, %d scans in %v (status=%v)",
		rep.Device, rep.Subdev, rep.Output,
		rep.Bytes, rep.Records, rep.Scans, rep.Elapsed, rep.Status,
	)
}
