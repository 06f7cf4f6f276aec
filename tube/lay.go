// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tube

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-lpc/daqtube/internal/mmap"
	"golang.org/x/sys/unix"
)

// Option configures a Tube.
type Option func(*config)

type config struct {
	msg    *log.Logger
	poll   time.Duration
	chunk  int
	ssize  int
	growth int64
	mmap   bool
	drain  bool
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "tube: ", 0),
		poll:  10 * time.Millisecond,
		chunk: 64 * 1024,
	}
}

// WithLogger sets the logger of the tube.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithPollInterval sets the interval at which an idle worker looks for
// new data and new commands.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.poll = d
		}
	}
}

// WithChunkSize sets the maximum number of bytes moved by one read/write
// cycle of the worker.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.chunk = n
		}
	}
}

// WithSampleSize sets the size in bytes of one record.
// By default, the sample size of the source is used, if it has one.
func WithSampleSize(n int) Option {
	return func(cfg *config) {
		cfg.ssize = n
	}
}

// WithGrowth makes the worker extend the destination by chunks of at
// least n bytes ahead of the write offset.
func WithGrowth(n int64) Option {
	return func(cfg *config) {
		cfg.growth = n
	}
}

// WithMmap makes tubes laid to a file write through a memory mapping of
// that file.
func WithMmap() Option {
	return func(cfg *config) {
		cfg.mmap = true
	}
}

// WithDrainOnStop makes the worker move the bytes the source holds when
// a stop is requested, before finalizing the destination.
func WithDrainOnStop() Option {
	return func(cfg *config) {
		cfg.drain = true
	}
}

// Tube is the descriptor of a transfer session.
type Tube struct {
	cfg config
	msg *log.Logger

	// set by the foreground before the tube is laid.
	src    Source
	subdev uint32
	dst    Sink
	file   *os.File

	// written by the worker.
	status  atomic.Uint32
	bytes   atomic.Int64
	records atomic.Int64
	state   atomic.Int32
	err     error

	setupErr error // written by the worker before ready is closed

	// written by the foreground.
	fg  sync.Mutex
	cmd atomic.Uint32

	laid  atomic.Bool
	ready chan struct{}
	done  chan struct{}
}

// New creates a tube moving data from src to dst.
func New(src Source, dst Sink, opts ...Option) *Tube {
	t := newTube(src, opts...)
	t.dst = dst
	return t
}

// ToFile creates a tube moving data from src to the file f.
// Data is written from the beginning of f, and f is truncated to the
// number of bytes moved once the tube is done.
func ToFile(src Source, f *os.File, opts ...Option) *Tube {
	t := newTube(src, opts...)
	t.file = f
	if f != nil {
		t.dst = f
	}
	return t
}

func newTube(src Source, opts ...Option) *Tube {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	t := &Tube{
		cfg:   cfg,
		msg:   cfg.msg,
		src:   src,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if src, ok := src.(interface{ Subdevice() uint32 }); ok {
		t.subdev = src.Subdevice()
	}
	return t
}

// Subdevice returns the index of the source subdevice, if any.
func (t *Tube) Subdevice() uint32 { return t.subdev }

// Lay checks the two ends of the tube, starts its worker and blocks until
// the worker is in place or has failed.
//
// Lay returns ErrBadSource or ErrBadDest when an end of the tube is not
// usable. In that case, no worker is started.
// Lay returns a *TransferError when the worker could not set up the
// destination.
func Lay(t *Tube) error {
	if t == nil {
		return fmt.Errorf("%w: nil tube", ErrBadSource)
	}
	if !t.laid.CompareAndSwap(false, true) {
		return errLaid
	}

	if err := checkSource(t.src); err != nil {
		t.laid.Store(false)
		return fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	if err := t.checkDest(); err != nil {
		t.laid.Store(false)
		return fmt.Errorf("%w: %v", ErrBadDest, err)
	}

	go t.run()
	<-t.ready

	// failures after the worker is in place are reported by Wait and Err.
	if t.setupErr != nil {
		return fmt.Errorf("tube: could not lay tube: %w", t.setupErr)
	}
	return nil
}

func checkFd(fd uintptr) error {
	_, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	return err
}

func checkSource(src Source) error {
	if src == nil {
		return fmt.Errorf("nil source")
	}
	if src, ok := src.(interface{ Fd() (uintptr, error) }); ok {
		fd, err := src.Fd()
		if err != nil {
			return err
		}
		return checkFd(fd)
	}
	return nil
}

func (t *Tube) checkDest() error {
	if t.dst == nil {
		return fmt.Errorf("nil destination")
	}
	if f, ok := t.dst.(interface{ Fd() uintptr }); ok {
		return checkFd(f.Fd())
	}
	return nil
}

// mapped reports whether the worker writes through a memory mapping.
func (t *Tube) mapped() bool { return t.cfg.mmap && t.file != nil }

// setup prepares the destination station of the worker.
func (t *Tube) setup() (Sink, func() error, error) {
	if !t.mapped() {
		return t.dst, func() error { return nil }, nil
	}
	st, err := mmap.NewStation(t.file, t.cfg.growth)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func (t *Tube) send(f func(cmd Cmd) Cmd) {
	t.fg.Lock()
	defer t.fg.Unlock()
	t.cmd.Store(uint32(f(Cmd(t.cmd.Load()))))
}

// Stop requests the worker to stop moving data and to finalize the
// destination. Stop does not wait for the worker.
func (t *Tube) Stop() {
	t.send(func(cmd Cmd) Cmd { return cmd | CmdStop })
}

// Pause requests the worker to stop moving data until Resume is called.
func (t *Tube) Pause() {
	t.send(func(cmd Cmd) Cmd { return cmd | CmdPause })
}

// Resume clears a previous Pause request.
func (t *Tube) Resume() {
	t.send(func(cmd Cmd) Cmd { return cmd &^ CmdPause })
}

// Warp enables or disables the publication of progress while data is
// moved. The final counters are always published.
func (t *Tube) Warp(v bool) {
	t.send(func(cmd Cmd) Cmd {
		if v {
			return cmd | CmdWarp
		}
		return cmd &^ CmdWarp
	})
}

// Command returns the current command word.
func (t *Tube) Command() Cmd { return Cmd(t.cmd.Load()) }

// Status returns the current status word.
func (t *Tube) Status() Status { return Status(t.status.Load()) }

// State returns the lifecycle stage of the tube.
func (t *Tube) State() State { return State(t.state.Load()) }

// BytesMoved returns the number of bytes written to the destination.
func (t *Tube) BytesMoved() int64 { return t.bytes.Load() }

// Records returns the number of complete samples written to the
// destination.
func (t *Tube) Records() int64 { return t.records.Load() }

// Done returns a channel closed when the worker has exited.
func (t *Tube) Done() <-chan struct{} { return t.done }

// Err returns the failure of the worker, once it has exited.
func (t *Tube) Err() error {
	if t.Status()&StatusExit == 0 {
		return nil
	}
	return t.err
}

// Wait blocks until the worker has exited or ctx is done.
func (t *Tube) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return fmt.Errorf("tube: could not wait for worker: %w", ctx.Err())
	}
}
