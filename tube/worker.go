// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tube

import (
	"errors"
	"io"
	"time"
)

type next int

const (
	more next = iota
	stop
	eof
)

// worker holds the state private to the worker goroutine.
type worker struct {
	t     *Tube
	src   Source
	dst   Sink
	buf   []byte
	ssize int64

	off   int64 // bytes moved
	grow  int64 // preallocation step, 0 when the destination grows itself
	alloc int64 // bytes allocated in the destination
	st    Status
	warp  bool
}

func (w *worker) publish() {
	w.t.status.Store(uint32(w.st))
}

func (w *worker) set(v Status) {
	if w.st&v == v {
		return
	}
	w.st |= v
	if !w.warp {
		w.publish()
	}
}

func (w *worker) clear(v Status) {
	if w.st&v == 0 {
		return
	}
	w.st &^= v
	if !w.warp {
		w.publish()
	}
}

func (w *worker) progress() {
	w.t.bytes.Store(w.off)
	w.t.records.Store(w.off / w.ssize)
}

func (w *worker) command() Cmd {
	cmd := w.t.Command()
	w.warp = cmd&CmdWarp != 0
	return cmd
}

func (t *Tube) sampleSize() int64 {
	n := t.cfg.ssize
	if n <= 0 {
		if src, ok := t.src.(interface{ SampleSize() int }); ok {
			n = src.SampleSize()
		}
	}
	if n <= 0 {
		n = 1
	}
	return int64(n)
}

func (t *Tube) run() {
	defer close(t.done)

	dst, closeDst, err := t.setup()
	if err != nil {
		t.err = &TransferError{Kind: DestinationError, Err: err}
		t.setupErr = t.err
		t.msg.Printf("could not set up destination: %+v", err)
		t.state.Store(int32(Finished))
		t.status.Store(uint32(StatusFailed | StatusDstFailed))
		close(t.ready)
		t.status.Store(uint32(StatusFailed | StatusDstFailed | StatusExit))
		return
	}

	ssize := t.sampleSize()
	chunk := t.cfg.chunk - t.cfg.chunk%int(ssize)
	if chunk <= 0 {
		chunk = int(ssize)
	}
	w := &worker{
		t:     t,
		src:   t.src,
		dst:   dst,
		buf:   make([]byte, chunk),
		ssize: ssize,
		st:    StatusInPlace,
	}
	if !t.mapped() {
		w.grow = t.cfg.growth
	}
	t.state.Store(int32(Running))
	w.publish()
	close(t.ready)

	var srcErr, dstErr error
	stopped := false
loop:
	for {
		cmd := w.command()
		switch {
		case cmd&CmdStop != 0:
			stopped = true
			break loop
		case cmd&CmdPause != 0:
			w.set(StatusWait)
			time.Sleep(t.cfg.poll)
			continue
		}

		n, err := w.src.Buffered()
		n = w.whole(n)
		switch {
		case errors.Is(err, io.EOF):
			break loop
		case err != nil:
			srcErr = err
			break loop
		case n == 0:
			w.set(StatusWait)
			time.Sleep(t.cfg.poll)
			continue
		}

		w.clear(StatusWait)
		nxt, err := w.move(n, true)
		if err != nil {
			srcErr, dstErr = split(err)
			break loop
		}
		switch nxt {
		case stop:
			stopped = true
			break loop
		case eof:
			break loop
		}
	}

	if stopped {
		t.state.Store(int32(StopRequested))
	}
	t.state.Store(int32(Finalizing))

	if stopped && t.cfg.drain {
		n, err := w.src.Buffered()
		n = w.whole(n)
		switch {
		case err == nil && n > 0:
			_, err = w.move(n, false)
			srcErr, dstErr = split(err)
		case err != nil && !errors.Is(err, io.EOF):
			srcErr = err
		}
	}

	finErr := w.finalize(closeDst)

	w.warp = false
	w.progress()
	w.st &^= StatusWait
	switch {
	case srcErr != nil:
		w.st |= StatusFailed | StatusSrcFailed
		t.err = &TransferError{Kind: SourceError, Bytes: w.off, Err: srcErr}
		if dstErr == nil {
			dstErr = finErr
		}
		if dstErr != nil {
			w.st |= StatusDstFailed
			t.msg.Printf("could not finalize destination: %+v", dstErr)
		}
	case dstErr != nil || finErr != nil:
		if dstErr == nil {
			dstErr = finErr
		}
		w.st |= StatusFailed | StatusDstFailed
		t.err = &TransferError{Kind: DestinationError, Bytes: w.off, Err: dstErr}
	}
	if t.err != nil {
		t.msg.Printf("tube failed: %+v", t.err)
	}
	t.msg.Printf("tube closed: %d bytes, %d records (status=%v)", w.off, w.off/w.ssize, w.st)

	t.state.Store(int32(Finished))
	w.publish()

	w.st |= StatusExit
	w.publish()
}

// whole rounds n down to a number of complete samples.
// A trailing partial sample is left in the source until it completes.
func (w *worker) whole(n int) int {
	return n - n%int(w.ssize)
}

// move moves n bytes from the source to the destination, chunk by chunk.
// When interruptible, move returns early if a stop is requested between
// two chunks.
func (w *worker) move(n int, interruptible bool) (next, error) {
	for n > 0 {
		k := n
		if k > len(w.buf) {
			k = len(w.buf)
		}
		r, err := io.ReadFull(w.src, w.buf[:k])
		if r > 0 {
			if err := w.write(w.buf[:r]); err != nil {
				return more, endError{DestinationError, err}
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return eof, nil
		case err != nil:
			return more, endError{SourceError, err}
		}
		n -= r

		if interruptible && n > 0 && w.command()&CmdStop != 0 {
			return stop, nil
		}
	}
	return more, nil
}

// endError tags an error with the end of the tube it comes from.
type endError struct {
	kind ErrorKind
	err  error
}

func (e endError) Error() string { return e.err.Error() }

func split(err error) (src, dst error) {
	e, ok := err.(endError)
	switch {
	case err == nil:
		return nil, nil
	case !ok:
		return err, nil
	case e.kind == DestinationError:
		return nil, e.err
	}
	return e.err, nil
}

func (w *worker) write(p []byte) error {
	end := w.off + int64(len(p))
	if g := w.grow; g > 0 && end > w.alloc {
		alloc := (end + g - 1) / g * g
		if err := w.dst.Truncate(alloc); err != nil {
			return err
		}
		w.alloc = alloc
	}

	n, err := w.dst.WriteAt(p, w.off)
	w.off += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if !w.warp {
		w.progress()
	}
	w.set(StatusActive)
	return err
}

// finalize truncates the destination to the number of bytes moved and
// flushes it.
func (w *worker) finalize(closeDst func() error) error {
	var (
		errTrunc = w.dst.Truncate(w.off)
		errSync  = w.dst.Sync()
		errClose = closeDst()
	)
	switch {
	case errTrunc != nil:
		return errTrunc
	case errSync != nil:
		return errSync
	case errClose != nil:
		return errClose
	}
	return nil
}
