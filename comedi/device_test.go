// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"
)

func newTestDevice(t *testing.T, opts ...SimOption) *Device {
	t.Helper()
	dev, err := Open("sim:", WithLogger(log.New(io.Discard, "", 0)), WithSimOptions(opts...))
	if err != nil {
		t.Fatalf("could not open sim device: %+v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func armTestCommand(t *testing.T, dev *Device, subdev, nchans, nscans uint32) *Command {
	t.Helper()
	cmd, err := dev.GenericTimedCommand(subdev, nchans, 1_000_000)
	if err != nil {
		t.Fatalf("could not build command: %+v", err)
	}
	cmd.SetChanlist(chanlist(int(nchans), 0, ARefGround))
	cmd.StopSrc = TrigCount
	cmd.StopArg = nscans

	_, _, err = Negotiate(dev, cmd)
	if err != nil {
		t.Fatalf("could not negotiate command: %+v", err)
	}
	err = dev.Arm(cmd)
	if err != nil {
		t.Fatalf("could not arm command: %+v", err)
	}
	return cmd
}

func TestOpen(t *testing.T) {
	_, err := Open("/dev/comedi-does-not-exist")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("invalid error kind: %+v", err)
	}

	boom := errors.New("boom")
	_, err = Open("sim:", WithSimOptions(WithFault("open", boom)))
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, boom) {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = OpenDriver("nil", nil)
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestDeviceInfo(t *testing.T) {
	dev := newTestDevice(t)

	if got, want := dev.BoardName(), simDefaultName; got != want {
		t.Fatalf("invalid board name: got=%q, want=%q", got, want)
	}
	if got, want := dev.DriverName(), "comedi_sim"; got != want {
		t.Fatalf("invalid driver name: got=%q, want=%q", got, want)
	}
	if got, want := dev.NumSubdevices(), 3; got != want {
		t.Fatalf("invalid number of subdevices: got=%d, want=%d", got, want)
	}

	for _, tc := range []struct {
		subdev uint32
		typ    SubdevType
		nchans int
		nrngs  int
		ssize  int
		maxv   Sample
	}{
		{0, SubdevAI, 16, 4, 2, 0xffff},
		{1, SubdevAI, 8, 1, 4, 0xffffff},
		{2, SubdevDIO, 24, 1, 2, 1},
	} {
		typ, err := dev.SubdeviceType(tc.subdev)
		if err != nil {
			t.Fatalf("could not get subdevice type: %+v", err)
		}
		if typ != tc.typ {
			t.Fatalf("invalid subdevice type: got=%d, want=%d", typ, tc.typ)
		}
		n, err := dev.NumChannels(tc.subdev)
		if err != nil {
			t.Fatalf("could not get number of channels: %+v", err)
		}
		if n != tc.nchans {
			t.Fatalf("invalid number of channels: got=%d, want=%d", n, tc.nchans)
		}
		n, err = dev.NumRanges(tc.subdev, 0)
		if err != nil {
			t.Fatalf("could not get number of ranges: %+v", err)
		}
		if n != tc.nrngs {
			t.Fatalf("invalid number of ranges: got=%d, want=%d", n, tc.nrngs)
		}
		n, err = dev.SampleSize(tc.subdev)
		if err != nil {
			t.Fatalf("could not get sample size: %+v", err)
		}
		if n != tc.ssize {
			t.Fatalf("invalid sample size: got=%d, want=%d", n, tc.ssize)
		}
		v, err := dev.MaxData(tc.subdev, 0)
		if err != nil {
			t.Fatalf("could not get maxdata: %+v", err)
		}
		if v != tc.maxv {
			t.Fatalf("invalid maxdata: got=0x%x, want=0x%x", v, tc.maxv)
		}
	}

	_, err := dev.NumChannels(42)
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestDataRead(t *testing.T) {
	dev := newTestDevice(t)

	raw, err := dev.DataRead(0, 3, 0, ARefGround)
	if err != nil {
		t.Fatalf("could not read sample: %+v", err)
	}
	if got, want := raw, Sample(0x7fff+3); got != want {
		t.Fatalf("invalid sample: got=0x%x, want=0x%x", got, want)
	}

	rng, err := dev.Range(0, 3, 0)
	if err != nil {
		t.Fatalf("could not get range: %+v", err)
	}
	maxdata, err := dev.MaxData(0, 3)
	if err != nil {
		t.Fatalf("could not get maxdata: %+v", err)
	}
	v := dev.ToPhys(raw, rng, maxdata)
	if want := float64(raw)/float64(maxdata)*20 - 10; math.Abs(v-want) > 1e-12 {
		t.Fatalf("invalid physical value: got=%g, want=%g", v, want)
	}

	for _, tc := range []struct {
		name          string
		subdev, ch, r uint32
		aref          ARef
	}{
		{"subdev", 9, 0, 0, ARefGround},
		{"channel", 0, 16, 0, ARefGround},
		{"range", 0, 0, 4, ARefGround},
		{"aref", 0, 0, 0, ARefOther},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dev.DataRead(tc.subdev, tc.ch, tc.r, tc.aref)
			if !errors.Is(err, ErrReadFailed) {
				t.Fatalf("invalid error: %+v", err)
			}
		})
	}

	boom := errors.New("boom")
	dev = newTestDevice(t, WithFault("data_read", boom))
	_, err = dev.DataRead(0, 0, 0, ARefGround)
	if !errors.Is(err, ErrReadFailed) || !errors.Is(err, boom) {
		t.Fatalf("invalid error: %+v", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("invalid error type: %T", err)
	}
	if got, want := e.Op, "data_read"; got != want {
		t.Fatalf("invalid op: got=%q, want=%q", got, want)
	}
}

func TestOORBehavior(t *testing.T) {
	dev := newTestDevice(t)
	if got, want := dev.OORBehavior(), OORNaN; got != want {
		t.Fatalf("invalid default policy: got=%v, want=%v", got, want)
	}

	rng := Range{Min: -10, Max: +10}
	if v := dev.ToPhys(0, rng, 0xffff); !math.IsNaN(v) {
		t.Fatalf("expected NaN, got=%g", v)
	}

	old := dev.SetOORBehavior(OORNumber)
	if old != OORNaN {
		t.Fatalf("invalid previous policy: got=%v, want=%v", old, OORNaN)
	}
	if got, want := dev.ToPhys(0, rng, 0xffff), -10.0; got != want {
		t.Fatalf("invalid clamped value: got=%g, want=%g", got, want)
	}

	other := newTestDevice(t)
	if got, want := other.OORBehavior(), OORNaN; got != want {
		t.Fatalf("policy leaked across devices: got=%v, want=%v", got, want)
	}
}

func TestStream(t *testing.T) {
	for _, tc := range []struct {
		name    string
		subdev  uint32
		nchans  uint32
		nscans  uint32
		bufsize int
	}{
		{"sampl", 0, 2, 100, 64},
		{"lsampl", 1, 3, 50, 1024},
		{"large", 0, 4, 10000, 4096},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := newTestDevice(t, WithBufferSize(tc.bufsize))
			armTestCommand(t, dev, tc.subdev, tc.nchans, tc.nscans)

			s, err := dev.Stream(tc.subdev)
			if err != nil {
				t.Fatalf("could not get stream: %+v", err)
			}

			raw, err := io.ReadAll(s)
			if err != nil {
				t.Fatalf("could not read stream: %+v", err)
			}

			ssize := s.SampleSize()
			if got, want := len(raw), int(tc.nchans*tc.nscans)*ssize; got != want {
				t.Fatalf("invalid number of bytes: got=%d, want=%d", got, want)
			}
			for i := 0; i < len(raw)/ssize; i++ {
				var v uint32
				switch ssize {
				case 4:
					v = binary.LittleEndian.Uint32(raw[i*ssize:])
				default:
					v = uint32(binary.LittleEndian.Uint16(raw[i*ssize:]))
				}
				if v != uint32(i%0x10000) && ssize == 2 || v != uint32(i) && ssize == 4 {
					t.Fatalf("invalid sample %d: got=%d", i, v)
				}
			}

			n, err := s.Buffered()
			if err != io.EOF || n != 0 {
				t.Fatalf("invalid end of stream: n=%d, err=%v", n, err)
			}
			flags, err := dev.SubdeviceFlags(tc.subdev)
			if err != nil {
				t.Fatalf("could not get flags: %+v", err)
			}
			if flags&SDFRunning != 0 {
				t.Fatalf("subdevice still running")
			}
		})
	}
}

func TestStreamBuffered(t *testing.T) {
	dev := newTestDevice(t, WithBufferSize(16))
	armTestCommand(t, dev, 0, 2, 10)

	s, err := dev.Stream(0)
	if err != nil {
		t.Fatalf("could not get stream: %+v", err)
	}
	if got, want := s.Subdevice(), uint32(0); got != want {
		t.Fatalf("invalid subdevice: got=%d, want=%d", got, want)
	}
	size, err := s.BufferSize()
	if err != nil {
		t.Fatalf("could not get buffer size: %+v", err)
	}
	if size != 16 {
		t.Fatalf("invalid buffer size: got=%d, want=16", size)
	}

	total := 0
	for {
		n, err := s.Buffered()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("could not get buffered bytes: %+v", err)
		}
		if n > size {
			t.Fatalf("ring buffer overflow: n=%d", n)
		}
		m, err := s.Discard(n)
		if err != nil {
			t.Fatalf("could not mark buffer read: %+v", err)
		}
		total += m
	}
	if got, want := total, 2*10*2; got != want {
		t.Fatalf("invalid number of bytes: got=%d, want=%d", got, want)
	}

	_, err = s.Discard(1)
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestStreamCancel(t *testing.T) {
	dev := newTestDevice(t)
	cmd, err := dev.GenericTimedCommand(0, 1, 1_000_000)
	if err != nil {
		t.Fatalf("could not build command: %+v", err)
	}
	cmd.SetChanlist(chanlist(1, 0, ARefGround))
	cmd.StopSrc = TrigNone
	if _, _, err := Negotiate(dev, cmd); err != nil {
		t.Fatalf("could not negotiate: %+v", err)
	}
	if err := dev.Arm(cmd); err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	s, err := dev.Stream(0)
	if err != nil {
		t.Fatalf("could not get stream: %+v", err)
	}
	buf := make([]byte, 128)
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(s, buf); err != nil {
			t.Fatalf("could not read stream: %+v", err)
		}
	}

	if err := s.Cancel(); err != nil {
		t.Fatalf("could not cancel: %+v", err)
	}
	if _, err := s.Buffered(); err != io.EOF {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestStreamNoCmd(t *testing.T) {
	dev := newTestDevice(t)
	_, err := dev.Stream(2)
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = dev.Read(make([]byte, 8))
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestClosedDevice(t *testing.T) {
	dev := newTestDevice(t)
	fd, err := dev.Fileno()
	if err != nil {
		t.Fatalf("could not get fileno: %+v", err)
	}
	if fd == 0 {
		t.Fatalf("invalid file descriptor")
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close device twice: %+v", err)
	}

	if _, err := dev.DataRead(0, 0, 0, ARefGround); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
	if _, err := dev.Fileno(); !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got := dev.BoardName(); got != "" {
		t.Fatalf("invalid board name: %q", got)
	}
}

func TestCloseWhileStreaming(t *testing.T) {
	dev := newTestDevice(t)
	armTestCommand(t, dev, 0, 2, 1<<24)

	s, err := dev.Stream(0)
	if err != nil {
		t.Fatalf("could not get stream: %+v", err)
	}

	var (
		started = make(chan struct{})
		done    = make(chan error)
	)
	go func() {
		buf := make([]byte, 1024)
		once := false
		for {
			n, err := s.Buffered()
			if err == nil && n > 0 {
				_, err = s.Read(buf)
			}
			if err != nil {
				done <- err
				return
			}
			if !once {
				once = true
				close(started)
			}
		}
	}()

	<-started
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close device: %+v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid error: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream still readable after close")
	}

	if got := dev.BoardName(); got != "" {
		t.Fatalf("closed device has a board name: %q", got)
	}
}
