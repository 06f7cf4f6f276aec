// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"
)

const (
	simClockBase   = 100  // ns
	simMinConvert  = 1000 // ns
	simMaxChanlist = 4096

	simDefaultBufSize = 64 * 1024
	simDefaultName    = "sim-ai16"
)

var (
	errSimOverflow = errors.New("comedi-sim: ring buffer overflow")
	errSimNoCmd    = errors.New("comedi-sim: no command running")
	errSimBusy     = errors.New("comedi-sim: subdevice busy")
)

// SimOption configures the simulated board.
type SimOption func(*simConfig)

type simConfig struct {
	bufsize  int
	realtime bool
	faults   map[string]error
	after    int64 // bytes readable before the read fault
	rfault   error
}

// WithBufferSize sets the capacity in bytes of the simulated ring buffers.
func WithBufferSize(n int) SimOption {
	return func(cfg *simConfig) {
		cfg.bufsize = n
	}
}

// WithRealTime paces the simulated acquisition with its scan period.
// By default, samples are produced as soon as there is room in the ring
// buffer.
func WithRealTime() SimOption {
	return func(cfg *simConfig) {
		cfg.realtime = true
	}
}

// WithFault makes the simulated driver call op fail with err.
// Valid ops are: "open", "data_read", "get_range", "get_maxdata",
// "get_cmd_generic_timed", "command_test", "command", "get_buffer_contents"
// and "read".
func WithFault(op string, err error) SimOption {
	return func(cfg *simConfig) {
		if cfg.faults == nil {
			cfg.faults = make(map[string]error)
		}
		cfg.faults[op] = err
	}
}

// WithReadFault makes the data stream fail with err once n bytes have
// been read.
func WithReadFault(n int, err error) SimOption {
	return func(cfg *simConfig) {
		cfg.after = int64(n)
		cfg.rfault = err
	}
}

// sim is a simulated COMEDI board:
//   - subdevice 0: 16 analog inputs, 16-bit, 4 ranges,
//   - subdevice 1: 8 analog inputs, 24-bit (lsampl_t),
//   - subdevice 2: 24 digital I/O lines.
//
// Streamed samples are incrementing integers, wrapped at maxdata.
type sim struct {
	mu     sync.Mutex
	name   string
	cfg    simConfig
	null   *os.File
	subs   []*simSubdev
	active int
	nread  int64
}

type simSubdev struct {
	typ     SubdevType
	flags   SubdevFlags
	nchan   int
	maxdata Sample
	ranges  []Range

	cmd      Command
	armed    bool
	beg      time.Time
	total    int64 // samples to produce, -1 for ever
	produced int64
	ring     []byte
	err      error
}

// NewSim returns a simulated board driver.
func NewSim(name string, opts ...SimOption) (Driver, error) {
	return newSim(name, opts...)
}

func newSim(name string, opts ...SimOption) (*sim, error) {
	cfg := simConfig{
		bufsize: simDefaultBufSize,
		after:   -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.bufsize <= 0 {
		return nil, fmt.Errorf("comedi-sim: invalid buffer size %d", cfg.bufsize)
	}
	if err := cfg.faults["open"]; err != nil {
		return nil, err
	}

	null, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("comedi-sim: could not open data stream: %w", err)
	}

	if name == "" {
		name = simDefaultName
	}

	bipolar := []Range{
		{Min: -10, Max: +10, Unit: UnitVolt},
		{Min: -5, Max: +5, Unit: UnitVolt},
		{Min: -1, Max: +1, Unit: UnitVolt},
		{Min: 0, Max: 20, Unit: UnitMA},
	}
	const aiFlags = SDFReadable | SDFGround | SDFCommon | SDFDiff | SDFCmd

	return &sim{
		name:   name,
		cfg:    cfg,
		null:   null,
		active: -1,
		subs: []*simSubdev{
			{
				typ:     SubdevAI,
				flags:   aiFlags,
				nchan:   16,
				maxdata: 0xffff,
				ranges:  bipolar,
			},
			{
				typ:     SubdevAI,
				flags:   aiFlags | SDFLSampl,
				nchan:   8,
				maxdata: 0xffffff,
				ranges:  bipolar[:1],
			},
			{
				typ:     SubdevDIO,
				flags:   SDFReadable | SDFWritable,
				nchan:   24,
				maxdata: 1,
				ranges:  []Range{{Min: 0, Max: 1, Unit: UnitNone}},
			},
		},
	}, nil
}

func (s *sim) fault(op string) error {
	return s.cfg.faults[op]
}

func (s *sim) sub(subdev uint32) (*simSubdev, error) {
	if int(subdev) >= len(s.subs) {
		return nil, fmt.Errorf("comedi-sim: invalid subdevice %d", subdev)
	}
	return s.subs[subdev], nil
}

func (s *sim) chk(subdev, ch uint32) (*simSubdev, error) {
	sd, err := s.sub(subdev)
	if err != nil {
		return nil, err
	}
	if int(ch) >= sd.nchan {
		return nil, fmt.Errorf("comedi-sim: invalid channel %d (subdevice %d)", ch, subdev)
	}
	return sd, nil
}

func (s *sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.null == nil {
		return nil
	}
	err := s.null.Close()
	s.null = nil
	return err
}

func (s *sim) BoardName() string  { return s.name }
func (s *sim) DriverName() string { return "comedi_sim" }
func (s *sim) NumSubdevices() int { return len(s.subs) }

func (s *sim) NumChannels(subdev uint32) (int, error) {
	sd, err := s.sub(subdev)
	if err != nil {
		return 0, err
	}
	return sd.nchan, nil
}

func (s *sim) NumRanges(subdev, ch uint32) (int, error) {
	sd, err := s.chk(subdev, ch)
	if err != nil {
		return 0, err
	}
	return len(sd.ranges), nil
}

func (s *sim) SubdeviceType(subdev uint32) (SubdevType, error) {
	sd, err := s.sub(subdev)
	if err != nil {
		return 0, err
	}
	return sd.typ, nil
}

func (s *sim) SubdeviceFlags(subdev uint32) (SubdevFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.sub(subdev)
	if err != nil {
		return 0, err
	}
	s.fill(sd)
	flags := sd.flags
	if sd.armed {
		flags |= SDFBusy | SDFBusyOwner
	}
	if sd.running() {
		flags |= SDFRunning
	}
	return flags, nil
}

func (s *sim) DataRead(subdev, ch, rng uint32, aref ARef) (Sample, error) {
	if err := s.fault("data_read"); err != nil {
		return 0, err
	}
	sd, err := s.chk(subdev, ch)
	if err != nil {
		return 0, err
	}
	if int(rng) >= len(sd.ranges) {
		return 0, fmt.Errorf("comedi-sim: invalid range %d", rng)
	}
	if sd.typ == SubdevAI && !sd.flags.canARef(aref) {
		return 0, fmt.Errorf("comedi-sim: invalid analog reference %v", aref)
	}
	return (sd.maxdata/2 + Sample(ch)) % (sd.maxdata + 1), nil
}

func (s *sim) Range(subdev, ch, rng uint32) (Range, error) {
	if err := s.fault("get_range"); err != nil {
		return Range{}, err
	}
	sd, err := s.chk(subdev, ch)
	if err != nil {
		return Range{}, err
	}
	if int(rng) >= len(sd.ranges) {
		return Range{}, fmt.Errorf("comedi-sim: invalid range %d", rng)
	}
	return sd.ranges[rng], nil
}

func (s *sim) MaxData(subdev, ch uint32) (Sample, error) {
	if err := s.fault("get_maxdata"); err != nil {
		return 0, err
	}
	sd, err := s.chk(subdev, ch)
	if err != nil {
		return 0, err
	}
	return sd.maxdata, nil
}

func (s *sim) GenericTimed(subdev uint32, cmd *Command, nchans, periodNS uint32) error {
	if err := s.fault("get_cmd_generic_timed"); err != nil {
		return err
	}
	sd, err := s.sub(subdev)
	if err != nil {
		return err
	}
	if sd.flags&SDFCmd == 0 {
		return fmt.Errorf("comedi-sim: subdevice %d does not support commands", subdev)
	}
	if nchans == 0 {
		return fmt.Errorf("comedi-sim: invalid number of channels")
	}

	*cmd = Command{
		Subdev:       subdev,
		StartSrc:     TrigNow,
		StartArg:     0,
		ScanBeginSrc: TrigTimer,
		ScanBeginArg: periodNS,
		ConvertSrc:   TrigTimer,
		ConvertArg:   0,
		ScanEndSrc:   TrigCount,
		ScanEndArg:   nchans,
		StopSrc:      TrigCount,
		StopArg:      2,
		ChanlistLen:  nchans,
	}

	// let the timing arguments settle, as comedilib does.
	for i := 0; i < 2; i++ {
		res := sd.test(cmd, false)
		switch res {
		case Success, InvalidArgument, ArgumentConflict:
		default:
			return fmt.Errorf("comedi-sim: could not build command: %v", res)
		}
	}
	return nil
}

func (s *sim) CommandTest(cmd *Command) (TestResult, error) {
	if err := s.fault("command_test"); err != nil {
		return 0, err
	}
	sd, err := s.sub(cmd.Subdev)
	if err != nil {
		return 0, err
	}
	if sd.flags&SDFCmd == 0 {
		return 0, fmt.Errorf("comedi-sim: subdevice %d does not support commands", cmd.Subdev)
	}
	return sd.test(cmd, true), nil
}

func (s *sim) Command(cmd *Command) error {
	if err := s.fault("command"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.sub(cmd.Subdev)
	if err != nil {
		return err
	}
	if sd.flags&SDFCmd == 0 {
		return fmt.Errorf("comedi-sim: subdevice %d does not support commands", cmd.Subdev)
	}
	if s.active >= 0 && s.subs[s.active].running() {
		return errSimBusy
	}

	c := *cmd
	c.Chanlist = append([]ChanSpec(nil), cmd.Chanlist...)
	if res := sd.test(&c, true); res != Success {
		return fmt.Errorf("comedi-sim: invalid command: %v", res)
	}

	sd.cmd = c
	sd.armed = true
	sd.beg = time.Now()
	sd.produced = 0
	sd.ring = nil
	sd.err = nil
	sd.total = -1
	if c.StopSrc == TrigCount {
		sd.total = int64(c.StopArg) * int64(c.ChanlistLen)
	}
	s.active = int(cmd.Subdev)
	s.nread = 0
	return nil
}

func (s *sim) Cancel(subdev uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.sub(subdev)
	if err != nil {
		return err
	}
	sd.armed = false
	sd.ring = nil
	if s.active == int(subdev) {
		s.active = -1
	}
	return nil
}

func (s *sim) BufferSize(subdev uint32) (int, error) {
	if _, err := s.sub(subdev); err != nil {
		return 0, err
	}
	return s.cfg.bufsize, nil
}

func (s *sim) BufferContents(subdev uint32) (int, error) {
	if err := s.fault("get_buffer_contents"); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.sub(subdev)
	if err != nil {
		return 0, err
	}
	s.fill(sd)
	if sd.err != nil {
		return 0, sd.err
	}
	return len(sd.ring), nil
}

func (s *sim) MarkBufferRead(subdev uint32, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.sub(subdev)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > len(sd.ring) {
		return 0, fmt.Errorf("comedi-sim: invalid mark of %d bytes (buffered=%d)", n, len(sd.ring))
	}
	sd.ring = sd.ring[n:]
	return n, nil
}

func (s *sim) Read(p []byte) (int, error) {
	if err := s.fault("read"); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.active < 0 {
			return 0, errSimNoCmd
		}
		sd := s.subs[s.active]
		s.fill(sd)
		if sd.err != nil {
			return 0, sd.err
		}

		if len(sd.ring) > 0 {
			n := len(p)
			if n > len(sd.ring) {
				n = len(sd.ring)
			}
			if s.cfg.rfault != nil && s.cfg.after >= 0 {
				left := s.cfg.after - s.nread
				if left <= 0 {
					return 0, s.cfg.rfault
				}
				if int64(n) > left {
					n = int(left)
				}
			}
			n = copy(p, sd.ring[:n])
			sd.ring = sd.ring[n:]
			s.nread += int64(n)
			return n, nil
		}

		if !sd.running() {
			return 0, io.EOF
		}

		s.mu.Unlock()
		time.Sleep(sd.pace() / 4)
		s.mu.Lock()
	}
}

func (s *sim) Fileno() (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.null == nil {
		return 0, fmt.Errorf("comedi-sim: device closed")
	}
	return s.null.Fd(), nil
}

// fill produces the samples the acquisition has generated so far.
// fill must be called with s.mu held.
func (s *sim) fill(sd *simSubdev) {
	if !sd.armed || sd.err != nil || !sd.running() {
		return
	}

	var (
		ssize  = int64(sd.flags.SampleSize())
		nchans = int64(sd.cmd.ChanlistLen)
		target = int64(math.MaxInt64)
	)
	if sd.total >= 0 {
		target = sd.total
	}
	if s.cfg.realtime {
		scans := int64(time.Since(sd.beg)/sd.pace()) + 1
		if v := scans * nchans; v < target {
			target = v
		}
	}

	avail := target - sd.produced
	space := (int64(s.cfg.bufsize) - int64(len(sd.ring))) / ssize
	if avail > space {
		if s.cfg.realtime {
			sd.err = errSimOverflow
			sd.armed = false
			return
		}
		avail = space
	}
	if avail <= 0 {
		return
	}

	var (
		buf = make([]byte, avail*ssize)
		mod = int64(sd.maxdata) + 1
	)
	for i := int64(0); i < avail; i++ {
		v := uint32((sd.produced + i) % mod)
		switch ssize {
		case sizeLSampl:
			binary.LittleEndian.PutUint32(buf[i*ssize:], v)
		default:
			binary.LittleEndian.PutUint16(buf[i*ssize:], uint16(v))
		}
	}
	sd.produced += avail
	sd.ring = append(sd.ring, buf...)
}

func (sd *simSubdev) running() bool {
	return sd.armed && (sd.total < 0 || sd.produced < sd.total)
}

// pace returns the scan period of the running command.
func (sd *simSubdev) pace() time.Duration {
	if sd.cmd.ScanBeginSrc == TrigTimer && sd.cmd.ScanBeginArg > 0 {
		return time.Duration(sd.cmd.ScanBeginArg)
	}
	return time.Millisecond
}

// test runs the validation stages of a command, fixing up what can be.
func (sd *simSubdev) test(cmd *Command, chanlist bool) TestResult {
	// stage 1: sources are trivially valid.
	bad := false
	mask := func(src *TrigSrc, allowed TrigSrc) {
		old := *src
		*src &= allowed
		if *src == 0 || *src != old {
			bad = true
		}
	}
	mask(&cmd.StartSrc, TrigNow|TrigInt|TrigExt)
	mask(&cmd.ScanBeginSrc, TrigTimer|TrigExt)
	mask(&cmd.ConvertSrc, TrigTimer|TrigNow)
	mask(&cmd.ScanEndSrc, TrigCount)
	mask(&cmd.StopSrc, TrigCount|TrigNone)
	if bad {
		return InvalidSource
	}

	// stage 2: sources are unique and mutually compatible.
	for _, src := range []TrigSrc{
		cmd.StartSrc, cmd.ScanBeginSrc, cmd.ConvertSrc,
		cmd.ScanEndSrc, cmd.StopSrc,
	} {
		if !src.single() {
			return SourceConflict
		}
	}
	if cmd.ScanBeginSrc == TrigExt && cmd.ConvertSrc == TrigNow {
		return SourceConflict
	}

	// stage 3: arguments are trivially valid.
	var (
		e3 = false
		e4 = false
		n  = cmd.ChanlistLen
	)
	set := func(arg *uint32, v uint32) {
		if *arg != v {
			*arg = v
			e3 = true
		}
	}
	least := func(arg *uint32, v uint32) {
		if *arg < v {
			*arg = v
			e3 = true
		}
	}
	round := func(arg *uint32) {
		v := simRound(*arg, cmd.Flags)
		if v != *arg {
			*arg = v
			e3 = true
		}
	}

	if n == 0 || n > simMaxChanlist {
		e3 = true
	}

	switch cmd.StartSrc {
	case TrigNow, TrigInt:
		set(&cmd.StartArg, 0)
	}

	switch cmd.ConvertSrc {
	case TrigTimer:
		least(&cmd.ConvertArg, simMinConvert)
		round(&cmd.ConvertArg)
	case TrigNow:
		set(&cmd.ConvertArg, 0)
	}

	if cmd.ScanBeginSrc == TrigTimer && n > 0 && n <= simMaxChanlist {
		least(&cmd.ScanBeginArg, simMinConvert*n)
		round(&cmd.ScanBeginArg)
	}

	set(&cmd.ScanEndArg, n)

	switch cmd.StopSrc {
	case TrigCount:
		least(&cmd.StopArg, 1)
	case TrigNone:
		set(&cmd.StopArg, 0)
	}

	// stage 4: fix up arguments conflicting with each other.
	if cmd.ConvertSrc == TrigTimer && cmd.ScanBeginSrc == TrigTimer {
		if v := uint64(cmd.ConvertArg) * uint64(n); v > uint64(cmd.ScanBeginArg) && v <= math.MaxUint32 {
			cmd.ScanBeginArg = uint32(v)
			e4 = true
		}
	}

	switch {
	case e3:
		return InvalidArgument
	case e4:
		return ArgumentConflict
	}

	if !chanlist {
		return Success
	}

	// stage 5: check the channel list.
	if len(cmd.Chanlist) != int(n) {
		return InvalidChanlist
	}
	for _, cs := range cmd.Chanlist {
		if int(cs.Chan()) >= sd.nchan ||
			int(cs.Range()) >= len(sd.ranges) ||
			!sd.flags.canARef(cs.ARef()) {
			return InvalidChanlist
		}
	}

	return Success
}

func simRound(v uint32, flags uint32) uint32 {
	const base = simClockBase
	v64 := uint64(v)
	switch flags & CmdfRoundMask {
	case CmdfRoundDown:
		v64 = v64 / base * base
	case CmdfRoundUp, CmdfRoundUpNxt:
		v64 = (v64 + base - 1) / base * base
	default:
		v64 = (v64 + base/2) / base * base
	}
	if v64 > math.MaxUint32 {
		v64 = math.MaxUint32 / base * base
	}
	return uint32(v64)
}

var _ Driver = (*sim)(nil)
