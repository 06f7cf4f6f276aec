// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/comedi"
)

var errQuit = errors.New("quit")

type shell struct {
	msg  *log.Logger
	dev  *comedi.Device
	sess *acq.Session
	done chan result

	cmds map[string]command
}

type command struct {
	usage string
	help  string
	run   func(w io.Writer, args []string) error
}

type result struct {
	rep acq.Report
	err error
}

func newShell(msg *log.Logger) *shell {
	sh := &shell{msg: msg}
	sh.cmds = map[string]command{
		"open":   {"open PATH", "open a COMEDI device (sim: for a simulated board)", sh.cmdOpen},
		"close":  {"close", "close the current device", sh.cmdClose},
		"info":   {"info", "display the subdevices of the current device", sh.cmdInfo},
		"read":   {"read SUBDEV CHAN [RANGE [AREF]]", "read one sample", sh.cmdRead},
		"scan":   {"scan SUBDEV NCHANS PERIOD-NS NSCANS", "run a timed acquisition and display its scans", sh.cmdScan},
		"tube":   {"tube FILE SUBDEV NCHANS PERIOD-NS NSCANS", "stream a timed acquisition to FILE in the background (NSCANS=0: continuous)", sh.cmdTube},
		"status": {"status", "display the progress of the background transfer", sh.cmdStatus},
		"pause":  {"pause", "pause the background transfer", sh.cmdPause},
		"resume": {"resume", "resume the background transfer", sh.cmdResume},
		"stop":   {"stop", "stop the background transfer and wait for it", sh.cmdStop},
		"wait":   {"wait", "wait for the background transfer to complete", sh.cmdWait},
		"help":   {"help", "display this help message", sh.cmdHelp},
		"quit":   {"quit", "quit the shell", func(io.Writer, []string) error { return errQuit }},
	}
	return sh
}

func (sh *shell) exec(w io.Writer, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, ok := sh.cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return cmd.run(w, args[1:])
}

func (sh *shell) complete(line string) []string {
	var out []string
	for name := range sh.cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (sh *shell) close() {
	if sh.done != nil {
		_ = sh.cmdStop(io.Discard, nil)
	}
	if sh.dev != nil {
		err := sh.dev.Close()
		if err != nil {
			sh.msg.Printf("could not close device: %+v", err)
		}
		sh.dev = nil
	}
}

func (sh *shell) device() (*comedi.Device, error) {
	if sh.dev == nil {
		return nil, fmt.Errorf("no device opened")
	}
	return sh.dev, nil
}

func (sh *shell) cmdOpen(w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", sh.cmds["open"].usage)
	}
	if sh.done != nil {
		return fmt.Errorf("transfer in progress")
	}
	sh.close()

	dev, err := comedi.Open(args[0], comedi.WithLogger(sh.msg))
	if err != nil {
		return err
	}
	sh.dev = dev
	return nil
}

func (sh *shell) cmdClose(w io.Writer, args []string) error {
	sh.close()
	return nil
}

func (sh *shell) cmdInfo(w io.Writer, args []string) error {
	dev, err := sh.device()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "board: %s (driver: %s)\n", dev.BoardName(), dev.DriverName())
	for i := 0; i < dev.NumSubdevices(); i++ {
		subdev := uint32(i)
		typ, err := dev.SubdeviceType(subdev)
		if err != nil {
			return err
		}
		nchans, err := dev.NumChannels(subdev)
		if err != nil {
			return err
		}
		ssize, err := dev.SampleSize(subdev)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "subdev %d: %-7s nchans=%d sample=%d bytes\n", i, typ, nchans, ssize)
	}
	return nil
}

func (sh *shell) cmdRead(w io.Writer, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return fmt.Errorf("usage: %s", sh.cmds["read"].usage)
	}
	dev, err := sh.device()
	if err != nil {
		return err
	}

	vs, err := atous(args[:min(len(args), 3)])
	if err != nil {
		return err
	}
	var (
		subdev = vs[0]
		ch     = vs[1]
		rng    = uint32(0)
		aref   = comedi.ARefGround
	)
	if len(vs) > 2 {
		rng = vs[2]
	}
	if len(args) > 3 {
		aref, err = comedi.ParseARef(args[3])
		if err != nil {
			return err
		}
	}

	raw, err := dev.DataRead(subdev, ch, rng, aref)
	if err != nil {
		return err
	}
	r, err := dev.Range(subdev, ch, rng)
	if err != nil {
		return err
	}
	maxdata, err := dev.MaxData(subdev, ch)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d -> %.6g %s\n", raw, dev.ToPhys(raw, r, maxdata), r.Unit)
	return nil
}

func (sh *shell) session(args []string) (*acq.Session, error) {
	dev, err := sh.device()
	if err != nil {
		return nil, err
	}
	if sh.done != nil {
		return nil, fmt.Errorf("transfer in progress")
	}

	vs, err := atous(args)
	if err != nil {
		return nil, err
	}
	cfg := acq.DefaultConfig()
	cfg.Device = dev.Path()
	cfg.Subdev = vs[0]
	cfg.Channels = make([]acq.Channel, vs[1])
	for i := range cfg.Channels {
		cfg.Channels[i] = acq.Channel{Chan: uint32(i)}
	}
	cfg.PeriodNS = vs[2]
	cfg.Scans = vs[3]

	sess, err := acq.NewSession(dev, cfg, acq.WithLogger(sh.msg))
	if err != nil {
		return nil, err
	}
	err = sess.Arm()
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (sh *shell) cmdScan(w io.Writer, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: %s", sh.cmds["scan"].usage)
	}
	if args[3] == "0" {
		return fmt.Errorf("invalid number of scans (0)")
	}
	sess, err := sh.session(args)
	if err != nil {
		return err
	}
	_, err = sess.ReadScans(w, nil)
	return err
}

func (sh *shell) cmdTube(w io.Writer, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: %s", sh.cmds["tube"].usage)
	}
	sess, err := sh.session(args[1:])
	if err != nil {
		return err
	}

	fname := args[0]
	f, err := os.Create(fname)
	if err != nil {
		_ = sess.Device().Cancel(sess.Config().Subdev)
		return fmt.Errorf("could not create output file: %w", err)
	}
	err = sess.Calib().Save(acq.SidecarName(fname))
	if err != nil {
		_ = f.Close()
		_ = sess.Device().Cancel(sess.Config().Subdev)
		return fmt.Errorf("could not save calibration: %w", err)
	}

	done := make(chan result, 1)
	go func() {
		defer f.Close()
		rep, err := sess.StreamToFile(context.Background(), f)
		if err == nil {
			err = f.Close()
		}
		done <- result{rep, err}
	}()
	for sess.Tube() == nil {
		select {
		case res := <-done:
			return res.err
		default:
			time.Sleep(time.Millisecond)
		}
	}

	sh.sess = sess
	sh.done = done
	return nil
}

func (sh *shell) running() (*acq.Session, error) {
	if sh.done == nil {
		return nil, fmt.Errorf("no transfer in progress")
	}
	return sh.sess, nil
}

func (sh *shell) cmdStatus(w io.Writer, args []string) error {
	if sh.sess == nil {
		return fmt.Errorf("no transfer")
	}
	fmt.Fprintf(w, "%v\n", sh.sess.Report())
	return nil
}

func (sh *shell) cmdPause(w io.Writer, args []string) error {
	sess, err := sh.running()
	if err != nil {
		return err
	}
	sess.Pause()
	return nil
}

func (sh *shell) cmdResume(w io.Writer, args []string) error {
	sess, err := sh.running()
	if err != nil {
		return err
	}
	sess.Resume()
	return nil
}

func (sh *shell) cmdStop(w io.Writer, args []string) error {
	sess, err := sh.running()
	if err != nil {
		return err
	}
	sess.Stop()
	return sh.cmdWait(w, args)
}

func (sh *shell) cmdWait(w io.Writer, args []string) error {
	if _, err := sh.running(); err != nil {
		return err
	}
	res := <-sh.done
	sh.done = nil
	fmt.Fprintf(w, "%v\n", res.rep)
	return res.err
}

func (sh *shell) cmdHelp(w io.Writer, args []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := sh.cmds[name]
		fmt.Fprintf(w, "  %-42s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func atous(args []string) ([]uint32, error) {
	vs := make([]uint32, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", arg, err)
		}
		vs[i] = uint32(v)
	}
	return vs, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
