// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tube-srv starts a TDAQ server streaming acquisitions from a
// COMEDI device to files.
//
// Usage: tube-srv [TDAQ-OPTIONS] [PRESET.yaml [OUTPUT-DIR]]
//
// Each /start command lays a new tube writing to OUTPUT-DIR/run-NNN.raw
// (and its calibration sidecar); /stop stops it.
// The /adc output stream publishes the progress of the running transfer.
package main // import "github.com/go-lpc/daqtube/cmd/tube-srv"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/comedi"
)

func main() {
	cmd := flags.New()

	srv := newServer(acq.DefaultConfig(), ".")
	if len(cmd.Args) > 0 {
		srv.preset = cmd.Args[0]
	}
	if len(cmd.Args) > 1 {
		srv.dir = cmd.Args[1]
	}

	app := tdaq.New(cmd, os.Stdout)
	app.CmdHandle("/config", srv.OnConfig)
	app.CmdHandle("/init", srv.OnInit)
	app.CmdHandle("/reset", srv.OnReset)
	app.CmdHandle("/start", srv.OnStart)
	app.CmdHandle("/stop", srv.OnStop)
	app.CmdHandle("/quit", srv.OnQuit)

	app.OutputHandle("/adc", srv.adc)

	app.RunHandle(srv.run)

	err := app.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	preset string
	dir    string
	msg    *log.Logger
	freq   time.Duration
	opts   []comedi.Option

	mu   sync.Mutex
	cfg  acq.Config
	dev  *comedi.Device
	sess *acq.Session
	nrun int
	done chan result

	data chan []byte
}

type result struct {
	rep acq.Report
	err error
}

func newServer(cfg acq.Config, dir string) *server {
	return &server{
		dir:  dir,
		msg:  log.New(os.Stdout, "tube-srv: ", 0),
		freq: 1 * time.Second,
		cfg:  cfg,
		data: make(chan []byte, 1024),
	}
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	fname := srv.preset
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
	}
	err := srv.configure(fname)
	if err != nil {
		ctx.Msg.Errorf("could not configure: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		ctx.Msg.Errorf("could not initialize: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	fname, err := srv.start()
	if err != nil {
		ctx.Msg.Errorf("could not start: %+v", err)
		return err
	}
	ctx.Msg.Infof("streaming to %q...", fname)
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	rep, err := srv.stop()
	if err != nil {
		ctx.Msg.Errorf("could not stop: %+v", err)
		return err
	}
	ctx.Msg.Infof("run: %v", rep)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not quit: %+v", err)
		return err
	}
	return nil
}

func (srv *server) adc(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	tick := time.NewTicker(srv.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			srv.publish()
		}
	}
}

// publish sends the progress of the running transfer, if any, on the
// output stream.
func (srv *server) publish() {
	srv.mu.Lock()
	sess := srv.sess
	srv.mu.Unlock()

	if sess == nil || sess.Tube() == nil {
		return
	}

	raw, err := encodeReport(sess.Report())
	if err != nil {
		srv.msg.Printf("could not encode report: %+v", err)
		return
	}

	select {
	case srv.data <- raw:
	default:
	}
}

func (srv *server) configure(fname string) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.done != nil {
		return fmt.Errorf("could not configure: transfer in progress")
	}
	if fname == "" {
		return nil
	}

	cfg, err := acq.LoadConfig(fname)
	if err != nil {
		return err
	}
	srv.cfg = cfg
	return nil
}

func (srv *server) initialize() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev != nil {
		return fmt.Errorf("device %q already initialized", srv.dev.Path())
	}

	opts := append([]comedi.Option{comedi.WithLogger(srv.msg)}, srv.opts...)
	dev, err := comedi.Open(srv.cfg.Device, opts...)
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}

	sess, err := acq.NewSession(dev, srv.cfg, acq.WithLogger(srv.msg))
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("could not create session: %w", err)
	}

	srv.dev = dev
	srv.sess = sess
	return nil
}

func (srv *server) reset() error {
	err := srv.close()
	if err != nil {
		return err
	}
	return srv.initialize()
}

func (srv *server) start() (string, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.sess == nil {
		return "", fmt.Errorf("device not initialized")
	}
	if srv.done != nil {
		return "", fmt.Errorf("transfer already in progress")
	}

	err := srv.sess.Arm()
	if err != nil {
		return "", err
	}

	srv.nrun++
	fname := filepath.Join(srv.dir, fmt.Sprintf("run-%03d.raw", srv.nrun))
	f, err := os.Create(fname)
	if err != nil {
		_ = srv.dev.Cancel(srv.cfg.Subdev)
		return "", fmt.Errorf("could not create output file: %w", err)
	}

	err = srv.sess.Calib().Save(acq.SidecarName(fname))
	if err != nil {
		_ = f.Close()
		_ = srv.dev.Cancel(srv.cfg.Subdev)
		return "", fmt.Errorf("could not save calibration: %w", err)
	}

	var (
		sess = srv.sess
		prev = sess.Tube()
		done = make(chan result, 1)
	)
	srv.done = done
	go func() {
		defer f.Close()
		rep, err := sess.StreamToFile(context.Background(), f)
		if err == nil {
			err = f.Close()
		}
		done <- result{rep, err}
	}()

	// wait for the tube to be in place so a following /stop reaches it.
	for sess.Tube() == prev {
		select {
		case res := <-done:
			srv.done = nil
			return fname, res.err
		default:
			time.Sleep(time.Millisecond)
		}
	}

	return fname, nil
}

func (srv *server) stop() (acq.Report, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.done == nil {
		return acq.Report{}, fmt.Errorf("no transfer in progress")
	}

	srv.sess.Stop()
	res := <-srv.done
	srv.done = nil
	return res.rep, res.err
}

func (srv *server) close() error {
	srv.mu.Lock()
	running := srv.done != nil
	srv.mu.Unlock()

	if running {
		_, err := srv.stop()
		if err != nil {
			srv.msg.Printf("could not stop transfer: %+v", err)
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	srv.dev = nil
	srv.sess = nil
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

func encodeReport(rep acq.Report) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(rep.Output)
	enc.WriteI64(rep.Bytes)
	enc.WriteI64(rep.Records)
	enc.WriteI64(rep.Scans)
	enc.WriteU32(uint32(rep.Status))
	enc.WriteI64(int64(rep.Elapsed))
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
