// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tube-daq streams an acquisition from a COMEDI device to a file, in the
// background, through a tube.
//
// Usage: tube-daq [OPTIONS] -o OUTPUT
//
// The acquisition preset is read from a YAML file (-cfg) or from the
// conditions database (-db, -preset).
// The calibration of the acquired channels is written next to the output
// file (OUTPUT.calib.yaml) so that tube-dump can decode it.
//
// Example:
//
//  $> tube-daq -cfg ./preset.yaml -o run-001.raw -addr :8080 -ledger runs.db
//  tube-daq: streaming to "run-001.raw"...
//  tube-daq: sim:[0] -> "run-001.raw": 2097152 bytes, 1048576 records, 524288 scans in 5.2s (status=inplace|active)
//  [...]
//  tube-daq: streaming to "run-001.raw"... [done]
//
// A running acquisition can be stopped with Ctrl-C or through the HTTP API:
//
//  $> curl -X POST localhost:8080/api/stop
package main // import "github.com/go-lpc/daqtube/cmd/tube-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/daqtube"
	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/comedi"
	"github.com/go-lpc/daqtube/conddb"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("tube-daq: ")
	log.SetFlags(0)

	var (
		cfg = flag.String("cfg", "", "path to a YAML acquisition preset")
		db  = flag.String("db", "", "name of the conditions database holding the acquisition presets")
		set = flag.String("preset", "", "name of the acquisition preset in the conditions database (default: last one)")
		out = flag.String("o", "", "path to the output file")

		addr   = flag.String("addr", "", "[ip]:[port] of the HTTP API (disabled if empty)")
		ledger = flag.String("ledger", "", "path to the ledger of runs (disabled if empty)")
		freq   = flag.Duration("freq", 1*time.Second, "frequency of progress reports")

		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doMail = flag.Bool("alert", false, "enable mail alerts (configured from MAIL_XXX environment variables)")
		doVers = flag.Bool("version", false, "display version and exit")
	)

	flag.Parse()

	if *doVers {
		v, sum := daqtube.Version()
		fmt.Printf("tube-daq %s %s\n", v, sum)
		return
	}

	if *out == "" {
		flag.Usage()
		log.Fatalf("missing path to output file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, options{
		cfg:    *cfg,
		db:     *db,
		preset: *set,
		out:    *out,
		addr:   *addr,
		ledger: *ledger,
		freq:   *freq,
		pmon:   *doMon,
		mail:   *doMail,
	})
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

type options struct {
	cfg    string
	db     string
	preset string
	out    string

	addr   string
	ledger string
	freq   time.Duration

	pmon bool
	mail bool
}

func run(ctx context.Context, opts options) error {
	var cdb *conddb.DB
	if opts.db != "" {
		db, err := conddb.Open(opts.db)
		if err != nil {
			return fmt.Errorf("could not open conditions db: %w", err)
		}
		defer db.Close()
		cdb = db
	}

	cfg, err := loadPreset(ctx, cdb, opts)
	if err != nil {
		return err
	}
	cfg.Output = opts.out

	if opts.pmon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create(opts.out + ".pmon")
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = opts.freq

		go func() {
			err := p.Run()
			if err != nil {
				log.Printf("could not run pmon: %+v", err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	dev, err := comedi.Open(cfg.Device, comedi.WithLogger(log.Default()))
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	sess, err := acq.NewSession(
		dev, cfg,
		acq.WithLogger(log.Default()),
		acq.WithProgress(opts.freq, func(rep acq.Report) {
			log.Printf("%v", rep)
		}),
	)
	if err != nil {
		return fmt.Errorf("could not create session: %w", err)
	}

	var ldg *acq.Ledger
	if opts.ledger != "" {
		ldg, err = acq.OpenLedger(opts.ledger)
		if err != nil {
			return err
		}
		defer ldg.Close()
	}

	var alr *acq.Alerter
	if opts.mail {
		alr = acq.NewAlerter("tube-daq", acq.MailConfigFromEnv(), 10*opts.freq)
	}

	err = sess.Arm()
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	err = sess.Calib().Save(acq.SidecarName(opts.out))
	if err != nil {
		return fmt.Errorf("could not save calibration: %w", err)
	}

	grp, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if opts.addr != "" {
		srv := acq.NewAPI(sess, ldg).Server(opts.addr)
		grp.Go(func() error {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("could not serve API: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			return srv.Shutdown(context.Background())
		})
	}

	if alr != nil {
		grp.Go(func() error {
			wctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				<-done
				cancel()
			}()
			alr.Watch(wctx, opts.out)
			return nil
		})
	}

	var rep acq.Report
	grp.Go(func() error {
		defer close(done)
		log.Printf("streaming to %q...", opts.out)
		var err error
		rep, err = sess.StreamToFile(ctx, f)
		if err != nil {
			return err
		}
		log.Printf("streaming to %q... [done]", opts.out)
		return nil
	})

	err = grp.Wait()
	if alr != nil {
		alr.Failure(rep)
	}
	if e := record(cdb, ldg, rep); e != nil {
		log.Printf("could not record run: %+v", e)
	}
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}

	return dev.Close()
}

func loadPreset(ctx context.Context, db *conddb.DB, opts options) (acq.Config, error) {
	switch {
	case opts.cfg != "":
		return acq.LoadConfig(opts.cfg)
	case db != nil:
		name := opts.preset
		if name == "" {
			v, err := db.LastPreset(ctx)
			if err != nil {
				return acq.Config{}, fmt.Errorf("could not get last preset: %w", err)
			}
			name = v
		}
		log.Printf("preset: %q", name)
		cfg, err := db.Preset(ctx, name)
		if err != nil {
			return cfg, fmt.Errorf("could not get preset %q: %w", name, err)
		}
		err = cfg.Validate()
		if err != nil {
			return cfg, fmt.Errorf("invalid preset %q: %w", name, err)
		}
		return cfg, nil
	}
	return acq.Config{}, fmt.Errorf("missing acquisition preset (-cfg or -db)")
}

func record(db *conddb.DB, ldg *acq.Ledger, rep acq.Report) error {
	if rep.Start.IsZero() {
		return nil
	}
	run := acq.RunFrom(rep)
	if ldg != nil {
		id, err := ldg.Record(run)
		if err != nil {
			return err
		}
		log.Printf("run %d recorded", id)
	}
	if db != nil {
		err := db.RecordRun(context.Background(), run)
		if err != nil {
			return err
		}
	}
	return nil
}
