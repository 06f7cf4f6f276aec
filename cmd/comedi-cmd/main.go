// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// comedi-cmd runs a timed acquisition on a COMEDI device and displays
// each scan, converted to physical values.
//
// Usage: comedi-cmd [OPTIONS]
//
// Example:
//
//  $> comedi-cmd -dev sim: -n 2 -scans 3
//  [...]
//       NaN -9.99969
//  -9.99939 -9.99908
//  -9.99878 -9.99847
//  comedi-cmd: 3 scans
package main // import "github.com/go-lpc/daqtube/cmd/comedi-cmd"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/daqtube/acq"
	"github.com/go-lpc/daqtube/comedi"
)

func main() {
	log.SetPrefix("comedi-cmd: ")
	log.SetFlags(0)

	var (
		fname  = flag.String("cfg", "", "path to a YAML acquisition preset")
		dev    = flag.String("dev", "/dev/comedi0", "path to the COMEDI device (sim: for a simulated board)")
		subdev = flag.Uint("subdev", 0, "subdevice to acquire from")
		nchans = flag.Uint("n", 2, "number of channels to acquire, starting at channel 0")
		rng    = flag.Uint("range", 0, "range index of the channels")
		aref   = flag.String("aref", "ground", "analog reference of the channels")
		period = flag.Uint("period", 10000, "scan period in nanoseconds")
		nscans = flag.Uint("scans", 100, "number of scans to acquire")
	)

	flag.Parse()

	cfg := acq.DefaultConfig()
	switch *fname {
	case "":
		cfg.Device = *dev
		cfg.Subdev = uint32(*subdev)
		cfg.PeriodNS = uint32(*period)
		cfg.Scans = uint32(*nscans)
		cfg.Channels = make([]acq.Channel, *nchans)
		for i := range cfg.Channels {
			cfg.Channels[i] = acq.Channel{
				Chan:  uint32(i),
				Range: uint32(*rng),
				ARef:  *aref,
			}
		}
	default:
		v, err := acq.LoadConfig(*fname)
		if err != nil {
			log.Fatalf("could not load preset: %+v", err)
		}
		cfg = v
	}

	n, err := run(os.Stdout, log.Default(), cfg)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
	log.Printf("%d scans", n)
}

func run(w io.Writer, msg *log.Logger, cfg acq.Config) (int64, error) {
	if cfg.Scans == 0 {
		return 0, fmt.Errorf("invalid number of scans (0)")
	}

	dev, err := comedi.Open(cfg.Device, comedi.WithLogger(msg))
	if err != nil {
		return 0, err
	}
	defer dev.Close()

	sess, err := acq.NewSession(dev, cfg, acq.WithLogger(msg))
	if err != nil {
		return 0, fmt.Errorf("could not create session: %w", err)
	}

	err = sess.Arm()
	if err != nil {
		return 0, err
	}

	n, err := sess.ReadScans(w, nil)
	if err != nil {
		return n, err
	}

	return n, dev.Close()
}
