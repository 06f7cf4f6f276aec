// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// comedi-read reads one sample from a channel of a COMEDI device.
//
// Usage: comedi-read [OPTIONS]
//
// Example:
//
//  $> comedi-read -dev sim: -subdev 0 -chan 3 -range 1 -phys
//  32770
//  0.000381476 V
package main // import "github.com/go-lpc/daqtube/cmd/comedi-read"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/daqtube/comedi"
)

func main() {
	log.SetPrefix("comedi-read: ")
	log.SetFlags(0)

	var (
		dev    = flag.String("dev", "/dev/comedi0", "path to the COMEDI device (sim: for a simulated board)")
		subdev = flag.Uint("subdev", 0, "subdevice to read from")
		ch     = flag.Uint("chan", 0, "channel to read")
		rng    = flag.Uint("range", 0, "range index of the channel")
		aref   = flag.String("aref", "ground", "analog reference (ground, common, diff, other)")
		phys   = flag.Bool("phys", false, "also display the value in physical units")
	)

	flag.Parse()

	err := run(os.Stdout, *dev, uint32(*subdev), uint32(*ch), uint32(*rng), *aref, *phys)
	if err != nil {
		log.Fatalf("could not read sample: %+v", err)
	}
}

func run(w io.Writer, path string, subdev, ch, rng uint32, aref string, phys bool) error {
	ar, err := comedi.ParseARef(aref)
	if err != nil {
		return err
	}

	dev, err := comedi.Open(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	raw, err := dev.DataRead(subdev, ch, rng, ar)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d\n", raw)

	if !phys {
		return dev.Close()
	}

	r, err := dev.Range(subdev, ch, rng)
	if err != nil {
		return err
	}
	maxdata, err := dev.MaxData(subdev, ch)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%.6g %s\n", dev.ToPhys(raw, r, maxdata), r.Unit)

	return dev.Close()
}
