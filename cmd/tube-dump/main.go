// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tube-dump decodes and displays raw files written by tube-daq.
//
// Usage: tube-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// The calibration of each file is read from its FILE.calib.yaml sidecar.
//
// Example:
//
//  $> tube-dump ./run-001.raw
//  === file "./run-001.raw" ===
//  chan:  0/r0 [-10,10]V  1/r0 [-10,10]V
//       NaN -9.99969
//  -9.99939 -9.99908
//  [...]
//
//  $> tube-dump -summary ./run-001.raw
//  === file "./run-001.raw" ===
//  scans: 100
//  chan  0/r0 [-10,10]V: entries=      99 mean=    -9.96948 rms=     0.01753 nan=1
//  chan  1/r0 [-10,10]V: entries=     100 mean=    -9.96948 rms=     0.01771 nan=0
package main // import "github.com/go-lpc/daqtube/cmd/tube-dump"

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/go-lpc/daqtube/acq"
	"go-hep.org/x/hep/hbook"
)

func main() {
	log.SetPrefix("tube-dump: ")
	log.SetFlags(0)

	var (
		summary = flag.Bool("summary", false, "display per-channel summary statistics instead of scans")
		nbins   = flag.Int("nbins", 100, "number of bins of the per-channel histograms")
	)

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, *summary, *nbins)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, summary bool, nbins int) error {
	cal, err := acq.LoadCalib(acq.SidecarName(fname))
	if err != nil {
		return fmt.Errorf("could not load calibration: %w", err)
	}

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	o := bufio.NewWriter(w)
	defer o.Flush()

	fmt.Fprintf(o, "=== file %q ===\n", fname)

	var (
		dec  = acq.NewDecoder(bufio.NewReader(f), cal)
		scan = make([]float64, len(cal.Channels))
	)

	if summary {
		return dumpSummary(o, dec, cal, scan, nbins)
	}

	fmt.Fprintf(o, "chan:")
	for _, ch := range cal.Channels {
		fmt.Fprintf(o, " %2d/r%d %v", ch.Spec.Chan(), ch.Spec.Range(), ch.Range)
	}
	fmt.Fprintf(o, "\n")

	for {
		err := dec.Decode(scan)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("could not decode scan: %w", err)
		}
		for _, v := range scan {
			fmt.Fprintf(o, "%#8.6g ", v)
		}
		fmt.Fprintf(o, "\n")
	}

	return o.Flush()
}

func dumpSummary(o *bufio.Writer, dec *acq.Decoder, cal acq.Calib, scan []float64, nbins int) error {
	var (
		hs   = make([]*hbook.H1D, len(cal.Channels))
		nans = make([]int, len(cal.Channels))
		n    = 0
	)
	for i, ch := range cal.Channels {
		xmin, xmax := ch.Range.Min, ch.Range.Max
		if xmin >= xmax {
			xmax = xmin + 1
		}
		hs[i] = hbook.NewH1D(nbins, xmin, xmax)
	}

	for {
		err := dec.Decode(scan)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("could not decode scan %d: %w", n, err)
		}
		n++
		for i, v := range scan {
			if math.IsNaN(v) {
				nans[i]++
				continue
			}
			hs[i].Fill(v, 1)
		}
	}

	fmt.Fprintf(o, "scans: %d\n", n)
	for i, ch := range cal.Channels {
		h := hs[i]
		mean, rms := math.NaN(), math.NaN()
		if h.Entries() > 0 {
			mean = h.XMean()
			rms = h.XStdDev()
		}
		fmt.Fprintf(o,
			"chan %2d/r%d %v: entries=%8d mean=%12.5f rms=%12.5f nan=%d\n",
			ch.Spec.Chan(), ch.Spec.Range(), ch.Range,
			h.Entries(), mean, rms, nans[i],
		)
	}

	return o.Flush()
}
