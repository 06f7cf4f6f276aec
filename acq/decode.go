// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-lpc/daqtube/comedi"
	"golang.org/x/xerrors"
	"sigs.k8s.io/yaml"
)

// ChannelCalib holds what is needed to convert the raw codes of a channel.
type ChannelCalib struct {
	Spec    comedi.ChanSpec `json:"spec"`
	Range   comedi.Range    `json:"range"`
	MaxData comedi.Sample   `json:"maxdata"`
}

// Calib describes the layout and the calibration of a raw sample stream.
// Samples are stored little-endian, scan after scan, in channel list order.
type Calib struct {
	SampleSize int                `json:"sample_size"`
	OOR        comedi.OORBehavior `json:"oor"`
	Channels   []ChannelCalib     `json:"channels"`
}

// Phys converts the raw code of the i-th channel of a scan.
func (cal Calib) Phys(i int, raw comedi.Sample) float64 {
	ch := cal.Channels[i]
	return comedi.ToPhys(raw, ch.Range, ch.MaxData, cal.OOR)
}

// ScanSize returns the number of bytes of one scan.
func (cal Calib) ScanSize() int {
	return cal.SampleSize * len(cal.Channels)
}

// SidecarName returns the name of the calibration file stored along a raw
// data file.
func SidecarName(fname string) string {
	return fname + ".calib.yaml"
}

// LoadCalib reads a calibration file.
func LoadCalib(fname string) (Calib, error) {
	var cal Calib
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cal, fmt.Errorf("acq: could not read calib file %q: %w", fname, err)
	}
	err = yaml.Unmarshal(raw, &cal)
	if err != nil {
		return cal, fmt.Errorf("acq: could not decode calib file %q: %w", fname, err)
	}
	return cal, nil
}

// Save writes the calibration to fname.
func (cal Calib) Save(fname string) error {
	raw, err := yaml.Marshal(cal)
	if err != nil {
		return fmt.Errorf("acq: could not encode calib: %w", err)
	}
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return fmt.Errorf("acq: could not write calib file %q: %w", fname, err)
	}
	return nil
}

// Decoder reads scans of raw samples from an underlying data source.
type Decoder struct {
	r   io.Reader
	cal Calib
	buf []byte
	err error
	n   int64 // scans decoded
}

// NewDecoder creates a decoder reading samples laid out as described by cal.
func NewDecoder(r io.Reader, cal Calib) *Decoder {
	return &Decoder{
		r:   r,
		cal: cal,
		buf: make([]byte, 4),
	}
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

func (dec *Decoder) readSample() comedi.Sample {
	switch dec.cal.SampleSize {
	case 4:
		dec.load(4)
		return comedi.Sample(binary.LittleEndian.Uint32(dec.buf[:4]))
	default:
		dec.load(2)
		return comedi.Sample(binary.LittleEndian.Uint16(dec.buf[:2]))
	}
}

// DecodeRaw reads the raw codes of the next scan.
// DecodeRaw returns io.EOF when no more scan is available.
func (dec *Decoder) DecodeRaw(raw []comedi.Sample) error {
	if dec.err != nil {
		return dec.err
	}
	switch dec.cal.SampleSize {
	case 2, 4:
	default:
		dec.err = xerrors.Errorf("acq: invalid sample size %d", dec.cal.SampleSize)
		return dec.err
	}
	if len(raw) != len(dec.cal.Channels) {
		return xerrors.Errorf(
			"acq: invalid scan length (got=%d, want=%d)",
			len(raw), len(dec.cal.Channels),
		)
	}

	for i := range raw {
		raw[i] = dec.readSample()
		if dec.err == nil {
			continue
		}
		switch {
		case i == 0 && dec.err == io.EOF:
			return io.EOF
		case dec.err == io.EOF:
			dec.err = io.ErrUnexpectedEOF
		}
		dec.err = xerrors.Errorf(
			"acq: could not read channel #%d of scan %d: %w",
			i, dec.n, dec.err,
		)
		return dec.err
	}
	dec.n++
	return nil
}

// Decode reads the next scan and converts it to physical values.
// Decode returns io.EOF when no more scan is available.
func (dec *Decoder) Decode(scan []float64) error {
	raw := make([]comedi.Sample, len(scan))
	err := dec.DecodeRaw(raw)
	if err != nil {
		return err
	}
	for i, v := range raw {
		scan[i] = dec.cal.Phys(i, v)
	}
	return nil
}

// Decode decodes a whole raw data stream into scans of physical values,
// in channel list order.
// The complete scans read before a failure are returned with the error.
func Decode(r io.Reader, cal Calib) ([][]float64, error) {
	var (
		dec   = NewDecoder(bufio.NewReader(r), cal)
		scans [][]float64
	)
	for {
		scan := make([]float64, len(cal.Channels))
		err := dec.Decode(scan)
		if err != nil {
			if err == io.EOF {
				return scans, nil
			}
			return scans, err
		}
		scans = append(scans, scan)
	}
}
