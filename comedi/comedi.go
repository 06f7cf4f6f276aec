// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comedi provides typed access to COMEDI data-acquisition devices.
//
// A Device wraps a Driver: either the native comedilib backend (built with
// the "comedi" build tag) or the in-process simulated board selected with
// the "sim:" path prefix.
package comedi // import "github.com/go-lpc/daqtube/comedi"

import "fmt"

// Sample is a raw code produced by an analog-to-digital conversion.
// Subdevices with the SDFLSampl flag produce 32-bit samples (lsampl_t),
// the others 16-bit ones (sampl_t).
type Sample uint32

const (
	sizeSampl  = 2 // sizeof(sampl_t)
	sizeLSampl = 4 // sizeof(lsampl_t)
)

// ARef is the analog reference mode of a channel.
type ARef uint32

const (
	ARefGround ARef = 0 // analog ref = analog ground
	ARefCommon ARef = 1 // analog ref = analog common
	ARefDiff   ARef = 2 // analog ref = differential
	ARefOther  ARef = 3 // analog ref = other (undefined)
)

func (aref ARef) String() string {
	switch aref {
	case ARefGround:
		return "ground"
	case ARefCommon:
		return "common"
	case ARefDiff:
		return "diff"
	case ARefOther:
		return "other"
	}
	return fmt.Sprintf("ARef(%d)", uint32(aref))
}

// ParseARef parses the name of an analog reference mode.
func ParseARef(s string) (ARef, error) {
	switch s {
	case "ground", "gnd", "":
		return ARefGround, nil
	case "common", "com":
		return ARefCommon, nil
	case "diff", "differential":
		return ARefDiff, nil
	case "other":
		return ARefOther, nil
	}
	return 0, fmt.Errorf("comedi: invalid analog reference %q", s)
}

// Unit is the physical unit of a range.
type Unit uint32

const (
	UnitVolt Unit = 0
	UnitMA   Unit = 1 // milli-Ampere
	UnitNone Unit = 2
)

func (u Unit) String() string {
	switch u {
	case UnitVolt:
		return "V"
	case UnitMA:
		return "mA"
	case UnitNone:
		return ""
	}
	return fmt.Sprintf("(unknown unit %d)", uint32(u))
}

// SubdevType is the type of a subdevice.
type SubdevType int

const (
	SubdevUnused SubdevType = iota
	SubdevAI
	SubdevAO
	SubdevDI
	SubdevDO
	SubdevDIO
	SubdevCounter
	SubdevTimer
	SubdevMemory
	SubdevCalib
	SubdevProc
	SubdevSerial
	SubdevPWM
)

var subdevNames = [...]string{
	SubdevUnused:  "unused",
	SubdevAI:      "ai",
	SubdevAO:      "ao",
	SubdevDI:      "di",
	SubdevDO:      "do",
	SubdevDIO:     "dio",
	SubdevCounter: "counter",
	SubdevTimer:   "timer",
	SubdevMemory:  "memory",
	SubdevCalib:   "calib",
	SubdevProc:    "proc",
	SubdevSerial:  "serial",
	SubdevPWM:     "pwm",
}

func (typ SubdevType) String() string {
	if typ < 0 || int(typ) >= len(subdevNames) {
		return fmt.Sprintf("SubdevType(%d)", int(typ))
	}
	return subdevNames[typ]
}

// SubdevFlags is the bitmask describing the capabilities and state of a
// subdevice.
type SubdevFlags uint32

const (
	SDFBusy           SubdevFlags = 0x0001
	SDFBusyOwner      SubdevFlags = 0x0002
	SDFLocked         SubdevFlags = 0x0004
	SDFLockOwner      SubdevFlags = 0x0008
	SDFMaxData        SubdevFlags = 0x0010 // maxdata depends on channel
	SDFFlags          SubdevFlags = 0x0020 // flags depend on channel
	SDFRangeType      SubdevFlags = 0x0040 // range type depends on channel
	SDFCmd            SubdevFlags = 0x1000 // can do commands
	SDFSoftCalibrated SubdevFlags = 0x2000
	SDFReadable       SubdevFlags = 0x00010000
	SDFWritable       SubdevFlags = 0x00020000
	SDFInternal       SubdevFlags = 0x00040000
	SDFGround         SubdevFlags = 0x00100000 // can do aref=ground
	SDFCommon         SubdevFlags = 0x00200000 // can do aref=common
	SDFDiff           SubdevFlags = 0x00400000 // can do aref=diff
	SDFOther          SubdevFlags = 0x00800000 // can do aref=other
	SDFDither         SubdevFlags = 0x01000000
	SDFDeglitch       SubdevFlags = 0x02000000
	SDFMmap           SubdevFlags = 0x04000000
	SDFRunning        SubdevFlags = 0x08000000 // subdevice is acquiring data
	SDFLSampl         SubdevFlags = 0x10000000 // subdevice uses 32-bit samples
	SDFPacked         SubdevFlags = 0x20000000
)

// SampleSize returns the number of bytes of one sample produced by a
// subdevice with these flags.
func (flags SubdevFlags) SampleSize() int {
	if flags&SDFLSampl != 0 {
		return sizeLSampl
	}
	return sizeSampl
}

// canARef reports whether the subdevice supports the aref mode.
func (flags SubdevFlags) canARef(aref ARef) bool {
	switch aref {
	case ARefGround:
		return flags&SDFGround != 0
	case ARefCommon:
		return flags&SDFCommon != 0
	case ARefDiff:
		return flags&SDFDiff != 0
	case ARefOther:
		return flags&SDFOther != 0
	}
	return false
}

// ChanSpec is a packed channel/range/aref code, as built by CR_PACK.
type ChanSpec uint32

// Pack packs a channel, a range index and an analog reference into a
// channel specification.
func Pack(ch, rng uint32, aref ARef) ChanSpec {
	return ChanSpec((uint32(aref)&0x3)<<24 | (rng&0xff)<<16 | ch&0xffff)
}

func (cs ChanSpec) Chan() uint32  { return uint32(cs) & 0xffff }
func (cs ChanSpec) Range() uint32 { return (uint32(cs) >> 16) & 0xff }
func (cs ChanSpec) ARef() ARef    { return ARef((uint32(cs) >> 24) & 0x3) }

func (cs ChanSpec) String() string {
	return fmt.Sprintf("chan=%d range=%d aref=%v", cs.Chan(), cs.Range(), cs.ARef())
}
