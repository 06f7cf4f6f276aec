// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

import (
	"fmt"
	"math"
)

// Range describes the physical span of a channel range.
type Range struct {
	Min  float64
	Max  float64
	Unit Unit
}

func (rng Range) String() string {
	return fmt.Sprintf("[%g,%g]%s", rng.Min, rng.Max, rng.Unit)
}

// OORBehavior selects how out-of-range raw codes are converted to
// physical values.
type OORBehavior int

const (
	OORNumber OORBehavior = iota // clamp to the nearest boundary value
	OORNaN                       // produce NaN
)

func (oor OORBehavior) String() string {
	switch oor {
	case OORNumber:
		return "number"
	case OORNaN:
		return "nan"
	}
	return fmt.Sprintf("OORBehavior(%d)", int(oor))
}

// ToPhys converts a raw code into a physical value within rng.
//
// With OORNaN, codes at or beyond the representable boundaries
// (0 and maxdata) yield NaN: the boundary codes themselves are treated as
// saturated, so a raw 0 read back from a data file decodes to NaN.
// With OORNumber, codes beyond maxdata are clamped so the result always lies
// within [rng.Min, rng.Max].
func ToPhys(raw Sample, rng Range, maxdata Sample, oor OORBehavior) float64 {
	if maxdata == 0 {
		return math.NaN()
	}
	switch oor {
	case OORNaN:
		if raw == 0 || raw >= maxdata {
			return math.NaN()
		}
	default:
		if raw > maxdata {
			raw = maxdata
		}
	}

	x := float64(raw) / float64(maxdata)
	x *= rng.Max - rng.Min
	x += rng.Min
	return x
}

// FromPhys converts a physical value into the nearest raw code for rng.
// Values outside of the range are clamped to 0 or maxdata.
func FromPhys(v float64, rng Range, maxdata Sample) Sample {
	if math.IsNaN(v) || rng.Max == rng.Min {
		return 0
	}
	x := (v - rng.Min) / (rng.Max - rng.Min) * float64(maxdata)
	switch {
	case x < 0:
		return 0
	case x > float64(maxdata):
		return maxdata
	}
	return Sample(math.Round(x))
}
