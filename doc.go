// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daqtube holds code to acquire data from COMEDI devices and
// stream it to files in the background.
//
// The comedi package binds the device layer, the tube package moves
// data from a device to a file, and the acq package drives complete
// acquisitions.
package daqtube // import "github.com/go-lpc/daqtube"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of daqtube and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/daqtube"
	if b.Main.Path == root {
		return moduleVersion(b.Main)
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		return moduleVersion(*m)
	}
	return "", ""
}

func moduleVersion(m debug.Module) (version, sum string) {
	if m.Replace != nil {
		switch {
		case m.Replace.Version != "" && m.Replace.Path != "":
			return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
		case m.Replace.Version != "":
			return m.Replace.Version, m.Replace.Sum
		case m.Replace.Path != "":
			return m.Replace.Path, m.Replace.Sum
		default:
			return m.Version + "*", ""
		}
	}
	return m.Version, m.Sum
}
