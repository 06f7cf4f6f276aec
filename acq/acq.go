// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq runs acquisitions on COMEDI devices.
//
// An acquisition is described by a preset (Config), loaded from YAML files
// or from the conditions database. A Session derives the channel list and
// the calibration of each channel from the device, builds and arms the
// timed command, and either reads scans synchronously or streams the raw
// samples to a file through a tube.
//
// Raw files are decoded back into physical values with Decode, using the
// calibration stored along them.
package acq // import "github.com/go-lpc/daqtube/acq"
