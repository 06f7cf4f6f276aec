// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-lpc/daqtube/comedi"
	"sigs.k8s.io/yaml"
)

// Channel describes one entry of the acquisition channel list.
type Channel struct {
	Chan  uint32 `json:"chan"`
	Range uint32 `json:"range"`
	ARef  string `json:"aref,omitempty"`
}

// Spec returns the packed channel specifier of the channel.
func (ch Channel) Spec() (comedi.ChanSpec, error) {
	aref, err := comedi.ParseARef(ch.ARef)
	if err != nil {
		return 0, err
	}
	return comedi.Pack(ch.Chan, ch.Range, aref), nil
}

// TubeConfig holds the settings of the background transfer.
type TubeConfig struct {
	Chunk  int   `json:"chunk,omitempty"`
	Growth int64 `json:"growth,omitempty"`
	Mmap   bool  `json:"mmap,omitempty"`
	Drain  bool  `json:"drain,omitempty"`
}

// Config is an acquisition preset.
type Config struct {
	Name     string    `json:"name,omitempty"`
	Device   string    `json:"device"`
	Subdev   uint32    `json:"subdev"`
	Channels []Channel `json:"channels"`
	PeriodNS uint32    `json:"period_ns"`
	Scans    uint32    `json:"scans"` // 0 for a continuous acquisition
	OOR      string    `json:"oor,omitempty"`

	Output string     `json:"output,omitempty"`
	Tube   TubeConfig `json:"tube,omitempty"`
}

// DefaultConfig returns the preset of the comedilib tutorials:
// 2 channels of the first subdevice, 100 scans at 100 kHz.
func DefaultConfig() Config {
	return Config{
		Device: "/dev/comedi0",
		Subdev: 0,
		Channels: []Channel{
			{Chan: 0, Range: 0, ARef: "ground"},
			{Chan: 1, Range: 0, ARef: "ground"},
		},
		PeriodNS: 10_000,
		Scans:    100,
		OOR:      "nan",
	}
}

// LoadConfig loads an acquisition preset from a YAML file.
func LoadConfig(fname string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("acq: could not read config file %q: %w", fname, err)
	}
	err = yaml.UnmarshalStrict(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("acq: could not decode config file %q: %w", fname, err)
	}
	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("acq: invalid config file %q: %w", fname, err)
	}
	return cfg, nil
}

// Save writes the preset as YAML to fname, creating its directory if needed.
func (cfg *Config) Save(fname string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("acq: could not encode config: %w", err)
	}
	err = os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		return fmt.Errorf("acq: could not create config dir: %w", err)
	}
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return fmt.Errorf("acq: could not write config file %q: %w", fname, err)
	}
	return nil
}

// Validate checks the preset for values no device could accept.
func (cfg *Config) Validate() error {
	if cfg.Device == "" {
		return fmt.Errorf("acq: missing device path")
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("acq: empty channel list")
	}
	for i, ch := range cfg.Channels {
		if _, err := comedi.ParseARef(ch.ARef); err != nil {
			return fmt.Errorf("acq: invalid channel #%d: %w", i, err)
		}
	}
	if cfg.PeriodNS == 0 {
		return fmt.Errorf("acq: invalid scan period (0ns)")
	}
	if _, err := cfg.oor(); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) oor() (comedi.OORBehavior, error) {
	switch cfg.OOR {
	case "nan", "":
		return comedi.OORNaN, nil
	case "number":
		return comedi.OORNumber, nil
	}
	return 0, fmt.Errorf("acq: invalid out-of-range policy %q", cfg.OOR)
}

// Chanlist returns the packed channel list of the preset.
func (cfg *Config) Chanlist() ([]comedi.ChanSpec, error) {
	specs := make([]comedi.ChanSpec, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		spec, err := ch.Spec()
		if err != nil {
			return nil, fmt.Errorf("acq: invalid channel #%d: %w", i, err)
		}
		specs[i] = spec
	}
	return specs, nil
}
