// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"
)

const runsBucket = "runs"

// ErrNoRun is returned when a run is not in the ledger.
var ErrNoRun = errors.New("acq: no such run")

// Run is the record of a finished transfer.
type Run struct {
	ID      uint64    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Device  string    `json:"device"`
	Subdev  uint32    `json:"subdev"`
	Output  string    `json:"output"`
	Start   time.Time `json:"start"`
	Stop    time.Time `json:"stop"`
	Bytes   int64     `json:"bytes"`
	Records int64     `json:"records"`
	Scans   int64     `json:"scans"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
}

// RunFrom creates the record of a transfer from its final report.
func RunFrom(rep Report) Run {
	run := Run{
		Name:    rep.Name,
		Device:  rep.Device,
		Subdev:  rep.Subdev,
		Output:  rep.Output,
		Start:   rep.Start,
		Stop:    rep.Start.Add(rep.Elapsed),
		Bytes:   rep.Bytes,
		Records: rep.Records,
		Scans:   rep.Scans,
		Status:  rep.Status.String(),
	}
	if rep.Err != nil {
		run.Error = rep.Err.Error()
	}
	return run
}

// Ledger is a persistent log of runs.
type Ledger struct {
	db *bbolt.DB
}

// OpenLedger opens (or creates) the ledger stored in fname.
func OpenLedger(fname string) (*Ledger, error) {
	db, err := bbolt.Open(fname, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("acq: could not open ledger %q: %w", fname, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acq: could not create runs bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func runKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Record appends run to the ledger and returns its identifier.
func (l *Ledger) Record(run Run) (uint64, error) {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(runsBucket))
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		run.ID = id

		raw, err := yaml.Marshal(run)
		if err != nil {
			return err
		}
		return bkt.Put(runKey(id), raw)
	})
	if err != nil {
		return 0, fmt.Errorf("acq: could not record run: %w", err)
	}
	return run.ID, nil
}

// Run returns the run with the provided identifier.
func (l *Ledger) Run(id uint64) (Run, error) {
	var run Run
	err := l.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(runsBucket)).Get(runKey(id))
		if raw == nil {
			return ErrNoRun
		}
		return yaml.Unmarshal(raw, &run)
	})
	if err != nil {
		return run, fmt.Errorf("acq: could not retrieve run %d: %w", id, err)
	}
	return run, nil
}

// Runs returns all the runs of the ledger, in recording order.
func (l *Ledger) Runs() ([]Run, error) {
	var runs []Run
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, raw []byte) error {
			var run Run
			err := yaml.Unmarshal(raw, &run)
			if err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("acq: could not retrieve runs: %w", err)
	}
	return runs, nil
}
