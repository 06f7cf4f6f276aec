// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of the acquisition setups.
package conddb // import "github.com/go-lpc/daqtube/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/daqtube/acq"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve acquisition presets
// from the conditions database and to record runs into it.
type DB struct {
	db   *sql.DB
	name string // name of the conditions database
}

// Open opens a connection to the conditions database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastPreset returns the name of the most recent acquisition preset.
func (db *DB) LastPreset(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM presets ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query last preset: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get last preset value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for last preset: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving last preset: %w", err)
	}

	if name == "" {
		return name, fmt.Errorf("conddb: no preset in %q db", db.name)
	}

	return name, nil
}

// Preset returns the acquisition preset name.
func (db *DB) Preset(ctx context.Context, name string) (acq.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg := acq.Config{Name: name}
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT device, subdev, period_ns, scans, oor FROM presets
WHERE name=?
ORDER BY datetime DESC LIMIT 1
`,
		name,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not run preset query: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		err = rows.Scan(&cfg.Device, &cfg.Subdev, &cfg.PeriodNS, &cfg.Scans, &cfg.OOR)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not scan preset %q: %w", name, err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for preset %q: %w", name, err)
	}

	if n == 0 {
		return cfg, fmt.Errorf("conddb: no preset %q", name)
	}

	cfg.Channels, err = db.channels(ctx, name)
	if err != nil {
		return cfg, err
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving preset %q: %w", name, err)
	}

	return cfg, nil
}

func (db *DB) channels(ctx context.Context, preset string) ([]acq.Channel, error) {
	var chans []acq.Channel
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT chan, rng, aref FROM preset_channels
WHERE preset=?
ORDER BY idx
`,
		preset,
	)
	if err != nil {
		return chans, fmt.Errorf("conddb: could not run channels query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var ch acq.Channel
		err = rows.Scan(&ch.Chan, &ch.Range, &ch.ARef)
		if err != nil {
			return chans, fmt.Errorf("conddb: could not scan row %d for channels: %w", i, err)
		}
		i++

		chans = append(chans, ch)
	}

	if err := rows.Err(); err != nil {
		return chans, fmt.Errorf("conddb: could not scan db for channels: %w", err)
	}

	return chans, nil
}

// RecordRun inserts the record of a run into the runs table.
func (db *DB) RecordRun(ctx context.Context, run acq.Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO runs (preset, device, subdev, output, start, stop, bytes, records, scans, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		run.Name, run.Device, run.Subdev, run.Output,
		run.Start, run.Stop,
		run.Bytes, run.Records, run.Scans,
		run.Status, run.Error,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record run: %w", err)
	}
	return nil
}
