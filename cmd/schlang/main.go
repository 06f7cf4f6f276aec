// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// schlang is an interactive shell to drive COMEDI devices and tubes.
//
// Usage: schlang [OPTIONS]
//
// Example:
//
//  $> schlang -dev sim:
//  schlang> info
//  board: sim-ai16 (driver: comedi_sim)
//  subdev 0: ai      nchans=16 sample=2 bytes
//  [...]
//  schlang> tube run.raw 0 2 10000 0
//  schlang> status
//  sim:[0] -> "run.raw": 1048576 bytes, 524288 records, 262144 scans in 2.6s (status=inplace|active)
//  schlang> stop
//  schlang> quit
package main // import "github.com/go-lpc/daqtube/cmd/schlang"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("schlang: ")
	log.SetFlags(0)

	var (
		dev  = flag.String("dev", "", "path to a COMEDI device to open at startup")
		hist = flag.String("history", filepath.Join(os.TempDir(), ".schlang_history"), "path to the history file")
	)

	flag.Parse()

	sh := newShell(log.Default())
	defer sh.close()

	if *dev != "" {
		err := sh.exec(os.Stdout, "open "+*dev)
		if err != nil {
			log.Fatalf("could not open device: %+v", err)
		}
	}

	err := repl(sh, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func repl(sh *shell, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("schlang> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			fmt.Println()
			return nil
		default:
			return fmt.Errorf("could not read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(os.Stdout, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			log.Printf("%+v", err)
		}
	}
}
