// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mail "gopkg.in/gomail.v2"
)

// MailConfig holds the credentials used to send alerts.
type MailConfig struct {
	Username string
	Password string
	Server   string
	Port     int
	Targets  []string
}

// MailConfigFromEnv reads the mail credentials from the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func MailConfigFromEnv() MailConfig {
	cfg := MailConfig{
		Username: os.Getenv("MAIL_USERNAME"),
		Password: os.Getenv("MAIL_PASSWORD"),
		Server:   os.Getenv("MAIL_SERVER"),
		Port:     atoi(os.Getenv("MAIL_PORT")),
	}
	if tgts := os.Getenv("MAIL_TGTS"); tgts != "" {
		cfg.Targets = strings.Split(tgts, ",")
	}
	return cfg
}

func (cfg MailConfig) valid() bool {
	return cfg.Username != "" && cfg.Password != "" &&
		cfg.Server != "" && cfg.Port != 0 &&
		len(cfg.Targets) != 0
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

const maxAlerts = 5

// Alerter sends mail alerts about a transfer: when its destination file
// stops growing, or when the tube fails.
type Alerter struct {
	msg  *log.Logger
	name string
	cfg  MailConfig
	freq time.Duration
	send func(msg *mail.Message) error

	mu     sync.Mutex
	alerts map[string]int // number of alerts per subject
}

// NewAlerter creates an alerter named name, probing files every freq.
func NewAlerter(name string, cfg MailConfig, freq time.Duration) *Alerter {
	alr := &Alerter{
		msg:    log.New(os.Stdout, "acq: ", 0),
		name:   name,
		cfg:    cfg,
		freq:   freq,
		alerts: make(map[string]int),
	}
	alr.send = alr.dial
	return alr
}

func (alr *Alerter) dial(msg *mail.Message) error {
	dial := mail.NewDialer(alr.cfg.Server, alr.cfg.Port, alr.cfg.Username, alr.cfg.Password)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

// Watch probes the size of fname every freq until ctx is done, and sends
// an alert each time it did not change between two probes.
func (alr *Alerter) Watch(ctx context.Context, fname string) {
	var (
		tick = time.NewTicker(alr.freq)
		ref  = int64(-1)
	)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fi, err := os.Stat(fname)
			if err != nil {
				alr.msg.Printf("could not stat %q: %+v", fname, err)
				continue
			}
			size := fi.Size()
			if size == ref {
				alr.Alert(
					fmt.Sprintf("file alert: %q", fname),
					fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v", fname, size, alr.freq),
				)
			}
			ref = size
		}
	}
}

// Failure sends an alert about the failed transfer described by rep.
func (alr *Alerter) Failure(rep Report) {
	if rep.Err == nil {
		return
	}
	alr.Alert(
		fmt.Sprintf("transfer failure: %q", rep.Output),
		fmt.Sprintf("%v\nerror: %v", rep, rep.Err),
	)
}

// Alert logs an alert and mails it, at most a few times per subject.
func (alr *Alerter) Alert(subject, body string) {
	alr.msg.Printf("alert: %s", subject)

	alr.mu.Lock()
	alr.alerts[subject]++
	n := alr.alerts[subject]
	alr.mu.Unlock()

	if n >= maxAlerts {
		return
	}

	if !alr.cfg.valid() {
		alr.msg.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alr.cfg.Username)
	msg.SetHeader("Bcc", alr.cfg.Targets...)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] %s", alr.name, subject))
	msg.SetBody("text/plain", body)

	err := alr.send(msg)
	if err != nil {
		alr.msg.Printf("could not send mail alert: %+v", err)
	}
}
