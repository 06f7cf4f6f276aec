// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// API exposes a session over HTTP:
//
//	GET  /api/status     report of the current transfer
//	POST /api/stop       stop the current transfer
//	POST /api/pause      pause the current transfer
//	POST /api/resume     resume the current transfer
//	GET  /api/runs       runs of the ledger
//	GET  /api/runs/{id}  one run of the ledger
type API struct {
	sess *Session
	ldg  *Ledger
	mux  *mux.Router
}

// NewAPI creates the HTTP API of a session. ldg may be nil.
func NewAPI(sess *Session, ldg *Ledger) *API {
	api := &API{sess: sess, ldg: ldg}
	api.configureRouter()
	return api
}

func (api *API) configureRouter() {
	api.mux = mux.NewRouter()
	sub := api.mux.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", api.handleStatus()).Methods("GET")
	sub.HandleFunc("/stop", api.handleCmd(api.sess.Stop)).Methods("POST")
	sub.HandleFunc("/pause", api.handleCmd(api.sess.Pause)).Methods("POST")
	sub.HandleFunc("/resume", api.handleCmd(api.sess.Resume)).Methods("POST")
	sub.HandleFunc("/runs", api.handleRuns()).Methods("GET")
	sub.HandleFunc("/runs/{id:[0-9]+}", api.handleRun()).Methods("GET")
}

func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.mux.ServeHTTP(w, r)
}

// Server returns an HTTP server for the API, listening on addr.
func (api *API) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusReply struct {
	Name    string `json:"name,omitempty"`
	Device  string `json:"device"`
	Subdev  uint32 `json:"subdev"`
	Output  string `json:"output,omitempty"`
	Bytes   int64  `json:"bytes"`
	Records int64  `json:"records"`
	Scans   int64  `json:"scans"`
	Status  string `json:"status"`
	State   string `json:"state"`
	Elapsed string `json:"elapsed"`
	Error   string `json:"error,omitempty"`
}

func (api *API) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := api.sess.Report()
		reply := statusReply{
			Name:    rep.Name,
			Device:  rep.Device,
			Subdev:  rep.Subdev,
			Output:  rep.Output,
			Bytes:   rep.Bytes,
			Records: rep.Records,
			Scans:   rep.Scans,
			Status:  rep.Status.String(),
			State:   rep.State.String(),
			Elapsed: rep.Elapsed.String(),
		}
		if rep.Err != nil {
			reply.Error = rep.Err.Error()
		}
		writeJSON(w, reply)
	}
}

func (api *API) handleCmd(cmd func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cmd() {
			http.Error(w, "no running transfer", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (api *API) handleRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.ldg == nil {
			http.Error(w, "no ledger", http.StatusNotFound)
			return
		}
		runs, err := api.ldg.Runs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []Run{}
		}
		writeJSON(w, runs)
	}
}

func (api *API) handleRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.ldg == nil {
			http.Error(w, "no ledger", http.StatusNotFound)
			return
		}
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		run, err := api.ldg.Run(id)
		switch {
		case errors.Is(err, ErrNoRun):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, run)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
