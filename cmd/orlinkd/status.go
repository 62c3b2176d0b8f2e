// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/channel"
	"github.com/dtn7/orlink-go/pkg/history"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/metrics/prom"
)

// statusAPI is a read-only RESTful view of a channel.Manager, its link history and metrics.
type statusAPI struct {
	router  *mux.Router
	manager *channel.Manager
	store   *history.Store
}

// historyResponse is the body of /peers/{identity}/history.
type historyResponse struct {
	Summary history.Summary      `json:"summary"`
	Links   []history.LinkRecord `json:"links"`
}

// newStatusAPI for a Manager. The history store is optional.
func newStatusAPI(manager *channel.Manager, store *history.Store, registry *prometheus.Registry) *statusAPI {
	api := &statusAPI{
		router:  mux.NewRouter(),
		manager: manager,
		store:   store,
	}

	api.router.HandleFunc("/channels", api.handleChannels).Methods(http.MethodGet)
	api.router.HandleFunc("/channels/{id}", api.handleChannel).Methods(http.MethodGet)
	api.router.HandleFunc("/peers/{identity}/history", api.handleHistory).Methods(http.MethodGet)
	api.router.Handle("/metrics", prom.Handler(registry)).Methods(http.MethodGet)

	return api
}

func (api *statusAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

// writeJSON encodes a response body.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// snapshot of all channels, taken on the Loop.
func (api *statusAPI) snapshot(r *http.Request) (infos []channel.Info, err error) {
	err = api.manager.Loop().Call(r.Context(), func() { infos = api.manager.Snapshot() })
	return
}

// handleChannels processes /channels GET requests.
func (api *statusAPI) handleChannels(w http.ResponseWriter, r *http.Request) {
	infos, err := api.snapshot(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, infos)
}

// handleChannel processes /channels/{id} GET requests.
func (api *statusAPI) handleChannel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}

	var (
		info  channel.Info
		found bool
	)
	callErr := api.manager.Loop().Call(r.Context(), func() {
		var ch *channel.Channel
		if ch, found = api.manager.Registry().Lookup(id); found {
			info = ch.Info()
		}
	})

	switch {
	case callErr != nil:
		http.Error(w, callErr.Error(), http.StatusServiceUnavailable)
	case !found:
		http.Error(w, "unknown channel", http.StatusNotFound)
	default:
		writeJSON(w, info)
	}
}

// handleHistory processes /peers/{identity}/history GET requests.
func (api *statusAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		http.Error(w, "no link history configured", http.StatusNotFound)
		return
	}

	identity := mux.Vars(r)["identity"]
	if identity != history.Unidentified {
		if _, err := linkcrypto.ParseDigest(identity); err != nil {
			http.Error(w, "invalid identity", http.StatusBadRequest)
			return
		}
	}

	var (
		resp historyResponse
		err  error
	)
	if resp.Links, err = api.store.ForIdentity(identity); err == nil {
		resp.Summary, err = api.store.Summary(identity)
	}
	if err != nil {
		log.WithError(err).WithField("identity", identity).Warn("Failed to query link history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resp)
}
