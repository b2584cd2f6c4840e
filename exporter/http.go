// Copyright 2024 The SMA Inverter Exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exporter wires the inverter session layer to a scheduling
// loop and an HTTP metrics endpoint.
package exporter

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAddr is the fixed metrics HTTP listener address (spec §6).
const ListenAddr = "0.0.0.0:9745"

// NewHTTPServer builds the HTTP server that exposes the metric
// snapshot. Any request path returns the same rendered text exposition;
// there is no routing beyond what promhttp.Handler already provides,
// but the router is kept so additional paths (health checks) have
// somewhere to live without reshaping the server construction.
func NewHTTPServer() *http.Server {
	handler := GatherGuard(promhttp.Handler())

	router := mux.NewRouter()
	router.Handle("/metrics", handler)
	router.PathPrefix("/").Handler(handler)

	return &http.Server{
		Addr:    ListenAddr,
		Handler: router,
	}
}
