/*
Copyright 2022 The Katalyst Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes cooling device state and manual level overrides over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
	"github.com/kubewharf/katalyst-cooling/pkg/util/process"
)

const shutdownTimeout = 5 * time.Second

// DeviceRegistry is the view of the cooling devices served.
type DeviceRegistry interface {
	List() []cpufreq.CoolingDevice
	Get(id int) (cpufreq.CoolingDevice, bool)
	TemperatureState() cpufreq.TemperatureState
}

type LevelRequest struct {
	Level int `json:"level"`
}

type TemperatureResponse struct {
	State string `json:"state"`
}

type InfoResponse struct {
	Brand         string `json:"brand"`
	Vendor        string `json:"vendor"`
	PhysicalCores int    `json:"physicalCores"`
	LogicalCores  int    `json:"logicalCores"`
	Devices       int    `json:"devices"`
	DryRun        bool   `json:"dryRun"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	addr     string
	dryRun   bool
	registry DeviceRegistry
	router   *mux.Router
	handler  http.Handler
}

// NewServer builds the router; metricsHandler is mounted at /metrics when set
// and chains wraps every route when set.
func NewServer(addr string, registry DeviceRegistry, metricsHandler http.Handler, chains *process.HTTPHandler, dryRun bool) *Server {
	s := &Server{
		addr:     addr,
		dryRun:   dryRun,
		registry: registry,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.info).Methods(http.MethodGet)
	s.router.HandleFunc("/temperature", s.temperature).Methods(http.MethodGet)
	s.router.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id:[0-9]+}", s.getDevice).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id:[0-9]+}/level", s.setLevel).Methods(http.MethodPut)
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	// a panicking handler answers 500 instead of dropping the connection
	s.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(s.router)
	if chains != nil {
		s.handler = chains.WithHandleChain(s.handler)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		general.Infof("diagnostics listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "diagnostics server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Devices:       len(s.registry.List()),
		DryRun:        s.dryRun,
	})
}

func (s *Server) temperature(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TemperatureResponse{State: s.registry.TemperatureState().String()})
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	snapshots := make([]cpufreq.Snapshot, 0, len(devices))
	for _, dev := range devices {
		snapshots = append(snapshots, dev.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

func (s *Server) setLevel(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req LevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid level request: " + err.Error()})
		return
	}

	general.Infof("manual override of %s to level %d from %s", dev.Name(), req.Level, r.RemoteAddr)
	if err := dev.SetLevel(req.Level); err != nil {
		status := http.StatusInternalServerError
		if cpufreq.IsRangeError(err) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (cpufreq.CoolingDevice, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid device id"})
		return nil, false
	}

	dev, ok := s.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "cooling device " + strconv.Itoa(id) + " not found"})
		return nil, false
	}
	return dev, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		general.Errorf("failed to encode response: %v", err)
	}
}
