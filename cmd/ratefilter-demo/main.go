// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the entry point for the rate filter demo
// application.
//
// This application serves as a concrete, runnable demonstration of the
// core filter library (internal/filter). It fronts a trivial downstream
// handler with the per-identity rate-limiting Gate, so that a caller can
// observe admission and rejection behavior directly over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratefilter/internal/filter"
)

func main() {
	maxRPS := flag.Float64("max_rps", 10, "Per-identity smoothed requests-per-second limit")
	alpha := flag.Float64("alpha", 0.2, "EMA smoothing factor, in (0, 1]")
	samplePeriod := flag.Duration("sample_period", 100*time.Millisecond, "Maximum window an observation batch may span before folding into the EMA")
	maxTrackedIdentities := flag.Int64("max_tracked_identities", 10000, "Soft bound on the number of identities tracked at once")
	evictionSweepInterval := flag.Duration("eviction_sweep_interval", time.Second, "How often the timeout wheel scans for idle identities")
	rejectionDelay := flag.Duration("rejection_delay", 0, "If > 0, hold each rejected request this long before responding instead of responding immediately")
	maxDelayQueue := flag.Int("max_delay_queue", 1000, "Bound on the delayed rejecter's queue; only meaningful when rejection_delay > 0")
	rejectStatus := flag.Int("reject_status", 420, "HTTP status written for rejected requests")
	perIdentityMaxRPS := flag.String("per_identity_max_rps", "", "Comma-separated identity=limit overrides, e.g. '10.0.0.5=500,10.0.0.6=50'")
	identityMode := flag.String("identity", "remote_address", "Identity function: remote_address, remote_address_port, remote_port, or connection_id")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	flag.Parse()

	identityFn, err := identityFuncFromFlag(*identityMode)
	if err != nil {
		log.Fatalf("invalid -identity: %v", err)
	}

	overrides, err := parseOverrides(*perIdentityMaxRPS)
	if err != nil {
		log.Fatalf("invalid -per_identity_max_rps: %v", err)
	}

	cfg := filter.Config{
		Alpha:                 *alpha,
		SamplePeriod:          *samplePeriod,
		MaxRequestsPerSecond:  *maxRPS,
		PerIdentityMaxRPS:     overrides,
		MaxTrackedIdentities:  *maxTrackedIdentities,
		EvictionSweepInterval: *evictionSweepInterval,
		Identity:              identityFn,
		RejectionDelay:        *rejectionDelay,
		MaxDelayQueue:         *maxDelayQueue,
		RejectStatus:          *rejectStatus,
		OnInvariantBreach: func(err error) {
			slog.Error("invariant breach", "error", err)
		},
	}

	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok\n")
	})

	gate, err := filter.New(cfg, downstream)
	if err != nil {
		log.Fatalf("could not construct filter: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", filter.BeginTimeMiddleware(gate))

	// Stash a stable per-connection identifier so -identity=connection_id
	// has something to read; requests on the same keep-alive connection
	// share one tracker.
	var connSeq atomic.Uint64
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: mux,
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			id := "conn-" + strconv.FormatUint(connSeq.Add(1), 10)
			return context.WithValue(ctx, filter.ConnIDContextKey, id)
		},
	}

	if *metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, metricsMux); err != nil && err != http.ErrServerClosed {
				log.Fatalf("could not listen on %s: %v", *metricsAddr, err)
			}
		}()
	}

	go func() {
		fmt.Printf("rate filter demo listening on %s (max_rps=%v, identity=%s)\n", *httpAddr, *maxRPS, *identityMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v\n", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}

	// Release anything still waiting in the delayed rejecter's queue and
	// stop the timeout wheel only after the listener has stopped accepting
	// new connections.
	gate.Close()

	snap := gate.Snapshot()
	fmt.Printf("final thresholds: max_rps=%v max_tracked_identities=%v rejection_delay=%v max_delay_queue=%v\n",
		snap.MaxRequestsPerSecond, snap.MaxTrackedIdentities, snap.RejectionDelay, snap.MaxDelayQueue)
	fmt.Println("server gracefully stopped.")
}

func parseOverrides(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	overrides := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		id, limit, found := strings.Cut(pair, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("malformed override %q, want identity=limit", pair)
		}
		rps, err := strconv.ParseFloat(limit, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed limit in %q: %w", pair, err)
		}
		overrides[id] = rps
	}
	return overrides, nil
}

func identityFuncFromFlag(mode string) (filter.IdentityFunc, error) {
	switch mode {
	case "remote_address":
		return filter.RemoteAddress, nil
	case "remote_address_port":
		return filter.RemoteAddressPort, nil
	case "remote_port":
		return filter.RemotePort, nil
	case "connection_id":
		return filter.ConnectionID, nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", mode)
	}
}
