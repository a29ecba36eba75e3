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

package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func countingHandler(count *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	})
}

// withArrival stamps an explicit arrival time into the request context, the
// same way BeginTimeMiddleware does, so tests control rate decisions
// deterministically instead of racing the real wall clock.
func withArrival(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), arrivalKey, at))
}

func TestGate_AdmitsLightLoad(t *testing.T) {
	var forwarded atomic.Int64
	g, err := New(Config{MaxRequestsPerSecond: 10}, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		now = now.Add(300 * time.Millisecond)
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.1:1234"
		g.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, rec.Code)
		}
	}
	if forwarded.Load() != 3 {
		t.Fatalf("expected 3 requests forwarded downstream, got %d", forwarded.Load())
	}
}

func TestGate_RejectsBurstOverLimit(t *testing.T) {
	var forwarded atomic.Int64
	g, err := New(Config{MaxRequestsPerSecond: 5}, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// All requests share one identical timestamp: every 6th one trips the
	// burst gate (sampleCount > maxRPS) with elapsed=0, folding a large
	// guessed rate straight into the EMA.
	now := time.Now()
	var lastCode int
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.2:1234"
		g.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != statusRateLimited {
		t.Fatalf("expected the burst to eventually be rejected, last status was %d", lastCode)
	}
}

func TestGate_RejectsRequestsWithNoIdentity(t *testing.T) {
	var forwarded atomic.Int64
	cfg := Config{
		MaxRequestsPerSecond: 1000,
		Identity:             func(*http.Request) (string, bool) { return "", false },
	}
	g, err := New(cfg, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		g.ServeHTTP(rec, req)
		if rec.Code != statusRateLimited {
			t.Fatalf("request %d: expected an identity-less request to be rejected, got %d", i, rec.Code)
		}
	}
	if forwarded.Load() != 0 {
		t.Fatalf("expected no identity-less requests forwarded, got %d", forwarded.Load())
	}
	if g.table.approxSize() != 0 {
		t.Fatalf("expected no tracker created for identity-less requests, table size=%d", g.table.approxSize())
	}
}

func TestGate_PerIdentityOverrideRaisesLimit(t *testing.T) {
	var forwarded atomic.Int64
	cfg := Config{
		MaxRequestsPerSecond: 1,
		PerIdentityMaxRPS:    map[string]float64{"198.51.100.30": 1000},
	}
	g, err := New(cfg, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	// The override identity absorbs a burst that would trip the default
	// limit many times over.
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.30:1"
		g.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected the overridden identity to stay admitted, got %d", i, rec.Code)
		}
	}

	// The same burst from a non-overridden identity trips the default limit.
	var lastCode int
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.31:1"
		g.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != statusRateLimited {
		t.Fatalf("expected the default-limit identity to be rejected, last status was %d", lastCode)
	}
}

func TestGate_CustomRejectStatus(t *testing.T) {
	var forwarded atomic.Int64
	cfg := Config{
		MaxRequestsPerSecond: 1,
		RejectStatus:         http.StatusTooManyRequests,
	}
	g, err := New(cfg, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	var lastCode int
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.40:1"
		g.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected the configured reject status, last status was %d", lastCode)
	}
}

func TestGate_TwoIdentitiesAreIndependent(t *testing.T) {
	var forwarded atomic.Int64
	g, err := New(Config{MaxRequestsPerSecond: 5}, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	// Drive identity A hard enough, at one identical timestamp, to trip
	// the burst gate and get rejected.
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
		req.RemoteAddr = "198.51.100.3:1"
		g.ServeHTTP(rec, req)
	}

	// Identity B's first request, at a fresh timestamp, must still be
	// admitted: A's overload must not leak into B's bucket.
	rec := httptest.NewRecorder()
	req := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now.Add(time.Second))
	req.RemoteAddr = "198.51.100.4:1"
	g.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected identity B's first request to be admitted, got %d", rec.Code)
	}
}

func TestGate_TableOverflowRejectsWithoutCreatingTracker(t *testing.T) {
	var forwarded atomic.Int64
	cfg := Config{MaxRequestsPerSecond: 10, MaxTrackedIdentities: 2}
	g, err := New(cfg, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, addr := range []string{"198.51.100.10:1", "198.51.100.11:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		g.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected admission while under capacity, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.12:1"
	g.ServeHTTP(rec, req)
	if rec.Code != statusRateLimited {
		t.Fatalf("expected a 3rd identity to be rejected once the table is full, got %d", rec.Code)
	}
	if g.table.approxSize() != 2 {
		t.Fatalf("expected the table to remain at size 2, got %d", g.table.approxSize())
	}
}

func TestGate_Close_ClearsTrackedIdentities(t *testing.T) {
	var forwarded atomic.Int64
	g, err := New(Config{MaxRequestsPerSecond: 10}, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, addr := range []string{"198.51.100.50:1", "198.51.100.51:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		g.ServeHTTP(rec, req)
	}
	if g.table.approxSize() != 2 {
		t.Fatalf("expected 2 tracked identities before Close, got %d", g.table.approxSize())
	}

	g.Close()
	if g.table.approxSize() != 0 {
		t.Fatalf("expected no trackers to outlive the filter, got %d", g.table.approxSize())
	}
}

func TestGate_DelayedRejectionHoldsResponse(t *testing.T) {
	var forwarded atomic.Int64
	cfg := Config{
		MaxRequestsPerSecond: 1,
		RejectionDelay:       10 * time.Millisecond,
	}
	g, err := New(cfg, countingHandler(&forwarded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	addr := "198.51.100.20:1"
	now := time.Now()

	// First request at this timestamp is admitted (no flush fires yet).
	rec0 := httptest.NewRecorder()
	req0 := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
	req0.RemoteAddr = addr
	g.ServeHTTP(rec0, req0)
	if rec0.Code != http.StatusOK {
		t.Fatalf("expected the first request to be admitted, got %d", rec0.Code)
	}

	// Second request at the identical timestamp trips the burst gate
	// (sampleCount=2 > maxRPS=1) and is delayed-rejected; Reject blocks on
	// the production scheduler's real timer.
	start := time.Now()
	rec1 := httptest.NewRecorder()
	req1 := withArrival(httptest.NewRequest(http.MethodGet, "/", nil), now)
	req1.RemoteAddr = addr
	g.ServeHTTP(rec1, req1)
	elapsed := time.Since(start)

	if rec1.Code != statusRateLimited {
		t.Fatalf("got status %d, want %d", rec1.Code, statusRateLimited)
	}
	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected the rejection to be held for at least the configured delay, took %v", elapsed)
	}
}
