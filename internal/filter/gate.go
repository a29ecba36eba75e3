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
	"time"

	"ratefilter/pkg/estimator"
)

// arrivalContextKey is the context key BeginTimeMiddleware stashes the
// request's wire-arrival time under.
type arrivalContextKey struct{}

var arrivalKey arrivalContextKey

// BeginTimeMiddleware stamps the current time into the request context as
// early as possible. Mount it as the outermost handler in the chain, ahead
// of Gate, so that rate decisions are made against the time the request
// actually arrived rather than whenever the goroutine serving it happened
// to reach the Gate.
func BeginTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), arrivalKey, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func arrivalTime(r *http.Request) time.Time {
	if t, ok := r.Context().Value(arrivalKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// Gate is the orchestrator: it wraps a downstream http.Handler and, for
// every request, derives an identity, finds or creates that identity's
// tracker, and either forwards the request or hands it to a Rejecter.
//
// The happy path, an identity well under its limit, is the hot path and
// is kept to one table lookup and one estimator update; everything else
// (table overflow, rejection) is the cold path.
type Gate struct {
	cfg      Config
	factory  *estimator.Factory
	table    *table
	wheel    *wheel
	rejecter Rejecter
	next     http.Handler
}

// New validates cfg and constructs a Gate wrapping next. An invalid cfg
// returns a *ConfigError; the Gate is otherwise ready to serve immediately.
func New(cfg Config, next http.Handler) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, err := estimator.NewFactory(cfg.Alpha, cfg.SamplePeriod, cfg.MaxRequestsPerSecond)
	if err != nil {
		return nil, err
	}

	tbl := newTable(factory, cfg.MaxTrackedIdentities, cfg.PerIdentityMaxRPS)
	w := newWheel(NewScheduler(), tbl, cfg.EvictionSweepInterval, func(string) {
		evictionsTotal.Inc()
	})

	var rejecter Rejecter
	if cfg.RejectionDelay > 0 {
		rejecter = NewDelayedRejecter(cfg.RejectionDelay, cfg.MaxDelayQueue, NewScheduler(),
			WithRejectStatus(cfg.RejectStatus),
			WithHeadDropHook(func() { headDropsTotal.Inc() }),
		)
	} else {
		rejecter = ImmediateRejecter{Status: cfg.RejectStatus}
	}

	return &Gate{
		cfg:      cfg,
		factory:  factory,
		table:    tbl,
		wheel:    w,
		rejecter: rejecter,
		next:     next,
	}, nil
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := arrivalTime(r)

	id, ok := g.cfg.Identity(r)
	if !ok {
		// No identity means no tracker: the request is rejected without
		// being admitted to the table at all.
		rejectedTotal.WithLabelValues(reasonNoIdentity).Inc()
		logger.Debug("rejecting request, no identity derived", "remote_addr", r.RemoteAddr)
		g.rejecter.Reject(w, r)
		return
	}

	tr, err := g.table.getOrCreate(id, now)
	if err != nil {
		rejectedTotal.WithLabelValues(reasonTableFull).Inc()
		logger.Debug("rejecting request, tracker table at capacity", "identity", id)
		g.rejecter.Reject(w, r)
		return
	}
	if tr == nil {
		// getOrCreate's contract is to return a non-nil tracker whenever it
		// returns a nil error; this should be unreachable.
		g.reportInvariantBreach("table", "getOrCreate returned a nil tracker with a nil error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	trackedIdentities.Set(float64(g.table.approxSize()))

	if exceeded := tr.observeAndRearm(now, g.wheel); exceeded {
		rejectedTotal.WithLabelValues(reasonRateExceeded).Inc()
		logger.Debug("rejecting request, rate exceeded", "identity", id)
		g.rejecter.Reject(w, r)
		return
	}

	admittedTotal.Inc()
	g.next.ServeHTTP(w, r)
}

// reportInvariantBreach calls the configured OnInvariantBreach hook, if
// any, synchronously on the request's goroutine.
func (g *Gate) reportInvariantBreach(component, detail string) {
	if g.cfg.OnInvariantBreach == nil {
		return
	}
	g.cfg.OnInvariantBreach(&InvariantBreach{Component: component, Detail: detail})
}

// Close stops the timeout wheel, releases every tracked identity, and, if
// the Gate is using a DelayedRejecter, releases every request still waiting
// in its queue. Call it during graceful shutdown, after the listener has
// stopped accepting new connections.
func (g *Gate) Close() {
	g.wheel.stop()
	g.table.clear()
	trackedIdentities.Set(0)
	if d, ok := g.rejecter.(*DelayedRejecter); ok {
		delayQueueLength.Set(0)
		d.Close()
	}
}

// Snapshot returns the Gate's configured thresholds, for startup logging
// or a shutdown report.
func (g *Gate) Snapshot() thresholdSnapshot {
	snap := g.cfg.snapshot()
	if d, ok := g.rejecter.(*DelayedRejecter); ok {
		delayQueueLength.Set(float64(d.QueueLen()))
	}
	return snap
}
