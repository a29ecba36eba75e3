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

// Package estimator provides a thread-safe, in-memory exponential moving
// average estimator of a per-identity request rate. It is the arithmetic
// core of the rate-limiting filter: each estimator answers two questions,
// "is this identity currently over its configured rate?" and "has this
// identity gone quiet long enough to forget about?".
package estimator

import (
	"fmt"
	"sync"
	"time"
)

// idleThreshold is the EMA value below which, combined with not being over
// the limit, an estimator is considered idle.
const idleThreshold = 1e-4

// Estimator tracks a smoothed requests-per-second value for a single
// identity using an adaptively-weighted exponential moving average. It is
// safe for concurrent use; callers typically serialize access externally
// (see the Tracker in package filter) since a single logical observe-then-
// decide operation must be atomic.
type Estimator struct {
	mu sync.Mutex

	ema         float64
	sampleCount int64
	sampleStart time.Time

	alpha        float64
	samplePeriod time.Duration
	maxRPS       float64
}

// newEstimator constructs a zeroed estimator anchored at now. Unexported:
// callers go through a Factory so that alpha/samplePeriod/maxRPS are always
// validated together.
func newEstimator(alpha float64, samplePeriod time.Duration, maxRPS float64, now time.Time) *Estimator {
	return &Estimator{
		alpha:        alpha,
		samplePeriod: samplePeriod,
		maxRPS:       maxRPS,
		sampleStart:  now,
	}
}

// ObserveAndTest records one sample at now and reports whether the smoothed
// rate exceeds the configured limit after incorporating it.
func (e *Estimator) ObserveAndTest(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleCount++
	e.maybeUpdateLocked(now, true)
	return e.exceededLocked()
}

// TestOnly reports whether the smoothed rate exceeds the configured limit
// without adding a new sample. It always flushes the current window into the
// EMA first, so that the EMA reflects elapsed idle time.
func (e *Estimator) TestOnly(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeUpdateLocked(now, false)
	return e.exceededLocked()
}

// IsIdle reports whether the identity is both under its limit and has
// decayed to a negligible rate, i.e. it is safe to forget.
func (e *Estimator) IsIdle(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeUpdateLocked(now, false)
	return !e.exceededLocked() && e.ema <= idleThreshold
}

// exceededLocked implements the strict-greater-than decision. Caller must
// hold e.mu.
func (e *Estimator) exceededLocked() bool {
	return e.ema > e.maxRPS
}

// maybeUpdateLocked flushes the current sample window into the EMA when any
// of the three update conditions from the algorithm hold: the burst gate
// (sampleCount has exceeded maxRPS), the period gate (more than
// samplePeriod has elapsed), or this call is a pure test (addSample=false
// and no prior flush this call). Caller must hold e.mu.
func (e *Estimator) maybeUpdateLocked(now time.Time, addSample bool) {
	elapsed := now.Sub(e.sampleStart)
	burstGate := float64(e.sampleCount) > e.maxRPS
	periodGate := elapsed > e.samplePeriod
	pureTest := !addSample

	if !burstGate && !periodGate && !pureTest {
		return
	}

	if elapsed < 0 {
		// Tolerate clock skew across goroutines: never let the window
		// appear to run backwards.
		elapsed = 0
	}

	if elapsed > 0 {
		currentRate := float64(e.sampleCount) * float64(time.Second) / float64(elapsed)
		adjustedAlpha := e.alpha * float64(elapsed) / float64(e.samplePeriod)
		if adjustedAlpha > 1 {
			adjustedAlpha = 1
		}
		e.ema = adjustedAlpha*currentRate + (1-adjustedAlpha)*e.ema
	} else {
		// elapsed == 0: treat the accumulated count as one period's worth
		// so that back-to-back samples at an identical timestamp still
		// move the EMA, instead of dividing by zero.
		guessedRate := float64(e.sampleCount) * float64(time.Second) / float64(e.samplePeriod)
		e.ema = e.alpha*guessedRate + (1-e.alpha)*e.ema
	}

	if now.After(e.sampleStart) {
		e.sampleStart = now
	}
	e.sampleCount = 0
}

// Factory holds immutable estimator parameters and mints fresh, validated
// Estimators. Construction of the Factory itself is the only place
// configuration errors can occur; individual Estimators are infallible.
type Factory struct {
	alpha        float64
	samplePeriod time.Duration
	maxRPS       float64
}

// ConfigError reports an invalid estimator parameter discovered at
// construction time. Callers must refuse to start rather than run with
// unvalidated parameters.
type ConfigError struct {
	Field string
	Value any
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("estimator: invalid %s=%v: %s", e.Field, e.Value, e.Msg)
}

// NewFactory validates alpha, samplePeriod, and maxRPS and returns a Factory
// that produces estimators sharing those parameters. alpha must be in
// (0, 1], samplePeriod must be in (0, 1s], and maxRPS must be positive.
func NewFactory(alpha float64, samplePeriod time.Duration, maxRPS float64) (*Factory, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, &ConfigError{Field: "alpha", Value: alpha, Msg: "must be in (0, 1]"}
	}
	if samplePeriod <= 0 || samplePeriod > time.Second {
		return nil, &ConfigError{Field: "samplePeriod", Value: samplePeriod, Msg: "must be in (0, 1s]"}
	}
	if maxRPS <= 0 {
		return nil, &ConfigError{Field: "maxRPS", Value: maxRPS, Msg: "must be > 0"}
	}
	return &Factory{alpha: alpha, samplePeriod: samplePeriod, maxRPS: maxRPS}, nil
}

// New mints a fresh Estimator anchored at now, sharing this factory's
// parameters.
func (f *Factory) New(now time.Time) *Estimator {
	return newEstimator(f.alpha, f.samplePeriod, f.maxRPS, now)
}

// NewWithLimit mints a fresh Estimator whose rate limit overrides the
// factory's shared value. limit <= 0 falls back to the shared value, so
// callers can pass a map lookup's zero value directly.
func (f *Factory) NewWithLimit(limit float64, now time.Time) *Estimator {
	if limit <= 0 {
		limit = f.maxRPS
	}
	return newEstimator(f.alpha, f.samplePeriod, limit, now)
}

// MaxRPS returns the configured limit, useful for callers that want to
// report it (e.g. response headers or metrics labels) without threading it
// through separately.
func (f *Factory) MaxRPS() float64 { return f.maxRPS }
