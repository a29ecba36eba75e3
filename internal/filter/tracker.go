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

// Package filter implements the per-client request rate-limiting filter:
// identity derivation, the tracker table, the timeout wheel, the rejection
// handler, and the gate that wires them together in front of a downstream
// http.Handler.
package filter

import (
	"sync"
	"time"

	"ratefilter/pkg/estimator"
)

// evictionWindow is how long a tracker is retained after its last sampled
// observation before the Timeout Wheel is allowed to collect it.
const evictionWindow = 2 * time.Second

// tracker pairs an identity with its owned estimator and an expiry
// deadline. It owns its own mutex so that an "observe, then refresh
// deadline" sequence is atomic from the perspective of any other goroutine
// holding the same tracker, without ever taking a lock on the Table.
//
// The tracker holds no reference back to the wheel that sweeps it: the
// wheel is passed into observeAndRearm as a parameter instead of stored,
// so the two never form a reference cycle.
type tracker struct {
	id        string
	estimator *estimator.Estimator

	mu        sync.Mutex
	expireAt  time.Time
}

func newTracker(id string, est *estimator.Estimator, now time.Time) *tracker {
	return &tracker{
		id:        id,
		estimator: est,
		expireAt:  now.Add(evictionWindow),
	}
}

// observeAndRearm records one sample for the tracker at now, reports
// whether the rate is exceeded, and, because this is a sampled
// observation rather than a pure test, refreshes the eviction deadline
// and wakes w so that a dormant wheel resumes sweeping. w may be nil in
// tests that do not care about eviction.
func (tr *tracker) observeAndRearm(now time.Time, w *wheel) bool {
	tr.mu.Lock()
	exceeded := tr.estimator.ObserveAndTest(now)
	tr.expireAt = now.Add(evictionWindow)
	tr.mu.Unlock()

	if w != nil {
		w.wake()
	}
	return exceeded
}

// due reports whether the tracker's eviction deadline has passed as of now.
// A due tracker is merely a sweep candidate; whether it is actually evicted
// also depends on idle.
func (tr *tracker) due(now time.Time) bool {
	tr.mu.Lock()
	deadline := tr.expireAt
	tr.mu.Unlock()
	return !now.Before(deadline)
}

// idle reports whether the tracker's estimator has decayed to a negligible
// rate, i.e. it is safe to forget. The estimator guards its own state.
func (tr *tracker) idle(now time.Time) bool {
	return tr.estimator.IsIdle(now)
}

// rearm pushes the deadline forward without any new sample, used by the
// wheel when a tracker is due but not yet idle (a tie-break, not an
// eviction).
func (tr *tracker) rearm(now time.Time) {
	tr.mu.Lock()
	tr.expireAt = now.Add(evictionWindow)
	tr.mu.Unlock()
}
