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
	"sync"
	"sync/atomic"
	"time"

	"ratefilter/pkg/estimator"
)

// table is the concurrent identity -> tracker map. It favors the hot
// read/write path (one lookup per request) over Len precision: sync.Map has
// no O(1) size, so an atomic counter tracks an approximate size used only
// to enforce a soft overflow bound.
type table struct {
	m       sync.Map // string -> *tracker
	size    atomic.Int64
	maxSize int64

	factory *estimator.Factory
	// overrides maps an identity to its own rate limit, replacing the
	// factory's shared limit for that identity's estimator. Read-only after
	// construction. May be nil.
	overrides map[string]float64
}

func newTable(factory *estimator.Factory, maxSize int64, overrides map[string]float64) *table {
	return &table{factory: factory, maxSize: maxSize, overrides: overrides}
}

// errTableFull is returned by getOrCreate when the table is at its soft
// capacity bound and id is not already tracked. The caller (the Gate) must
// treat this as an admission rejection, not an internal error: an attacker
// spraying identities should not be able to crash the process.
var errTableFull = &tableFullError{}

type tableFullError struct{}

func (*tableFullError) Error() string { return "filter: tracker table at capacity" }

// getOrCreate returns the tracker for id, creating one anchored at now if
// none exists yet. It never holds a tracker's own lock.
func (t *table) getOrCreate(id string, now time.Time) (*tracker, error) {
	if v, ok := t.m.Load(id); ok {
		return v.(*tracker), nil
	}

	if t.maxSize > 0 && t.size.Load() >= t.maxSize {
		// Re-check under the fast path in case the identity was created by
		// another goroutine between the Load above and here.
		if v, ok := t.m.Load(id); ok {
			return v.(*tracker), nil
		}
		return nil, errTableFull
	}

	fresh := newTracker(id, t.factory.NewWithLimit(t.overrides[id], now), now)
	actual, loaded := t.m.LoadOrStore(id, fresh)
	if !loaded {
		t.size.Add(1)
	}
	return actual.(*tracker), nil
}

// forEach calls f for every tracked identity. f must not call delete or
// getOrCreate on the same table; the wheel collects eviction candidates
// first and deletes them in a second pass.
func (t *table) forEach(f func(id string, tr *tracker)) {
	t.m.Range(func(k, v any) bool {
		f(k.(string), v.(*tracker))
		return true
	})
}

// delete removes id unconditionally and decrements the size counter. The
// caller is responsible for deciding id is actually evictable.
func (t *table) delete(id string) {
	if _, ok := t.m.LoadAndDelete(id); ok {
		t.size.Add(-1)
	}
}

// approxSize returns the best-effort current tracked-identity count, used
// only for metrics and the soft overflow check.
func (t *table) approxSize() int64 { return t.size.Load() }

// clear removes every tracker. Used at shutdown so no tracker outlives the
// filter.
func (t *table) clear() {
	t.m.Range(func(k, _ any) bool {
		if _, ok := t.m.LoadAndDelete(k); ok {
			t.size.Add(-1)
		}
		return true
	})
}
