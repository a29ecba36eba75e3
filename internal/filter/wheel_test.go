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
	"testing"
	"time"
)

func TestWheel_DormantInitially(t *testing.T) {
	tbl := newTable(testFactory(t), 0, nil)
	sched := &fakeScheduler{}
	w := newWheel(sched, tbl, time.Second, nil)
	if !w.dormant {
		t.Fatalf("expected a freshly constructed wheel to start dormant")
	}
	if sched.pendingCount() != 0 {
		t.Fatalf("expected no sweep scheduled before any wake")
	}
}

func TestWheel_WakeIsIdempotentWhileArmed(t *testing.T) {
	tbl := newTable(testFactory(t), 0, nil)
	sched := &fakeScheduler{}
	w := newWheel(sched, tbl, time.Second, nil)
	w.wake()
	w.wake()
	if sched.pendingCount() != 1 {
		t.Fatalf("expected wake to be a no-op once already armed, pending=%d", sched.pendingCount())
	}
}

func TestWheel_Stop_CancelsPendingSweepAndRejectsFurtherWake(t *testing.T) {
	tbl := newTable(testFactory(t), 0, nil)
	sched := &fakeScheduler{}
	w := newWheel(sched, tbl, time.Second, nil)
	w.wake()
	w.stop()
	if sched.pendingCount() != 0 {
		t.Fatalf("expected stop to cancel the pending sweep")
	}
	w.wake()
	if sched.pendingCount() != 0 {
		t.Fatalf("expected wake after stop to remain a no-op")
	}
}

func TestWheel_SweepEvictsOnlyAfterTwoSilentPasses(t *testing.T) {
	// A single due-but-not-fully-decayed tracker is re-armed rather than
	// evicted; only a second silent sweep, once the estimator's window has
	// folded all the way to zero, collects it.
	tbl := newTable(testFactory(t), 0, nil)
	sched := &fakeScheduler{}
	var evicted []string
	w := newWheel(sched, tbl, time.Second, func(id string) { evicted = append(evicted, id) })

	start := time.Now()
	tr, err := tbl.getOrCreate("a", start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.observeAndRearm(start, w)

	sweep1 := start.Add(evictionWindow + time.Millisecond)
	w.now = func() time.Time { return sweep1 }
	w.sweep()
	if len(evicted) != 0 {
		t.Fatalf("did not expect eviction on the first sweep, got %v", evicted)
	}
	if tbl.approxSize() != 1 {
		t.Fatalf("tracker should still be present after a due-but-not-idle sweep")
	}

	sweep2 := sweep1.Add(evictionWindow + time.Millisecond)
	w.now = func() time.Time { return sweep2 }
	w.sweep()
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected eviction of %q on the second sweep, got %v", "a", evicted)
	}
	if tbl.approxSize() != 0 {
		t.Fatalf("expected the table to be empty after eviction")
	}
	if !w.dormant {
		t.Fatalf("expected the wheel to go dormant once the table is empty")
	}
}

func TestWheel_SweepIgnoresNotYetDueTrackers(t *testing.T) {
	tbl := newTable(testFactory(t), 0, nil)
	sched := &fakeScheduler{}
	var evicted []string
	w := newWheel(sched, tbl, time.Second, func(id string) { evicted = append(evicted, id) })

	start := time.Now()
	tr, err := tbl.getOrCreate("a", start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.observeAndRearm(start, w)

	soon := start.Add(time.Millisecond)
	w.now = func() time.Time { return soon }
	w.sweep()
	if len(evicted) != 0 {
		t.Fatalf("did not expect eviction before the eviction window elapses, got %v", evicted)
	}
	if tbl.approxSize() != 1 {
		t.Fatalf("expected the tracker to remain in the table")
	}
}
