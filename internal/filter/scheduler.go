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

import "time"

// CancelFunc stops a previously scheduled task. Calling it more than once,
// or after the task already ran, is a no-op.
type CancelFunc func()

// Scheduler is the capability the Timeout Wheel and the Delayed Rejecter
// depend on to run a task after a delay, instead of each managing its own
// time.Timer. Tests substitute a scheduler that runs tasks synchronously or
// on an explicit fake clock.
type Scheduler interface {
	Schedule(d time.Duration, f func()) CancelFunc
}

// realScheduler backs Scheduler with the standard library's time.AfterFunc.
type realScheduler struct{}

// NewScheduler returns the production Scheduler used outside of tests.
func NewScheduler() Scheduler { return realScheduler{} }

func (realScheduler) Schedule(d time.Duration, f func()) CancelFunc {
	timer := time.AfterFunc(d, f)
	return func() { timer.Stop() }
}
