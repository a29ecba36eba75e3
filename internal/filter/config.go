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
	"strconv"
	"time"
)

// Config holds every tunable recognized by the filter. Zero-value fields
// are filled in from their documented defaults by Validate, except
// MaxRequestsPerSecond, which has no default, and RejectionDelay, where a
// zero selects the ImmediateRejecter.
type Config struct {
	// Alpha is the EMA smoothing factor, in (0, 1]. Default 0.2.
	Alpha float64
	// SamplePeriod bounds how long a sample window may accumulate before
	// being folded into the EMA, in (0, 1s]. Default 100ms.
	SamplePeriod time.Duration
	// MaxRequestsPerSecond is the smoothed rate above which an identity is
	// rejected. Required; no default.
	MaxRequestsPerSecond float64
	// PerIdentityMaxRPS optionally overrides MaxRequestsPerSecond for
	// specific identities (e.g. an allowlisted batch job with a higher
	// budget). Consulted only when a fresh tracker is created for a
	// never-before-seen identity; the map is never mutated after
	// construction.
	PerIdentityMaxRPS map[string]float64

	// MaxTrackedIdentities bounds the tracker table's size. Values <= 0
	// mean the default of 10000.
	MaxTrackedIdentities int64
	// EvictionSweepInterval is how often the Timeout Wheel scans for idle
	// trackers while awake. Default 1s.
	EvictionSweepInterval time.Duration

	// Identity derives the tracking key for a request. Default
	// RemoteAddress.
	Identity IdentityFunc

	// RejectionDelay, if > 0, switches the Gate to a DelayedRejecter that
	// holds each rejection for this long before responding. 0 means
	// ImmediateRejecter.
	RejectionDelay time.Duration
	// MaxDelayQueue bounds the DelayedRejecter's queue. Values <= 0 mean
	// the default of 1000. Only meaningful when RejectionDelay > 0.
	MaxDelayQueue int
	// RejectStatus is the HTTP status written for rejected requests.
	// Default 420 ("Enhance Your Calm").
	RejectStatus int

	// OnInvariantBreach, if non-nil, is called whenever the filter detects
	// one of its own internal invariants has been violated. It must not
	// block or panic.
	OnInvariantBreach func(error)
}

const (
	defaultAlpha                = 0.2
	defaultSamplePeriod         = 100 * time.Millisecond
	defaultMaxTrackedIdentities = 10000
	defaultMaxDelayQueue        = 1000
)

// Validate checks every field for well-formedness, filling in defaults for
// fields left at their zero value where a default is documented, and
// returns a *ConfigError describing the first problem found.
func (c *Config) Validate() error {
	if c.Alpha == 0 {
		c.Alpha = defaultAlpha
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return &ConfigError{Field: "Alpha", Value: c.Alpha, Msg: "must be in (0, 1]"}
	}
	if c.SamplePeriod == 0 {
		c.SamplePeriod = defaultSamplePeriod
	}
	if c.SamplePeriod < 0 || c.SamplePeriod > time.Second {
		return &ConfigError{Field: "SamplePeriod", Value: c.SamplePeriod, Msg: "must be in (0, 1s]"}
	}
	if c.MaxRequestsPerSecond <= 0 {
		return &ConfigError{Field: "MaxRequestsPerSecond", Value: c.MaxRequestsPerSecond, Msg: "must be > 0"}
	}
	for id, rps := range c.PerIdentityMaxRPS {
		if rps <= 0 {
			return &ConfigError{Field: "PerIdentityMaxRPS", Value: rps, Msg: "override for " + strconv.Quote(id) + " must be > 0"}
		}
	}
	if c.MaxTrackedIdentities <= 0 {
		c.MaxTrackedIdentities = defaultMaxTrackedIdentities
	}
	if c.EvictionSweepInterval == 0 {
		c.EvictionSweepInterval = defaultSweepInterval
	}
	if c.EvictionSweepInterval < 0 {
		return &ConfigError{Field: "EvictionSweepInterval", Value: c.EvictionSweepInterval, Msg: "must be >= 0"}
	}
	if c.Identity == nil {
		c.Identity = RemoteAddress
	}
	if c.RejectionDelay < 0 {
		return &ConfigError{Field: "RejectionDelay", Value: c.RejectionDelay, Msg: "must be >= 0"}
	}
	if c.MaxDelayQueue <= 0 {
		c.MaxDelayQueue = defaultMaxDelayQueue
	}
	if c.RejectStatus == 0 {
		c.RejectStatus = statusRateLimited
	}
	if c.RejectStatus < 100 || c.RejectStatus > 599 {
		return &ConfigError{Field: "RejectStatus", Value: c.RejectStatus, Msg: "must be a valid HTTP status code"}
	}
	return nil
}

// thresholdSnapshot is a point-in-time view of the configured limits,
// reported at shutdown.
type thresholdSnapshot struct {
	MaxRequestsPerSecond float64
	MaxTrackedIdentities int64
	RejectionDelay       time.Duration
	MaxDelayQueue        int
}

func (c *Config) snapshot() thresholdSnapshot {
	return thresholdSnapshot{
		MaxRequestsPerSecond: c.MaxRequestsPerSecond,
		MaxTrackedIdentities: c.MaxTrackedIdentities,
		RejectionDelay:       c.RejectionDelay,
		MaxDelayQueue:        c.MaxDelayQueue,
	}
}
