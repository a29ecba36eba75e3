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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	admittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ratefilter",
		Name:      "admitted_total",
		Help:      "Requests forwarded to the downstream handler.",
	})
	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratefilter",
		Name:      "rejected_total",
		Help:      "Requests rejected, labeled by reason.",
	}, []string{"reason"})
	trackedIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ratefilter",
		Name:      "tracked_identities",
		Help:      "Approximate number of identities currently tracked.",
	})
	delayQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ratefilter",
		Name:      "delay_queue_length",
		Help:      "Current length of the delayed rejecter's queue, when enabled.",
	})
	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ratefilter",
		Name:      "evictions_total",
		Help:      "Identities evicted by the timeout wheel for going idle.",
	})
	headDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ratefilter",
		Name:      "delay_queue_head_drops_total",
		Help:      "Requests released early because the delay queue was full.",
	})
)

func init() {
	prometheus.MustRegister(
		admittedTotal,
		rejectedTotal,
		trackedIdentities,
		delayQueueLength,
		evictionsTotal,
		headDropsTotal,
	)
}

const (
	reasonRateExceeded = "rate_exceeded"
	reasonTableFull    = "table_full"
	reasonNoIdentity   = "no_identity"
)
