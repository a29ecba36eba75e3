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
	"net"
	"net/http"
)

// IdentityFunc derives the tracking key for a request. It returns ok=false
// to signal that no identity could be derived, in which case the Gate
// rejects the request without admitting it to the tracker table. That is
// distinct from returning "" with ok=true, which deliberately funnels
// every matching request into one shared bucket.
type IdentityFunc func(r *http.Request) (id string, ok bool)

// RemoteAddress is the default IdentityFunc: one bucket per client IP,
// ignoring the ephemeral source port so that a single client reconnecting
// on a new port stays in the same bucket.
func RemoteAddress(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port (unusual, but seen in some test
		// harnesses) is used verbatim rather than dropped.
		return r.RemoteAddr, r.RemoteAddr != ""
	}
	return host, host != ""
}

// RemoteAddressPort buckets by IP and source port together, giving each TCP
// connection its own tracker. Useful behind a NAT where many distinct
// clients would otherwise collapse into RemoteAddress's single bucket.
func RemoteAddressPort(r *http.Request) (string, bool) {
	return r.RemoteAddr, r.RemoteAddr != ""
}

// RemotePort buckets by source port alone, ignoring the IP. This only
// makes sense in constrained environments, e.g. all traffic arriving from
// one known proxy that hides the original address and is differentiated
// solely by port.
func RemotePort(r *http.Request) (string, bool) {
	_, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || port == "" {
		return "", false
	}
	return port, true
}

// connIDContextKey is the context key a listener-level hook (e.g. a
// net.Conn wrapper installed via http.Server.ConnContext) uses to stash a
// stable per-connection identifier.
type connIDContextKey struct{}

// ConnIDContextKey is exported so that callers wiring http.Server.ConnContext
// can stash a connection identifier under the same key ConnectionID reads.
var ConnIDContextKey connIDContextKey

// ConnectionID buckets by the stable identifier stashed in the request
// context by the caller's ConnContext hook, rather than anything derived
// from the request itself. It returns ok=false if no such value was
// stashed; a caller using this identity function without wiring
// ConnContext will therefore see every request rejected.
func ConnectionID(r *http.Request) (string, bool) {
	v := r.Context().Value(ConnIDContextKey)
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
