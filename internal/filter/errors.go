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
	"fmt"
)

// ConfigError reports an invalid Config field discovered at construction
// time. The filter must refuse to start rather than run with an
// unvalidated configuration.
type ConfigError struct {
	Field string
	Value any
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter: invalid config %s=%v: %s", e.Field, e.Value, e.Msg)
}

// ErrTableFull is the sentinel a caller can errors.Is against to recognize
// that a rejection happened because the tracker table was at capacity,
// rather than because the identity itself was over its rate.
var ErrTableFull = errTableFull

// InvariantBreach describes a condition the filter's own bookkeeping
// asserts should never happen (e.g. a tracker vanishing from the table
// between get-or-create and use). It is reported through Config's
// OnInvariantBreach hook rather than returned, since the offending request
// has already been handled one way or another by the time it is detected.
type InvariantBreach struct {
	Component string
	Detail    string
}

func (e *InvariantBreach) Error() string {
	return fmt.Sprintf("filter: invariant breach in %s: %s", e.Component, e.Detail)
}
