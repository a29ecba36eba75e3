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

import "log/slog"

// logger is package-scoped, matching how small middleware packages in the
// corpus reach for the default slog logger rather than threading a handle
// through every call. SetLogger lets a host application redirect it.
var logger = slog.Default()

// SetLogger replaces the package logger. Intended to be called once during
// startup, before the filter begins serving traffic.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
