//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package config holds vuinputd's GlobalConfig: parsed once from CLI flags
// in cmd/vuinputd's app.Action, then read (never reassigned) by every
// other package for the rest of the process's life.
package config

import (
	"fmt"
	"sync"

	"github.com/joleuger/vuinputd/domain"
)

var (
	mu    sync.RWMutex
	value *domain.GlobalConfig
)

// Initialize sets the process-wide GlobalConfig. It may be called exactly
// once; a second call returns an error rather than silently overwriting a
// value other goroutines may already be reading.
func Initialize(cfg domain.GlobalConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if value != nil {
		return fmt.Errorf("config: already initialized")
	}
	value = &cfg
	return nil
}

// Get returns the process-wide GlobalConfig. It panics if called before
// Initialize, the same contract the teacher's own singletons use: a
// missing config this early is a programming error, not a runtime one.
func Get() domain.GlobalConfig {
	mu.RLock()
	defer mu.RUnlock()

	if value == nil {
		panic("config: Get called before Initialize")
	}
	return *value
}

// reset clears the singleton; used only by tests that need a fresh
// process-wide state between cases.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	value = nil
}
