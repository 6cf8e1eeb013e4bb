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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joleuger/vuinputd/domain"
)

func TestInitializeThenGet(t *testing.T) {
	t.Cleanup(reset)

	require.NoError(t, Initialize(domain.GlobalConfig{Devname: "vuinput"}))
	require.Equal(t, "vuinput", Get().Devname)
}

func TestInitializeTwiceFails(t *testing.T) {
	t.Cleanup(reset)

	require.NoError(t, Initialize(domain.GlobalConfig{Devname: "vuinput"}))
	require.Error(t, Initialize(domain.GlobalConfig{Devname: "other"}))
}

func TestGetBeforeInitializePanics(t *testing.T) {
	t.Cleanup(reset)

	require.Panics(t, func() { Get() })
}
