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

// Package devicepolicy implements the per-session, per-event allow/deny
// rules evaluated before an input_event is forwarded to the host uinput
// fd.
package devicepolicy

import (
	"github.com/joleuger/vuinputd/eventcompat"
	"github.com/joleuger/vuinputd/domain"
)

// Linux input-event-codes.h constants this package needs to know about.
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03
	evFF  = 0x15

	keySysRq     = 99
	keyLeftAlt   = 56
	keyRightAlt  = 100
	keyLeftCtrl  = 29
	keyRightCtrl = 97
	keyF1        = 59
	keyF10       = 68
	keyF11       = 87
	keyF12       = 88
	keyDelete    = 111
	keyKPDot     = 83
	keyPower     = 116
	keySleep     = 142
	keyWakeup    = 143

	btnSouth  = 0x130
	btnThumbR = 0x13e
	btnDPadUp = 0x220
	btnGripR2 = 0x227
)

const (
	keyValueUp     = 0
	keyValueDown   = 1
	keyValueRepeat = 2
)

// ModifierState is per-session (not per-device): it tracks the press state
// of the four modifier keys that the sanitized policy needs to recognize
// Alt+Fn and Ctrl+Alt+Del/KPDot combos. Release events update this state
// even when the event itself is dropped by an unrelated rule.
type ModifierState struct {
	LeftAlt   bool
	RightAlt  bool
	LeftCtrl  bool
	RightCtrl bool
}

func (m *ModifierState) observe(code uint16, value int32) {
	if value != keyValueDown && value != keyValueUp {
		return
	}
	pressed := value == keyValueDown
	switch code {
	case keyLeftAlt:
		m.LeftAlt = pressed
	case keyRightAlt:
		m.RightAlt = pressed
	case keyLeftCtrl:
		m.LeftCtrl = pressed
	case keyRightCtrl:
		m.RightCtrl = pressed
	}
}

func (m *ModifierState) altDown() bool {
	return m.LeftAlt || m.RightAlt
}

func (m *ModifierState) ctrlDown() bool {
	return m.LeftCtrl || m.RightCtrl
}

// Evaluate decides whether ev should reach the host fd under policy p,
// mutating state's modifier tracking as a side effect regardless of the
// verdict.
func Evaluate(p domain.Policy, state *ModifierState, ev eventcompat.Native) bool {
	if ev.Type == evKey {
		state.observe(ev.Code, ev.Value)
	}

	switch p {
	case domain.PolicyNone:
		return true
	case domain.PolicyMuteSysRq:
		return allowMuteSysRq(ev)
	case domain.PolicySanitized:
		return allowSanitized(state, ev)
	case domain.PolicyStrictGamepad:
		return allowStrictGamepad(ev)
	default:
		return true
	}
}

func allowMuteSysRq(ev eventcompat.Native) bool {
	if ev.Type == evKey && ev.Code == keySysRq {
		return false
	}
	return true
}

func allowSanitized(state *ModifierState, ev eventcompat.Native) bool {
	if ev.Type != evKey {
		return true
	}

	if ev.Code == keySysRq {
		return false
	}

	if state.altDown() && ev.Code >= keyF1 && ev.Code <= keyF10 {
		return false
	}

	if state.altDown() && ev.Code >= keyF11 && ev.Code <= keyF12 {
		return false
	}

	if state.ctrlDown() && state.altDown() && (ev.Code == keyDelete || ev.Code == keyKPDot) {
		return false
	}

	switch ev.Code {
	case keyPower, keySleep, keyWakeup:
		return false
	}

	return true
}

func allowStrictGamepad(ev eventcompat.Native) bool {
	switch ev.Type {
	case evSyn, evAbs, evFF:
		return true
	case evKey:
		code := uint32(ev.Code)
		if code >= btnSouth && code < btnThumbR {
			return true
		}
		if code >= btnDPadUp && code < btnGripR2 {
			return true
		}
		return false
	default:
		return false
	}
}
