package devicepolicy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/eventcompat"
)

func key(code uint16, value int32) eventcompat.Native {
	return eventcompat.Native{Type: evKey, Code: code, Value: value}
}

func TestPolicyNoneAllowsEverything(t *testing.T) {
	var st ModifierState
	require.True(t, Evaluate(domain.PolicyNone, &st, key(keySysRq, 1)))
}

func TestMuteSysRqDropsOnlySysRq(t *testing.T) {
	var st ModifierState
	require.False(t, Evaluate(domain.PolicyMuteSysRq, &st, key(keySysRq, 1)))
	require.True(t, Evaluate(domain.PolicyMuteSysRq, &st, key(30, 1)))
}

func TestSanitizedBlocksAltF1ThroughF12(t *testing.T) {
	var st ModifierState
	require.True(t, Evaluate(domain.PolicySanitized, &st, key(keyLeftAlt, 1)))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyF1, 1)))
	require.True(t, Evaluate(domain.PolicySanitized, &st, key(keyLeftAlt, 0)))
	// Alt released: F1 now passes through.
	require.True(t, Evaluate(domain.PolicySanitized, &st, key(keyF1, 1)))
}

func TestSanitizedBlocksAltF11AndF12ButAllowsTheGapBetween(t *testing.T) {
	var st ModifierState
	Evaluate(domain.PolicySanitized, &st, key(keyLeftAlt, 1))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyF11, 1)))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyF12, 1)))
	// Codes between F10 and F11 (keypad/lock keys) are not part of the
	// VT-switch combo and must pass through even with Alt held.
	require.True(t, Evaluate(domain.PolicySanitized, &st, key(75, 1)))
}

func TestSanitizedBlocksCtrlAltDelAndKPDot(t *testing.T) {
	var st ModifierState
	Evaluate(domain.PolicySanitized, &st, key(keyLeftCtrl, 1))
	Evaluate(domain.PolicySanitized, &st, key(keyLeftAlt, 1))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyDelete, 1)))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyKPDot, 1)))
}

func TestSanitizedBlocksPowerSleepWakeup(t *testing.T) {
	var st ModifierState
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyPower, 1)))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keySleep, 1)))
	require.False(t, Evaluate(domain.PolicySanitized, &st, key(keyWakeup, 1)))
}

func TestSanitizedTracksModifierStateAfterDroppedEvent(t *testing.T) {
	var st ModifierState
	Evaluate(domain.PolicySanitized, &st, key(keySysRq, 1))
	Evaluate(domain.PolicySanitized, &st, key(keyLeftAlt, 1))
	require.True(t, st.LeftAlt)
}

func TestStrictGamepadAllowsOnlyGamepadButtons(t *testing.T) {
	var st ModifierState
	require.False(t, Evaluate(domain.PolicyStrictGamepad, &st, key(30 /* KEY_A */, 1)))
	require.True(t, Evaluate(domain.PolicyStrictGamepad, &st, key(btnSouth, 1)))
	require.True(t, Evaluate(domain.PolicyStrictGamepad, &st, eventcompat.Native{Type: evSyn}))
	require.True(t, Evaluate(domain.PolicyStrictGamepad, &st, eventcompat.Native{Type: evAbs}))
}

func TestStrictGamepadDPadRangeExcludesGripR2(t *testing.T) {
	var st ModifierState
	require.True(t, Evaluate(domain.PolicyStrictGamepad, &st, key(btnDPadUp, 1)))
	require.False(t, Evaluate(domain.PolicyStrictGamepad, &st, key(btnGripR2, 1)))
}
