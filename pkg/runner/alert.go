package runner

import (
	"time"

	"github.com/cuemby/runnerd/pkg/types"
)

// alertResolver tracks, per (runner, case), the stateful alert machinery:
// the last semantic state observed, when it was last notified, and when
// the current non-UP session began. A case with CaseStateNone carries no
// state at all — every match is informational and always notifies.
type alertResolver struct {
	lastState       types.CaseState
	lastNotifyTS    time.Time
	activeSessionTS time.Time
}

// resolve decides whether a new match should trigger a notification and
// updates the tracked state accordingly. The returned string is always the
// text to record as the case's rendered match (prefixed with "RECOVERY: "
// or "ESCALATION (<state>): " on those transitions, unprefixed otherwise)
// regardless of whether notify is true — callers use it for both the
// published case_match message and, when notify is true, the dispatched
// notification. Transitions (including recovery into UP) always notify
// immediately, bypassing cooldown: cooldown only throttles repeat
// notifications of a state that hasn't changed. Repeats of UP or INFO never
// notify. While DOWN or WARN persists unchanged, a reminder fires once
// escalation has elapsed since
// the last notification; escalation_s <= 0 means always due once cooldown
// has passed.
func (a *alertResolver) resolve(state types.CaseState, message string, now time.Time, cooldown, escalation time.Duration) (bool, string) {
	if state == types.CaseStateNone {
		return true, message
	}

	if state != a.lastState {
		previous := a.lastState
		a.lastState = state
		a.lastNotifyTS = now
		if state == types.CaseStateUp {
			a.activeSessionTS = time.Time{}
			if previous == types.CaseStateDown || previous == types.CaseStateWarn {
				return true, "RECOVERY: " + message
			}
		} else {
			a.activeSessionTS = now
		}
		return true, message
	}

	if state == types.CaseStateUp || state == types.CaseStateInfo {
		return false, message
	}

	if !a.lastNotifyTS.IsZero() && now.Sub(a.lastNotifyTS) < cooldown {
		return false, message
	}

	if escalation <= 0 || now.Sub(a.lastNotifyTS) >= escalation {
		a.lastNotifyTS = now
		return true, "ESCALATION (" + string(state) + "): " + message
	}

	return false, message
}
