package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/runnerd/pkg/types"
)

func TestAlertResolverNoneStateAlwaysNotifies(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, rendered := r.resolve(types.CaseStateNone, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "m", rendered)

	notify, rendered = r.resolve(types.CaseStateNone, "m2", now.Add(time.Second), time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "m2", rendered)
}

func TestAlertResolverFirstTransitionNotifies(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, rendered := r.resolve(types.CaseStateDown, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "m", rendered)
}

func TestAlertResolverRepeatSameStateSuppressedUntilEscalation(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateDown, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateDown, "m", now.Add(time.Second), time.Minute, time.Hour)
	assert.False(t, notify)
	assert.Equal(t, "m", rendered)

	notify, rendered = r.resolve(types.CaseStateDown, "m", now.Add(2*time.Hour), time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "ESCALATION (DOWN): m", rendered)
}

func TestAlertResolverCooldownCheckedBeforeEscalation(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateDown, "m", now, 2*time.Hour, time.Minute)
	assert.True(t, notify)

	// escalation has elapsed, but cooldown has not: cooldown wins, stays suppressed.
	notify, rendered := r.resolve(types.CaseStateDown, "m", now.Add(time.Hour), 2*time.Hour, time.Minute)
	assert.False(t, notify)
	assert.Equal(t, "m", rendered)
}

func TestAlertResolverZeroEscalationAlwaysDueAfterCooldown(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateDown, "m", now, time.Minute, 0)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateDown, "m", now.Add(2*time.Minute), time.Minute, 0)
	assert.True(t, notify)
	assert.Equal(t, "ESCALATION (DOWN): m", rendered)
}

func TestAlertResolverRecoveryAlwaysNotifies(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateDown, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateUp, "m", now.Add(time.Second), time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "RECOVERY: m", rendered)
	assert.True(t, r.activeSessionTS.IsZero())
}

func TestAlertResolverRepeatUpDoesNotRenotify(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateUp, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateUp, "m", now.Add(time.Second), time.Minute, time.Hour)
	assert.False(t, notify)
	assert.Equal(t, "m", rendered)
}

func TestAlertResolverRepeatInfoDoesNotRenotify(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateInfo, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateInfo, "m", now.Add(time.Second), time.Minute, time.Hour)
	assert.False(t, notify)
	assert.Equal(t, "m", rendered)
}

func TestAlertResolverTransitionBetweenBadStatesNotifies(t *testing.T) {
	var r alertResolver
	now := time.Now()

	notify, _ := r.resolve(types.CaseStateWarn, "m", now, time.Minute, time.Hour)
	assert.True(t, notify)

	notify, rendered := r.resolve(types.CaseStateDown, "m2", now.Add(time.Second), time.Minute, time.Hour)
	assert.True(t, notify)
	assert.Equal(t, "m2", rendered)
}
