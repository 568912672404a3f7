// Package types holds the persisted document model shared by the
// configuration façade, the supervisor, and the HTTP surface.
package types

import "time"

// Runner binds a shell command to a schedule, a set of line-matching cases,
// and notification targets.
type Runner struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Command                  string   `json:"command"`
	LoggingEnabled           bool     `json:"logging_enabled"`
	Schedule                 Schedule `json:"schedule"`
	MaxRuns                  int      `json:"max_runs"` // -1 => unbounded
	AlertCooldownSeconds     int      `json:"alert_cooldown_s"`
	AlertEscalationSeconds   int      `json:"alert_escalation_s"`
	FailurePauseThreshold    int      `json:"failure_pause_threshold"`
	Cases                    []Case   `json:"cases"`
	NotifyProfileIDs         []string `json:"notify_profile_ids"`
	NotifyProfileUpdatesOnly []string `json:"notify_profile_updates_only"`
}

// Schedule is the interval between the end of one run and the start of the
// next. All three fields sum to the interval in seconds.
type Schedule struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// IntervalSeconds returns the schedule collapsed to a single duration.
func (s Schedule) IntervalSeconds() int {
	total := s.Hours*3600 + s.Minutes*60 + s.Seconds
	if total < 0 {
		return 0
	}
	return total
}

// CaseState is the semantic alert state a case's match carries.
type CaseState string

const (
	CaseStateNone CaseState = ""
	CaseStateUp   CaseState = "UP"
	CaseStateDown CaseState = "DOWN"
	CaseStateWarn CaseState = "WARN"
	CaseStateInfo CaseState = "INFO"
)

// NormalizeCaseState validates a case state, falling back to CaseStateNone
// for anything unrecognized. Matching is exact: a lower-case spelling such as
// "down" is not recognized.
func NormalizeCaseState(v string) CaseState {
	switch CaseState(v) {
	case CaseStateUp, CaseStateDown, CaseStateWarn, CaseStateInfo:
		return CaseState(v)
	default:
		return CaseStateNone
	}
}

// Case is a regular expression applied to every output line, plus a message
// template and a semantic state. A case with both Pattern and
// MessageTemplate empty is the sentinel "send last line on finish" marker
// for its runner. A case with exactly one of the two empty is disabled.
type Case struct {
	ID              string    `json:"id"`
	Pattern         string    `json:"pattern"`
	MessageTemplate string    `json:"message_template"`
	State           CaseState `json:"state"`
}

// NotifyProfile is a named notification destination.
type NotifyProfile struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         string              `json:"type"` // currently only "pushover"
	Active       bool                `json:"active"`
	FailureCount int                 `json:"failure_count"`
	SentCount    int                 `json:"sent_count"`
	Config       PushoverCredentials `json:"config"`
}

// PushoverCredentials are the opaque secrets for a pushover profile. They
// are encrypted at rest by pkg/security and masked on any client-facing
// read.
type PushoverCredentials struct {
	UserKey  string `json:"user_key"`
	APIToken string `json:"api_token"`
}

// RunnerGroup is an ordered set of runners executed strictly sequentially.
// A runner id belongs to at most one group.
type RunnerGroup struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	RunnerIDs []string `json:"runner_ids"`
}

// LayoutItemType discriminates a LayoutItem.
type LayoutItemType string

const (
	LayoutItemRunner LayoutItemType = "runner"
	LayoutItemGroup  LayoutItemType = "group"
)

// LayoutItem is one entry in the display-order cover of runners and groups.
type LayoutItem struct {
	Type LayoutItemType `json:"type"`
	ID   string         `json:"id"`
}

// Document is the entire persisted configuration: the root of everything
// the configuration façade reads and normalizes.
type Document struct {
	NotifyProfiles []NotifyProfile `json:"notify_profiles"`
	Runners        []Runner        `json:"runners"`
	RunnerGroups   []RunnerGroup   `json:"runner_groups"`
	RunnerLayout   []LayoutItem    `json:"runner_layout"`

	// Legacy top-level Pushover credentials, carried for a one-shot
	// migration into a "notify_default" profile.
	LegacyPushoverUserKey  string `json:"pushover_user_key,omitempty"`
	LegacyPushoverAPIToken string `json:"pushover_api_token,omitempty"`
}

// JournalDelivery is the outcome of one notification delivery attempt.
type JournalDelivery string

const (
	DeliverySuccess JournalDelivery = "success"
	DeliveryError   JournalDelivery = "error"
)

// JournalRow is one row of the bounded notification journal.
type JournalRow struct {
	Timestamp   time.Time       `json:"ts"`
	RunnerID    string          `json:"runner_id"`
	ProfileID   string          `json:"profile_id"`
	ProfileName string          `json:"profile_name"`
	Delivery    JournalDelivery `json:"delivery"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Error       string          `json:"error,omitempty"`
}

// RuntimeStatus is the small slice of per-runner state that survives a
// restart: the last case match observed, checkpointed on every match.
type RuntimeStatus struct {
	LastCase   string    `json:"last_case"`
	LastCaseTS time.Time `json:"last_case_ts"`
}
