package config

import (
	"regexp"

	"github.com/cuemby/runnerd/pkg/types"
)

// MaxRunsUnbounded is the sentinel MaxRuns value meaning "run forever".
const MaxRunsUnbounded = -1

// maxRunsCeiling is the highest finite MaxRuns a compiled config accepts;
// anything above it is clamped down.
const maxRunsCeiling = 100

// CompiledCase is a Case with its pattern pre-compiled. A case with either
// Pattern or MessageTemplate empty (but not both) is disabled and excluded
// from the compiled set; a case with both empty is the sentinel that sets
// SendLastLineOnFinish instead of being compiled.
type CompiledCase struct {
	ID              string
	Regex           *regexp.Regexp
	MessageTemplate string
	State           types.CaseState
}

// CaseError is one case dropped at compile time because its pattern failed
// to compile. The caller publishes it as a case_error event; the case
// itself is excluded from the compiled set, not fatal to the runner.
type CaseError struct {
	RunnerID string
	CaseID   string
	Pattern  string
	Err      error
}

// NotifyTarget is a resolved, type-checked notification destination for a
// runner.
type NotifyTarget struct {
	ProfileID   string
	UpdatesOnly bool
}

// RuntimeConfig is the immutable, compiled form of a Runner that C3
// actually executes against.
type RuntimeConfig struct {
	RunnerID               string
	Name                   string
	Command                string
	LoggingEnabled         bool
	IntervalSeconds        int
	MaxRuns                int
	AlertCooldownSeconds   int
	AlertEscalationSeconds int
	FailurePauseThreshold  int
	Cases                  []CompiledCase
	SendLastLineOnFinish   bool
	NotifyTargets          []NotifyTarget
}

// CompileRunnerConfig compiles a single Runner's cases and notify
// references into a RuntimeConfig. profiles is the document's full
// NotifyProfiles slice; only profiles of Type "pushover" are resolved into
// NotifyTargets. A case whose pattern fails to compile is dropped and
// reported as a CaseError rather than failing the whole runner.
func CompileRunnerConfig(runner types.Runner, profiles []types.NotifyProfile) (*RuntimeConfig, []CaseError) {
	pushover := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.Type == "pushover" {
			pushover[p.ID] = true
		}
	}

	cfg := &RuntimeConfig{
		RunnerID:               runner.ID,
		Name:                   runner.Name,
		Command:                runner.Command,
		LoggingEnabled:         runner.LoggingEnabled,
		IntervalSeconds:        runner.Schedule.IntervalSeconds(),
		MaxRuns:                clampMaxRuns(runner.MaxRuns),
		AlertCooldownSeconds:   runner.AlertCooldownSeconds,
		AlertEscalationSeconds: runner.AlertEscalationSeconds,
		FailurePauseThreshold:  runner.FailurePauseThreshold,
	}

	var caseErrors []CaseError

	for _, c := range runner.Cases {
		patternEmpty := c.Pattern == ""
		templateEmpty := c.MessageTemplate == ""

		switch {
		case patternEmpty && templateEmpty:
			cfg.SendLastLineOnFinish = true
			continue
		case patternEmpty != templateEmpty:
			// disabled: exactly one of the pair is empty
			continue
		}

		re, err := regexp.Compile("(?m)" + c.Pattern)
		if err != nil {
			caseErrors = append(caseErrors, CaseError{RunnerID: runner.ID, CaseID: c.ID, Pattern: c.Pattern, Err: err})
			continue
		}

		cfg.Cases = append(cfg.Cases, CompiledCase{
			ID:              c.ID,
			Regex:           re,
			MessageTemplate: c.MessageTemplate,
			State:           c.State,
		})
	}

	updatesOnly := make(map[string]bool, len(runner.NotifyProfileUpdatesOnly))
	for _, id := range runner.NotifyProfileUpdatesOnly {
		updatesOnly[id] = true
	}
	for _, id := range runner.NotifyProfileIDs {
		if !pushover[id] {
			continue
		}
		cfg.NotifyTargets = append(cfg.NotifyTargets, NotifyTarget{
			ProfileID:   id,
			UpdatesOnly: updatesOnly[id],
		})
	}

	return cfg, caseErrors
}

func clampMaxRuns(v int) int {
	if v == MaxRunsUnbounded {
		return MaxRunsUnbounded
	}
	if v < 1 {
		return 1
	}
	if v > maxRunsCeiling {
		return maxRunsCeiling
	}
	return v
}

// ResolveGroupForState returns the group a runner id belongs to, if any.
func ResolveGroupForState(doc *types.Document, runnerID string) (types.RunnerGroup, bool) {
	for _, g := range doc.RunnerGroups {
		for _, id := range g.RunnerIDs {
			if id == runnerID {
				return g, true
			}
		}
	}
	return types.RunnerGroup{}, false
}
