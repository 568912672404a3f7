package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/runnerd/pkg/types"
)

func TestNormalizeSanitizesBadIDs(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{{ID: "bad id!", Name: "r"}},
	}
	Normalize(doc)
	assert.Regexp(t, `^[A-Za-z0-9_-]{1,120}$`, doc.Runners[0].ID)
}

func TestNormalizeRegeneratesCollidingIDs(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{
			{ID: "dup", Name: "first"},
			{ID: "dup", Name: "second"},
		},
	}
	Normalize(doc)
	assert.NotEqual(t, doc.Runners[0].ID, doc.Runners[1].ID)
	assert.Equal(t, "dup", doc.Runners[0].ID)
}

func TestNormalizeClearsInvalidCaseState(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{{ID: "r1", Cases: []types.Case{
			{ID: "c1", Pattern: "x", MessageTemplate: "y", State: "BOGUS"},
		}}},
	}
	Normalize(doc)
	assert.Equal(t, types.CaseStateNone, doc.Runners[0].Cases[0].State)
}

func TestNormalizePrunesDanglingNotifyReferences(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{{ID: "r1", NotifyProfileIDs: []string{"ghost"}}},
	}
	Normalize(doc)
	assert.Empty(t, doc.Runners[0].NotifyProfileIDs)
}

func TestNormalizeEnforcesGroupExclusivity(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{{ID: "r1"}},
		RunnerGroups: []types.RunnerGroup{
			{ID: "g1", RunnerIDs: []string{"r1"}},
			{ID: "g2", RunnerIDs: []string{"r1"}},
		},
	}
	Normalize(doc)
	assert.Equal(t, []string{"r1"}, doc.RunnerGroups[0].RunnerIDs)
	assert.Empty(t, doc.RunnerGroups[1].RunnerIDs)
}

func TestNormalizeExtendsLayoutPreservingOrder(t *testing.T) {
	doc := &types.Document{
		Runners: []types.Runner{{ID: "r1"}, {ID: "r2"}},
		RunnerLayout: []types.LayoutItem{
			{Type: types.LayoutItemRunner, ID: "r2"},
		},
	}
	Normalize(doc)
	require.Len(t, doc.RunnerLayout, 2)
	assert.Equal(t, "r2", doc.RunnerLayout[0].ID)
	assert.Equal(t, "r1", doc.RunnerLayout[1].ID)
}

func TestNormalizeMigratesLegacyPushoverCredentials(t *testing.T) {
	doc := &types.Document{
		Runners:                []types.Runner{{ID: "r1"}},
		LegacyPushoverUserKey:  "u",
		LegacyPushoverAPIToken: "t",
	}
	Normalize(doc)

	require.Len(t, doc.NotifyProfiles, 1)
	assert.Equal(t, "notify_default", doc.NotifyProfiles[0].ID)
	assert.Equal(t, []string{"notify_default"}, doc.Runners[0].NotifyProfileIDs)
	assert.Empty(t, doc.LegacyPushoverUserKey)
}

func TestNormalizeSkipsMigrationWhenProfilesExist(t *testing.T) {
	doc := &types.Document{
		NotifyProfiles:         []types.NotifyProfile{{ID: "existing"}},
		LegacyPushoverUserKey:  "u",
		LegacyPushoverAPIToken: "t",
	}
	Normalize(doc)
	assert.Len(t, doc.NotifyProfiles, 1)
	assert.Equal(t, "existing", doc.NotifyProfiles[0].ID)
}

func TestCompileRunnerConfigDropsDisabledCases(t *testing.T) {
	runner := types.Runner{
		ID: "r1",
		Cases: []types.Case{
			{ID: "c1", Pattern: "x", MessageTemplate: ""}, // disabled
			{ID: "c2", Pattern: "", MessageTemplate: "y"}, // disabled
			{ID: "c3", Pattern: "x", MessageTemplate: "y"},
			{ID: "c4"}, // sentinel: send-last-line
		},
	}

	cfg, caseErrors := CompileRunnerConfig(runner, nil)
	assert.Empty(t, caseErrors)
	require.Len(t, cfg.Cases, 1)
	assert.Equal(t, "c3", cfg.Cases[0].ID)
	assert.True(t, cfg.SendLastLineOnFinish)
}

func TestCompileRunnerConfigClampsMaxRuns(t *testing.T) {
	cfg, caseErrors := CompileRunnerConfig(types.Runner{ID: "r1", MaxRuns: -1}, nil)
	assert.Empty(t, caseErrors)
	assert.Equal(t, MaxRunsUnbounded, cfg.MaxRuns)

	cfg, caseErrors = CompileRunnerConfig(types.Runner{ID: "r1", MaxRuns: 10000}, nil)
	assert.Empty(t, caseErrors)
	assert.Equal(t, 100, cfg.MaxRuns)

	cfg, caseErrors = CompileRunnerConfig(types.Runner{ID: "r1", MaxRuns: 0}, nil)
	assert.Empty(t, caseErrors)
	assert.Equal(t, 1, cfg.MaxRuns)
}

func TestCompileRunnerConfigDropsCaseWithBadRegexButKeepsRunner(t *testing.T) {
	runner := types.Runner{ID: "r1", Cases: []types.Case{
		{ID: "c1", Pattern: "(unclosed", MessageTemplate: "m"},
		{ID: "c2", Pattern: "ok", MessageTemplate: "m"},
	}}
	cfg, caseErrors := CompileRunnerConfig(runner, nil)
	require.Len(t, caseErrors, 1)
	assert.Equal(t, "c1", caseErrors[0].CaseID)
	require.Len(t, cfg.Cases, 1)
	assert.Equal(t, "c2", cfg.Cases[0].ID)
}

func TestCompileRunnerConfigOnlyResolvesPushoverProfiles(t *testing.T) {
	profiles := []types.NotifyProfile{
		{ID: "p1", Type: "pushover"},
		{ID: "p2", Type: "slack"},
	}
	runner := types.Runner{ID: "r1", NotifyProfileIDs: []string{"p1", "p2", "ghost"}}

	cfg, caseErrors := CompileRunnerConfig(runner, profiles)
	assert.Empty(t, caseErrors)
	require.Len(t, cfg.NotifyTargets, 1)
	assert.Equal(t, "p1", cfg.NotifyTargets[0].ProfileID)
}

func TestResolveGroupForState(t *testing.T) {
	doc := &types.Document{
		RunnerGroups: []types.RunnerGroup{{ID: "g1", RunnerIDs: []string{"r1"}}},
	}
	g, ok := ResolveGroupForState(doc, "r1")
	require.True(t, ok)
	assert.Equal(t, "g1", g.ID)

	_, ok = ResolveGroupForState(doc, "missing")
	assert.False(t, ok)
}
