// Package config is the configuration façade (C5): it normalizes the raw
// persisted document into an internally consistent shape, then compiles
// each runner into an immutable runtime config consumed by C2/C3/C4.
package config

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/cuemby/runnerd/pkg/types"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,120}$`)

// Normalize rewrites doc in place into a consistent shape: sanitized ids,
// valid case states, pruned notify-profile references, mutually exclusive
// group membership, a layout that covers every runner and group exactly
// once, and a one-shot legacy-credential migration. It does not fill in
// defaults for optional fields; MaxRuns is clamped later, by
// CompileRunnerConfig. It returns doc for convenience.
func Normalize(doc *types.Document) *types.Document {
	if doc == nil {
		return doc
	}

	migrateLegacyPushover(doc)
	sanitizeIDs(doc)
	normalizeCaseStates(doc)
	pruneNotifyReferences(doc)
	enforceGroupExclusivity(doc)
	extendLayout(doc)

	return doc
}

// migrateLegacyPushover synthesizes a "notify_default" profile from
// top-level legacy credentials the first time the document is normalized
// after an upgrade, attaching it to every runner that names no profiles of
// its own.
func migrateLegacyPushover(doc *types.Document) {
	if len(doc.NotifyProfiles) > 0 {
		return
	}
	if doc.LegacyPushoverUserKey == "" && doc.LegacyPushoverAPIToken == "" {
		return
	}

	const defaultID = "notify_default"
	doc.NotifyProfiles = append(doc.NotifyProfiles, types.NotifyProfile{
		ID:     defaultID,
		Name:   "Pushover (Standard)",
		Type:   "pushover",
		Active: true,
		Config: types.PushoverCredentials{
			UserKey:  doc.LegacyPushoverUserKey,
			APIToken: doc.LegacyPushoverAPIToken,
		},
	})

	for i := range doc.Runners {
		if len(doc.Runners[i].NotifyProfileIDs) == 0 {
			doc.Runners[i].NotifyProfileIDs = []string{defaultID}
		}
	}

	doc.LegacyPushoverUserKey = ""
	doc.LegacyPushoverAPIToken = ""
}

// sanitizeIDs regenerates any id that fails idPattern or collides with one
// already seen, preserving first-seen ids unchanged.
func sanitizeIDs(doc *types.Document) {
	seen := make(map[string]bool)

	fresh := func(prefix string) string {
		for {
			id := prefix + uuid.New().String()
			if !seen[id] {
				return id
			}
		}
	}

	sanitize := func(id, prefix string) string {
		if id != "" && idPattern.MatchString(id) && !seen[id] {
			seen[id] = true
			return id
		}
		id = fresh(prefix)
		seen[id] = true
		return id
	}

	for i := range doc.NotifyProfiles {
		doc.NotifyProfiles[i].ID = sanitize(doc.NotifyProfiles[i].ID, "profile_")
	}
	for i := range doc.Runners {
		doc.Runners[i].ID = sanitize(doc.Runners[i].ID, "runner_")
		for j := range doc.Runners[i].Cases {
			doc.Runners[i].Cases[j].ID = sanitize(doc.Runners[i].Cases[j].ID, "case_")
		}
	}
	for i := range doc.RunnerGroups {
		doc.RunnerGroups[i].ID = sanitize(doc.RunnerGroups[i].ID, "group_")
	}
}

func normalizeCaseStates(doc *types.Document) {
	for i := range doc.Runners {
		for j := range doc.Runners[i].Cases {
			c := &doc.Runners[i].Cases[j]
			c.State = types.NormalizeCaseState(string(c.State))
		}
	}
}

// pruneNotifyReferences drops notify-profile ids a runner references that
// no longer exist in NotifyProfiles.
func pruneNotifyReferences(doc *types.Document) {
	valid := make(map[string]bool, len(doc.NotifyProfiles))
	for _, p := range doc.NotifyProfiles {
		valid[p.ID] = true
	}

	for i := range doc.Runners {
		doc.Runners[i].NotifyProfileIDs = filterValid(doc.Runners[i].NotifyProfileIDs, valid)
		doc.Runners[i].NotifyProfileUpdatesOnly = filterValid(doc.Runners[i].NotifyProfileUpdatesOnly, valid)
	}
}

func filterValid(ids []string, valid map[string]bool) []string {
	if len(ids) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if valid[id] {
			out = append(out, id)
		}
	}
	return out
}

// enforceGroupExclusivity ensures a runner id belongs to at most one group:
// the first group (in document order) to claim it wins, later claims drop
// it from their RunnerIDs.
func enforceGroupExclusivity(doc *types.Document) {
	claimed := make(map[string]bool)
	for i := range doc.RunnerGroups {
		g := &doc.RunnerGroups[i]
		kept := make([]string, 0, len(g.RunnerIDs))
		for _, id := range g.RunnerIDs {
			if claimed[id] {
				continue
			}
			claimed[id] = true
			kept = append(kept, id)
		}
		g.RunnerIDs = kept
	}
}

// extendLayout appends any runner or group missing from RunnerLayout,
// preserving the relative order of items already laid out, and drops
// layout entries whose referent no longer exists.
func extendLayout(doc *types.Document) {
	runnerExists := make(map[string]bool, len(doc.Runners))
	for _, r := range doc.Runners {
		runnerExists[r.ID] = true
	}
	groupExists := make(map[string]bool, len(doc.RunnerGroups))
	for _, g := range doc.RunnerGroups {
		groupExists[g.ID] = true
	}

	covered := make(map[string]bool)
	kept := make([]types.LayoutItem, 0, len(doc.RunnerLayout))
	for _, item := range doc.RunnerLayout {
		switch item.Type {
		case types.LayoutItemRunner:
			if !runnerExists[item.ID] || covered[item.ID] {
				continue
			}
		case types.LayoutItemGroup:
			if !groupExists[item.ID] || covered[item.ID] {
				continue
			}
		default:
			continue
		}
		covered[item.ID] = true
		kept = append(kept, item)
	}

	for _, r := range doc.Runners {
		if !covered[r.ID] {
			kept = append(kept, types.LayoutItem{Type: types.LayoutItemRunner, ID: r.ID})
			covered[r.ID] = true
		}
	}
	for _, g := range doc.RunnerGroups {
		if !covered[g.ID] {
			kept = append(kept, types.LayoutItem{Type: types.LayoutItemGroup, ID: g.ID})
			covered[g.ID] = true
		}
	}

	doc.RunnerLayout = kept
}
