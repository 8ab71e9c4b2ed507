package plan

import (
	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/canon"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/manifest"
)

// applyScope applies the scope controls documented in spec.md §4.4, in
// order: pin/target conflict check, ReRunFrom forcing, surgical
// TargetArtifactIDs restriction, then PinnedArtifactIDs exclusion.
// fullLayerOf is the job→layer index over the complete, unrestricted
// blueprint graph (spec.md's "layer index" for ReRunFrom).
func applyScope(g *blueprint.Graph, m *manifest.Manifest, latestArtifacts map[string]*eventlog.ArtifactEvent, fullLayerOf map[string]int, dirty map[string]struct{}, reasons map[string]Reason, scope Scope) error {
	if err := checkPinTargetConflict(scope); err != nil {
		return err
	}

	if scope.ReRunFrom != nil {
		for jobID, l := range fullLayerOf {
			if l >= *scope.ReRunFrom {
				if _, ok := dirty[jobID]; !ok {
					dirty[jobID] = struct{}{}
					reasons[jobID] = ReasonScopeReRunFrom
				}
			}
		}
	}

	if len(scope.TargetArtifactIDs) > 0 {
		if err := applySurgicalTargets(g, m, dirty, reasons, scope.TargetArtifactIDs); err != nil {
			return err
		}
	}

	if len(scope.PinnedArtifactIDs) > 0 {
		if err := applyPins(g, m, latestArtifacts, dirty, scope.PinnedArtifactIDs); err != nil {
			return err
		}
	}

	return nil
}

// checkPinTargetConflict rejects a scope that pins and surgically targets
// the same artifact ID (spec.md §4.4: "Pin + surgical-target on the same ID
// is a hard error").
func checkPinTargetConflict(scope Scope) error {
	pinned := make(map[string]struct{}, len(scope.PinnedArtifactIDs))
	for _, id := range scope.PinnedArtifactIDs {
		pinned[id] = struct{}{}
	}
	for _, id := range scope.TargetArtifactIDs {
		if _, ok := pinned[id]; ok {
			return newError(CodePinTargetConflict, "%s is both pinned and a surgical target", id)
		}
	}
	return nil
}

// applySurgicalTargets sets dirty to exactly {producer(T) ∪
// downstream(producer(T)) for every target T}: dirty jobs outside that set
// are dropped, and jobs in it that the dirty-rule computation left clean are
// added with ReasonScopeSurgical.
func applySurgicalTargets(g *blueprint.Graph, m *manifest.Manifest, dirty map[string]struct{}, reasons map[string]Reason, targets []string) error {
	keep := make(map[string]struct{})
	for _, target := range targets {
		producerID, ok := g.ProducerOf[target]
		if !ok {
			if m == nil {
				return newError(CodeArtifactNotInManifest, "%s", target)
			}
			if _, ok := m.Artefacts[target]; !ok {
				return newError(CodeArtifactNotInManifest, "%s", target)
			}
			return newError(CodeArtifactJobNotFound, "%s", target)
		}
		keep[producerID] = struct{}{}
		for _, downstreamID := range transitiveDownstream(g, producerID) {
			keep[downstreamID] = struct{}{}
		}
	}

	for jobID := range dirty {
		if _, ok := keep[jobID]; !ok {
			delete(dirty, jobID)
			delete(reasons, jobID)
		}
	}
	for jobID := range keep {
		if _, ok := dirty[jobID]; !ok {
			dirty[jobID] = struct{}{}
			reasons[jobID] = ReasonScopeSurgical
		}
	}
	return nil
}

func transitiveDownstream(g *blueprint.Graph, jobID string) []string {
	seen := make(map[string]struct{})
	var walk func(id string)
	var result []string
	walk = func(id string) {
		for _, d := range g.Downstream(id) {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			result = append(result, d)
			walk(d)
		}
	}
	walk(jobID)
	return result
}

// applyPins excludes from dirty every job whose produced artifacts are all
// pinned, provided each pinned artifact is already reusable: present in the
// manifest as succeeded, or its latest event is succeeded (spec.md §4.4).
func applyPins(g *blueprint.Graph, m *manifest.Manifest, latestArtifacts map[string]*eventlog.ArtifactEvent, dirty map[string]struct{}, pinned []string) error {
	pinnedSet := make(map[string]struct{}, len(pinned))
	for _, id := range pinned {
		if !canon.IsArtifactID(id) {
			return newError(CodeInvalidPinID, "%s", id)
		}
		if !reusable(m, latestArtifacts, id) {
			return newError(CodePinTargetNotReusable, "%s", id)
		}
		pinnedSet[id] = struct{}{}
	}

	for jobID := range dirty {
		job := g.Jobs[jobID]
		if job == nil || len(job.Produces) == 0 {
			continue
		}
		allPinned := true
		for _, produced := range job.Produces {
			if _, ok := pinnedSet[produced]; !ok {
				allPinned = false
				break
			}
		}
		if allPinned {
			delete(dirty, jobID)
		}
	}
	return nil
}

func reusable(m *manifest.Manifest, latestArtifacts map[string]*eventlog.ArtifactEvent, id string) bool {
	if m != nil {
		if entry, ok := m.Artefacts[id]; ok && entry.Status == eventlog.StatusSucceeded {
			return true
		}
	}
	if e, ok := latestArtifacts[id]; ok && e.Status == eventlog.StatusSucceeded {
		return true
	}
	return false
}
