package tplbuild

import (
	"context"

	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
)

// PruneResult reports what base-prune did: how many stale entries were
// dropped from the local state store, and which remote tags were deleted
// (or would have been, in a dry run).
type PruneResult struct {
	RemovedFromStore int
	DeletedTags      []string
	DryRun           bool
}

// Prune removes base-image cache entries (both the local state store's
// bookkeeping and the registry tags backing them) whose content hash is
// no longer reachable from the project's current template across every
// configured platform. dryRun reports what would be deleted without
// deleting anything.
func (p *Pipeline) Prune(ctx context.Context, profile string, dryRun bool) (*PruneResult, error) {
	plan, err := p.resolvePlan(ctx, BuildRequest{Profile: profile, Bases: true})
	if err != nil {
		return nil, err
	}

	// A KindCached entry (a base image the state store or a registry
	// probe already resolved) never gets Tags populated by the planner,
	// since it has nothing left to build; the tag it lives under is
	// still derived from its content hash the same way tagsFor would,
	// so recompute it directly instead of relying on e.Tags.
	keepHashes := map[string]bool{}
	keepTags := map[string]bool{}
	for _, e := range plan.Entries {
		b, ok := e.Node.(*graph.BaseImage)
		if !ok || b.ContentHash == "" {
			continue
		}
		keepHashes[b.ContentHash] = true
		tag := b.ContentHash
		if b.Platform != "" {
			tag += "-" + planner.SanitizeTag(b.Platform)
		}
		keepTags[tag] = true
	}

	result := &PruneResult{DryRun: dryRun}

	if p.Config.BaseImageRepo != "" {
		tags, err := p.Reg.ListTags(ctx, p.Config.BaseImageRepo)
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			if keepTags[t.Name] {
				continue
			}
			result.DeletedTags = append(result.DeletedTags, t.Name)
			if !dryRun {
				if err := p.Reg.DeleteTag(ctx, p.Config.BaseImageRepo, t.Name); err != nil {
					return nil, err
				}
			}
		}
	}

	if !dryRun {
		result.RemovedFromStore = p.Store.Prune(keepHashes)
		if err := p.Store.Flush(); err != nil {
			return nil, err
		}
	}

	return result, nil
}
