// Package planner partitions a hashed image-node DAG into an ordered
// list of plan entries the executor can run: linear builder invocations,
// tagging actions, and no-op markers for nodes already satisfied by a
// registry probe.
package planner

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tplbuild/tplbuild/src/graph"
)

// EntryKind classifies a PlanEntry.
type EntryKind string

const (
	KindChain  EntryKind = "chain"
	KindCached EntryKind = "cached"
)

// PlanEntry is one unit of work: either a linear chain of BuildSteps to
// hand the builder as a single invocation, or a no-op marker for a node
// a registry probe already satisfied.
type PlanEntry struct {
	Kind EntryKind

	// Node is the node this entry ultimately produces (a BuildStep at a
	// cut point, or a BaseImage/StageImage wrapper).
	Node graph.Node
	// Root is the parent baseline the chain's FROM should reference; nil
	// when the chain starts from scratch (never the case for Docker, but
	// left for completeness).
	Root graph.Node
	// Chain holds the BuildStep nodes from Root (exclusive) to Node
	// (inclusive, when Node is itself a BuildStep), in build order.
	Chain []*graph.BuildStep
	// ExtraContextDeps lists build-context tarballs the chain's COPY/ADD
	// instructions require.
	ExtraContextDeps []*graph.ContextImage

	Platform string

	// Tags this entry produces once built: a synthetic tplbuild-<uuid>
	// tag for an interior cut point, the base repo's content-hash tag
	// for a BaseImage, or the union of image_names/push_names tags for a
	// StageImage. Every tag in Tags gets built and tagged locally.
	Tags []string
	// PushTags is the subset of Tags that the executor pushes when the
	// build is publishing: a BaseImage's single tag (always pushed) or a
	// StageImage's push_names-derived tags (never its image_names ones).
	PushTags []string
	// Intermediate is true when Tags holds a synthetic cut-point tag
	// that must be cleaned up once every dependent entry has completed.
	Intermediate bool

	// DependsOn indexes other entries in the owning Plan that must
	// complete before this entry is ready to run.
	DependsOn []int
}

// Plan is an ordered, dependency-respecting list of plan entries.
type Plan struct {
	Entries []PlanEntry
}

// IntermediateTags returns every synthetic tag produced by this plan
// that must be removed once the plan finishes (success, failure, or
// cancellation), in entry order.
func (p *Plan) IntermediateTags() []string {
	var tags []string
	for _, e := range p.Entries {
		if e.Intermediate {
			tags = append(tags, e.Tags...)
		}
	}
	return tags
}

// Describe renders a human-readable summary of the plan, used by the
// base-build --check dry run to show what would happen without building
// anything.
func (p *Plan) Describe() []string {
	lines := make([]string, 0, len(p.Entries))
	for i, e := range p.Entries {
		switch e.Kind {
		case KindCached:
			lines = append(lines, fmt.Sprintf("[%d] cached: %s already satisfied", i, describeNode(e.Node)))
		default:
			lines = append(lines, fmt.Sprintf("[%d] build %s (%d steps, platform %s) -> %v depends on %v",
				i, describeNode(e.Node), len(e.Chain), e.Platform, e.Tags, e.DependsOn))
		}
	}
	return lines
}

func describeNode(n graph.Node) string {
	switch t := n.(type) {
	case *graph.BaseImage:
		return "base:" + t.StageName
	case *graph.StageImage:
		return "stage:" + t.StageName
	case *graph.SourceImage:
		return "source:" + t.Repo + ":" + t.Tag
	case *graph.ContextImage:
		return "context:" + t.ContextName
	case *graph.BuildStep:
		return "step:" + t.Instruction.Canonical()
	default:
		return fmt.Sprintf("%T", n)
	}
}

// Build partitions targets (the base or publish nodes requested) into a
// plan. hasher is used only to tie-break otherwise-equal orderings
// deterministically; it may be nil, in which case ties break on tag name.
func Build(targets []graph.Node, hasher *graph.Hasher) (*Plan, error) {
	visited := map[graph.Node]bool{}
	fanout := map[graph.Node]int{}
	var order []graph.Node

	var walk func(graph.Node)
	walk = func(n graph.Node) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		order = append(order, n)
		if isSatisfiedBase(n) {
			return
		}
		for _, dep := range deps(n) {
			fanout[dep]++
			walk(dep)
		}
	}
	for _, t := range targets {
		walk(t)
	}

	epSet := map[graph.Node]bool{}
	for _, t := range targets {
		if !isChainLeaf(t) {
			epSet[t] = true
		}
	}
	for _, n := range order {
		if isChainLeaf(n) {
			continue
		}
		if fanout[n] > 1 {
			epSet[n] = true
		}
		// BaseImage nodes are always independently materialised and
		// tagged in the base-image repo, regardless of fan-out, since
		// later runs may reuse them even when only one stage in this
		// plan currently depends on them.
		if _, ok := n.(*graph.BaseImage); ok {
			epSet[n] = true
		}
		// A node reached only through a secondary edge (a COPY --from
		// pointing at a stage other than the current one's parent)
		// cannot be inlined into the chain that references it: the
		// builder needs it as an already-tagged image before that COPY
		// can run, regardless of how many stages reference it.
		if step, ok := n.(*graph.BuildStep); ok {
			for _, d := range step.ExtraDeps {
				if !isChainLeaf(d) {
					epSet[d] = true
				}
			}
		}
	}

	var entries []PlanEntry
	nodeIndex := map[graph.Node]int{}

	for _, t := range targets {
		if isChainLeaf(t) {
			entries = append(entries, PlanEntry{Kind: KindCached, Node: t})
			nodeIndex[t] = len(entries) - 1
		}
	}

	// Deterministic iteration over epSet: order by discovery order so
	// output is stable across runs on the same graph.
	var eps []graph.Node
	for _, n := range order {
		if epSet[n] {
			eps = append(eps, n)
		}
	}

	for _, ep := range eps {
		root, steps := chainFor(ep, fanout)
		var extraCtx []*graph.ContextImage
		seen := map[*graph.ContextImage]bool{}
		for _, s := range steps {
			if s.Context != nil && !seen[s.Context] {
				seen[s.Context] = true
				extraCtx = append(extraCtx, s.Context)
			}
		}
		tags := tagsFor(ep)
		entries = append(entries, PlanEntry{
			Kind:             KindChain,
			Node:             ep,
			Root:             root,
			Chain:            steps,
			ExtraContextDeps: extraCtx,
			Platform:         platformOf(ep),
			Tags:             tags,
			PushTags:         pushTagsFor(ep, tags),
			Intermediate:     isIntermediate(ep),
		})
		nodeIndex[ep] = len(entries) - 1
	}

	for i := range entries {
		e := &entries[i]
		if e.Kind != KindChain {
			continue
		}
		depset := map[int]bool{}
		if idx, ok := nodeIndex[e.Root]; ok {
			depset[idx] = true
		}
		for _, s := range e.Chain {
			for _, d := range s.ExtraDeps {
				if idx, ok := nodeIndex[d]; ok {
					depset[idx] = true
				}
			}
		}
		for idx := range depset {
			e.DependsOn = append(e.DependsOn, idx)
		}
		sort.Ints(e.DependsOn)
	}

	ordered := topoOrder(entries, hasher)
	result := make([]PlanEntry, len(entries))
	remap := make([]int, len(entries))
	for newIdx, oldIdx := range ordered {
		result[newIdx] = entries[oldIdx]
		remap[oldIdx] = newIdx
	}
	for i := range result {
		for j, dep := range result[i].DependsOn {
			result[i].DependsOn[j] = remap[dep]
		}
		sort.Ints(result[i].DependsOn)
	}

	return &Plan{Entries: result}, nil
}

func deps(n graph.Node) []graph.Node {
	switch t := n.(type) {
	case *graph.BuildStep:
		out := []graph.Node{t.Parent}
		if t.Context != nil {
			out = append(out, t.Context)
		}
		out = append(out, t.ExtraDeps...)
		return out
	case *graph.BaseImage:
		return []graph.Node{t.Parent}
	case *graph.StageImage:
		return []graph.Node{t.Parent}
	default:
		return nil
	}
}

func isSatisfiedBase(n graph.Node) bool {
	b, ok := n.(*graph.BaseImage)
	return ok && b.ResolvedDigest != ""
}

func isChainLeaf(n graph.Node) bool {
	switch t := n.(type) {
	case *graph.SourceImage, *graph.ContextImage:
		return true
	case *graph.BaseImage:
		return t.ResolvedDigest != ""
	default:
		return false
	}
}

// chainFor walks backward from ep along Parent edges, collecting the
// maximal run of fan-out-1 BuildSteps, and returns the root it stopped
// at (a leaf or a cut point with its own entry).
func chainFor(ep graph.Node, fanout map[graph.Node]int) (root graph.Node, steps []*graph.BuildStep) {
	cur := unwrapNode(ep)
	for {
		step, ok := cur.(*graph.BuildStep)
		if !ok {
			return cur, steps
		}
		parent := step.Parent
		steps = append([]*graph.BuildStep{step}, steps...)
		if isChainLeaf(parent) || fanout[parent] > 1 {
			return parent, steps
		}
		cur = parent
	}
}

// unwrapNode returns the node whose Parent chain represents the actual
// Dockerfile instructions backing n: n itself for a BuildStep, or n's
// Parent for a BaseImage/StageImage wrapper.
func unwrapNode(n graph.Node) graph.Node {
	switch t := n.(type) {
	case *graph.BaseImage:
		return t.Parent
	case *graph.StageImage:
		return t.Parent
	default:
		return n
	}
}

func platformOf(n graph.Node) string {
	switch t := n.(type) {
	case *graph.BaseImage:
		return t.Platform
	case *graph.StageImage:
		return t.Platform
	case *graph.BuildStep:
		return t.Platform
	default:
		return ""
	}
}

func isIntermediate(n graph.Node) bool {
	switch n.(type) {
	case *graph.BaseImage, *graph.StageImage:
		return false
	default:
		return true
	}
}

// tagsFor computes the full set of tags a node's build should be tagged
// under locally. For a StageImage this is the union of its image_names and
// push_names tags; which of those get pushed is decided separately by
// pushTagsFor, since only push_names tags are ever pushed.
func tagsFor(n graph.Node) []string {
	switch t := n.(type) {
	case *graph.StageImage:
		out := dedupeStrings(append(append([]string{}, t.ImageTags...), t.PushTags...))
		if len(out) == 0 {
			out = []string{"tplbuild-" + uuid.NewString()}
		}
		return out
	case *graph.BaseImage:
		tag := t.ContentHash
		if tag == "" {
			tag = "tplbuild-" + uuid.NewString()
		}
		if t.Platform != "" {
			tag += "-" + SanitizeTag(t.Platform)
		}
		return []string{tag}
	default:
		return []string{"tplbuild-" + uuid.NewString()}
	}
}

// pushTagsFor returns the subset of a node's local tags (already computed
// by tagsFor, so no fresh synthetic tag gets minted here) that the
// executor pushes when publishing. A BaseImage's single tag is always
// eligible; a StageImage contributes only its push_names-derived tags,
// never its image_names ones. Everything else never pushes.
func pushTagsFor(n graph.Node, tags []string) []string {
	switch t := n.(type) {
	case *graph.StageImage:
		return dedupeStrings(append([]string{}, t.PushTags...))
	case *graph.BaseImage:
		return tags
	default:
		return nil
	}
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// SanitizeTag rewrites a platform string ("linux/amd64") into the form
// usable as a Docker tag component ("linux-amd64"). Exported so callers
// resolving a base image's registry tag ahead of a build (to probe for a
// cache hit) can reproduce the exact tag a plan entry would assign.
func SanitizeTag(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
