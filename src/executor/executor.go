package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	tplcontext "github.com/tplbuild/tplbuild/src/context"
	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// ContextArchiver produces the tar stream for a named build context, used
// by the executor to feed COPY/ADD instructions their file trees. The
// orchestration layer implements this against configured BuildContexts.
// An empty name requests an empty context (a chain with no COPY/ADD step
// against a build context).
type ContextArchiver interface {
	Archive(name string, w io.Writer, extra ...tplcontext.ExtraFile) error
}

// Config configures an Executor.
type Config struct {
	Client        Client
	Archiver      ContextArchiver
	Parallelism   int
	Preserve      bool // keep intermediate tplbuild-* tags for debugging
	BaseImageRepo string
	// Publish controls whether a completed StageImage's tags are pushed.
	// Base images are always pushed regardless of Publish, since that push
	// is what makes their content-hash cache visible to other builds.
	Publish bool
}

// Executor runs a plan's entries across a bounded pool of workers,
// respecting the plan's dependency edges, draining to a clean stop on the
// first failure or cancellation, and cleaning up intermediate tags on
// every exit path unless Config.Preserve is set.
type Executor struct {
	cfg Config

	mu         sync.Mutex
	entryTag   map[graph.Node]string
	contextTag map[*graph.ContextImage]string
}

// New builds an Executor. Parallelism defaults to 1 if not positive.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

func (ex *Executor) parallelism() int {
	if ex.cfg.Parallelism > 0 {
		return ex.cfg.Parallelism
	}
	return 1
}

// Result summarizes a completed run.
type Result struct {
	BuiltTags []string // every tag actually produced, in completion order
	Cancelled bool
	// Digests maps each non-cached plan entry's node to the digest its
	// build produced, so the orchestration layer can persist base-image
	// digests to the state store without re-resolving them.
	Digests map[graph.Node]string
}

type entryResult struct {
	idx    int
	digest string
	err    error
}

// Run executes plan to completion, returning the first error encountered
// (by plan-entry order) or nil on success. Intermediate tags are removed
// on every exit path unless Config.Preserve is set.
func (ex *Executor) Run(ctx context.Context, plan *planner.Plan) (*Result, error) {
	entries := plan.Entries
	n := len(entries)

	ex.mu.Lock()
	ex.entryTag = map[graph.Node]string{}
	for _, pe := range entries {
		if len(pe.Tags) > 0 {
			ex.entryTag[pe.Node] = pe.Tags[0]
		}
	}
	ex.contextTag = map[*graph.ContextImage]string{}
	ex.mu.Unlock()

	if err := ex.materializeContexts(ctx, entries); err != nil {
		if !ex.cfg.Preserve {
			if cleanupErr := ex.cleanupTags(ex.contextTags()); cleanupErr != nil {
				log.Warn().Err(cleanupErr).Msg("cleanup after a failed context materialization also hit errors")
			}
		}
		return nil, err
	}

	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, pe := range entries {
		indegree[i] = len(pe.DependsOn)
		for _, d := range pe.DependsOn {
			dependents[d] = append(dependents[d], i)
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	sem := make(chan struct{}, ex.parallelism())
	resultsCh := make(chan entryResult)
	inFlight := 0
	done := 0
	draining := false

	firstErrIdx := -1
	var firstErr error
	var builtTags []string
	var completedIntermediates []string
	digests := map[graph.Node]string{}

	dispatch := func(i int) {
		inFlight++
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			digest, err := ex.runEntry(ctx, entries[i])
			resultsCh <- entryResult{idx: i, digest: digest, err: err}
		}()
	}

	for done < n {
		cancelled := ctx.Err() != nil
		if !draining && !cancelled {
			for len(queue) > 0 {
				i := queue[0]
				queue = queue[1:]
				dispatch(i)
			}
		}
		if inFlight == 0 {
			if draining || cancelled {
				break
			}
			// No ready work and nothing in flight: the remaining
			// entries are unreachable (should not happen for a
			// well-formed plan), stop rather than spin.
			break
		}

		res := <-resultsCh
		inFlight--
		done++

		e := entries[res.idx]
		if res.err != nil {
			draining = true
			if firstErrIdx == -1 || res.idx < firstErrIdx {
				firstErrIdx = res.idx
				firstErr = res.err
			}
			log.Error().Err(res.err).Int("entry", res.idx).Msg("plan entry failed, draining")
			continue
		}

		builtTags = append(builtTags, e.Tags...)
		if e.Intermediate {
			completedIntermediates = append(completedIntermediates, e.Tags...)
		}
		if res.digest != "" {
			digests[e.Node] = res.digest
		}
		for _, dep := range dependents[res.idx] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = &tplerr.Cancelled{Reason: ctx.Err().Error()}
	}

	if !ex.cfg.Preserve {
		cleanupErr := ex.cleanupTags(append(completedIntermediates, ex.contextTags()...))
		if firstErr == nil {
			firstErr = cleanupErr
		} else if cleanupErr != nil {
			log.Warn().Err(cleanupErr).Msg("cleanup after a failed build also hit errors")
		}
	}

	result := &Result{BuiltTags: builtTags, Cancelled: firstErrIdx == -1 && ctx.Err() != nil, Digests: digests}
	return result, firstErr
}

// runEntry executes a single plan entry: a no-op for an already-satisfied
// cached node, or a build-then-tag-then-push sequence for a chain. It
// returns the digest the builder reported for the entry's primary tag.
func (ex *Executor) runEntry(ctx context.Context, entry planner.PlanEntry) (string, error) {
	if entry.Kind == planner.KindCached {
		return "", nil
	}

	dockerfileText, err := renderChain(entry, ex.nameOf)
	if err != nil {
		return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
	}

	var buf bytes.Buffer
	if err := ex.writeContext(entry, &buf, dockerfileText); err != nil {
		return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
	}

	if len(entry.Tags) == 0 {
		return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: fmt.Errorf("plan entry has no tag assigned")}
	}
	primary := entry.Tags[0]

	digest, err := ex.cfg.Client.Build(ctx, BuildInput{Context: &buf, Tag: primary, Platform: entry.Platform})
	if err != nil {
		var berr *tplerr.BuildError
		var cerr *tplerr.Cancelled
		if errors.As(err, &berr) || errors.As(err, &cerr) {
			return "", err
		}
		return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
	}

	for _, tag := range entry.Tags[1:] {
		if err := ex.cfg.Client.Tag(ctx, primary, tag); err != nil {
			return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
		}
	}

	_, isBase := entry.Node.(*graph.BaseImage)
	if !entry.Intermediate && (isBase || ex.cfg.Publish) {
		for _, tag := range entry.PushTags {
			pushTag := tag
			// A base image's plan tag is a bare content-hash-derived
			// name; pushing it needs the configured base image repo
			// prefix, unlike a stage image whose PushTags already
			// carry the repo.
			if isBase && ex.cfg.BaseImageRepo != "" {
				pushTag = ex.cfg.BaseImageRepo + ":" + tag
				if err := ex.cfg.Client.Tag(ctx, primary, pushTag); err != nil {
					return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
				}
			}
			if err := ex.cfg.Client.Push(ctx, pushTag); err != nil {
				return "", &tplerr.BuildError{Entry: describeEntry(entry), Err: err}
			}
		}
	}

	return digest, nil
}

// writeContext archives the entry's default context (if any COPY/ADD step
// in the chain uses one) plus the rendered Dockerfile into buf as a
// single tar stream.
func (ex *Executor) writeContext(entry planner.PlanEntry, buf *bytes.Buffer, dockerfileText string) error {
	extra := tplcontext.ExtraFile{Name: "Dockerfile", Mode: 0o444, Data: []byte(dockerfileText)}

	var defaultCtx *graph.ContextImage
	for _, step := range entry.Chain {
		if step.Context != nil {
			defaultCtx = step.Context
			break
		}
	}
	if defaultCtx == nil {
		return ex.cfg.Archiver.Archive("", buf, extra)
	}
	return ex.cfg.Archiver.Archive(defaultCtx.ContextName, buf, extra)
}

// materializeContexts builds every named context referenced via a
// COPY --from=<context> instruction into its own tiny image (FROM scratch
// plus the context tree), tagged so later chains can reference it like
// any other stage. Contexts consumed as an instruction's default context
// (no --from) do not need this: they are streamed directly as the
// chain's own build context.
func (ex *Executor) materializeContexts(ctx context.Context, entries []planner.PlanEntry) error {
	seen := map[*graph.ContextImage]bool{}
	var toBuild []*graph.ContextImage
	for _, e := range entries {
		for _, step := range e.Chain {
			for _, d := range step.ExtraDeps {
				c, ok := d.(*graph.ContextImage)
				if !ok || seen[c] {
					continue
				}
				seen[c] = true
				toBuild = append(toBuild, c)
			}
		}
	}
	if len(toBuild) == 0 {
		return nil
	}

	sem := make(chan struct{}, ex.parallelism())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	for _, c := range toBuild {
		wg.Add(1)
		go func(c *graph.ContextImage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			tag := "tplbuild-ctx-" + uuid.NewString()
			var buf bytes.Buffer
			extra := tplcontext.ExtraFile{Name: "Dockerfile", Mode: 0o444, Data: []byte("FROM scratch\nCOPY . /\n")}
			if err := ex.cfg.Archiver.Archive(c.ContextName, &buf, extra); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			if _, err := ex.cfg.Client.Build(ctx, BuildInput{Context: &buf, Tag: tag}); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			ex.mu.Lock()
			ex.contextTag[c] = tag
			ex.mu.Unlock()
		}(c)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// contextTags returns every throwaway tag materializeContexts built, so
// Run's cleanup pass removes them alongside the plan's own intermediates.
func (ex *Executor) contextTags() []string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	tags := make([]string, 0, len(ex.contextTag))
	for _, tag := range ex.contextTag {
		tags = append(tags, tag)
	}
	return tags
}

// nameOf resolves a graph node to the image reference the builder should
// use: an assigned plan tag, an externally pinned source digest, a
// resolved base-image digest reference, or a materialized context tag.
func (ex *Executor) nameOf(n graph.Node) (string, error) {
	ex.mu.Lock()
	tag, ok := ex.entryTag[n]
	ex.mu.Unlock()
	if ok {
		return tag, nil
	}

	switch t := n.(type) {
	case *graph.SourceImage:
		if t.Digest != "" {
			return t.Repo + "@" + t.Digest, nil
		}
		if t.Tag != "" {
			return t.Repo + ":" + t.Tag, nil
		}
		return t.Repo, nil
	case *graph.BaseImage:
		if t.ResolvedDigest == "" {
			return "", fmt.Errorf("base image %q has neither a plan entry nor a resolved digest", t.StageName)
		}
		if ex.cfg.BaseImageRepo == "" {
			return "", fmt.Errorf("base image %q resolved but no base image repo is configured", t.StageName)
		}
		return ex.cfg.BaseImageRepo + "@" + t.ResolvedDigest, nil
	case *graph.ContextImage:
		ex.mu.Lock()
		tag, ok := ex.contextTag[t]
		ex.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("context %q was not materialized before use", t.ContextName)
		}
		return tag, nil
	default:
		return "", fmt.Errorf("no name resolved for node %T", n)
	}
}

// cleanupTags removes every intermediate tag the run produced, tolerating
// duplicates, and aggregates every failure rather than stopping at the
// first so a single stuck tag never masks the rest.
func (ex *Executor) cleanupTags(tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			if err := ex.cfg.Client.Untag(context.Background(), tag); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("untag %s: %w", tag, err))
				mu.Unlock()
			}
		}(tag)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func describeEntry(e planner.PlanEntry) string {
	if len(e.Tags) > 0 {
		return e.Tags[0]
	}
	return fmt.Sprintf("%T", e.Node)
}
