package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tplcontext "github.com/tplbuild/tplbuild/src/context"
	"github.com/tplbuild/tplbuild/src/dockerfile"
	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// fakeClient records every call it receives and can be told to fail
// specific build tags, simulating a builder subprocess without shelling
// out to anything.
type fakeClient struct {
	mu        sync.Mutex
	built     []string
	tagged    [][2]string
	pushed    []string
	untagged  []string
	failBuild map[string]bool
	failDelay time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{failBuild: map[string]bool{}}
}

func (f *fakeClient) Build(ctx context.Context, in BuildInput) (string, error) {
	if f.failDelay > 0 {
		select {
		case <-time.After(f.failDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	f.built = append(f.built, in.Tag)
	fail := f.failBuild[in.Tag]
	f.mu.Unlock()
	if fail {
		return "", errors.New("simulated build failure")
	}
	return "sha256:" + in.Tag, nil
}

func (f *fakeClient) Tag(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	f.tagged = append(f.tagged, [2]string{src, dst})
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Push(ctx context.Context, image string) error {
	f.mu.Lock()
	f.pushed = append(f.pushed, image)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Pull(ctx context.Context, image string) error { return nil }

func (f *fakeClient) Untag(ctx context.Context, image string) error {
	f.mu.Lock()
	f.untagged = append(f.untagged, image)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Platform(ctx context.Context) (string, error) { return "linux/amd64", nil }

func (f *fakeClient) has(tag string, list []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range list {
		if t == tag {
			return true
		}
	}
	return false
}

// fakeArchiver satisfies ContextArchiver without touching a real
// filesystem: it just writes the injected extra files (the rendered
// Dockerfile) so the resulting tar-shaped buffer is non-empty.
type fakeArchiver struct{}

func (fakeArchiver) Archive(name string, w io.Writer, extra ...tplcontext.ExtraFile) error {
	for _, e := range extra {
		if _, err := w.Write(e.Data); err != nil {
			return err
		}
	}
	return nil
}

func buildPlan(t *testing.T, text string, targets []string) (*graph.Graph, *planner.Plan) {
	t.Helper()
	res, err := dockerfile.Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := graph.Build(res.Stages, graph.Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var seen map[graph.Node]bool
	var nodes []graph.Node
	for _, name := range targets {
		n := g.Stages[name]
		nodes = append(nodes, n)
		seen = map[graph.Node]bool{}
		resolveSources(n, seen)
	}
	p, err := planner.Build(nodes, nil)
	if err != nil {
		t.Fatalf("planner.Build: %v", err)
	}
	return g, p
}

func resolveSources(n graph.Node, seen map[graph.Node]bool) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	switch t := n.(type) {
	case *graph.SourceImage:
		if t.Digest == "" {
			t.Digest = "sha256:" + t.Repo
		}
	case *graph.BuildStep:
		resolveSources(t.Parent, seen)
		if t.Context != nil {
			resolveSources(t.Context, seen)
		}
		for _, d := range t.ExtraDeps {
			resolveSources(d, seen)
		}
	case *graph.BaseImage:
		resolveSources(t.Parent, seen)
	case *graph.StageImage:
		resolveSources(t.Parent, seen)
	}
}

func TestExecutorBuildsSingleChain(t *testing.T) {
	_, plan := buildPlan(t, "FROM alpine AS build\nRUN echo hi\n", []string{"build"})

	client := newFakeClient()
	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 2})

	res, err := ex.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.built) != 1 {
		t.Fatalf("expected 1 build invocation, got %d", len(client.built))
	}
	if len(res.BuiltTags) == 0 {
		t.Fatalf("expected at least one built tag recorded")
	}
}

func TestExecutorDependencyOrderRespected(t *testing.T) {
	text := "FROM alpine AS base-tools\nRUN apk add curl\nFROM base-tools AS a\nRUN echo a\nFROM base-tools AS b\nRUN echo b\n"
	_, plan := buildPlan(t, text, []string{"a", "b"})

	client := newFakeClient()
	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 4})

	if _, err := ex.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// base-tools must have been built before both a and b.
	idx := map[string]int{}
	for i, tag := range client.built {
		idx[tag] = i
	}
	// Find the base-tools entry by its node type: a base image always gets
	// its own plan entry.
	var baseEntryTag string
	for _, e := range plan.Entries {
		if _, ok := e.Node.(*graph.BaseImage); ok {
			baseEntryTag = e.Tags[0]
		}
	}
	if baseEntryTag == "" {
		t.Fatalf("expected a plan entry for base-tools")
	}
	for tag, pos := range idx {
		if tag != baseEntryTag && pos < idx[baseEntryTag] {
			t.Fatalf("entry %q built before its dependency %q", tag, baseEntryTag)
		}
	}

	// Base image tags are cached results, not intermediates, so cleanup
	// leaves them in place.
	if client.has(baseEntryTag, client.untagged) {
		t.Fatalf("expected base image tag %q to be kept after the run", baseEntryTag)
	}
}

func TestExecutorPreservesIntermediateTagsWhenDebugFlagSet(t *testing.T) {
	text := "FROM alpine AS base-tools\nRUN apk add curl\nFROM base-tools AS a\nRUN echo a\nFROM base-tools AS b\nRUN echo b\n"
	_, plan := buildPlan(t, text, []string{"a", "b"})

	client := newFakeClient()
	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 4, Preserve: true})

	if _, err := ex.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.untagged) != 0 {
		t.Fatalf("expected no untag calls with Preserve set, got %v", client.untagged)
	}
}

func TestExecutorDrainsOnFailure(t *testing.T) {
	text := "FROM alpine AS a\nRUN echo a\nFROM alpine AS b\nRUN echo b\n"
	_, plan := buildPlan(t, text, []string{"a", "b"})

	client := newFakeClient()
	// Fail whichever entry corresponds to stage b.
	var bTag string
	for i, e := range plan.Entries {
		if len(e.Chain) > 0 && e.Chain[len(e.Chain)-1].Instruction.Operands == "echo b" {
			bTag = plan.Entries[i].Tags[0]
		}
	}
	if bTag == "" {
		t.Fatalf("failed to locate stage b's plan entry")
	}
	client.failBuild[bTag] = true

	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 4})
	_, err := ex.Run(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected an error from the failing entry")
	}
	var berr *tplerr.BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("expected a BuildError, got %v (%T)", err, err)
	}
}

func TestExecutorHonorsCancellation(t *testing.T) {
	_, plan := buildPlan(t, "FROM alpine AS build\nRUN echo hi\n", []string{"build"})

	client := newFakeClient()
	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Run(ctx, plan)
	if err == nil {
		t.Fatalf("expected an error from a pre-cancelled context")
	}
	var cerr *tplerr.Cancelled
	if !errors.As(err, &cerr) {
		t.Fatalf("expected Cancelled, got %v (%T)", err, err)
	}
	if len(client.built) != 0 {
		t.Fatalf("expected no build invocations once the context is already cancelled, got %d", len(client.built))
	}
}

func TestExecutorPushesBaseImageUnderConfiguredRepo(t *testing.T) {
	_, plan := buildPlan(t, "FROM alpine AS base-tools\nRUN apk add curl\n", []string{"base-tools"})

	client := newFakeClient()
	ex := New(Config{Client: client, Archiver: fakeArchiver{}, Parallelism: 1, BaseImageRepo: "registry.example.com/base"})

	var baseNode graph.Node
	for _, e := range plan.Entries {
		if _, ok := e.Node.(*graph.BaseImage); ok {
			baseNode = e.Node
		}
	}
	if baseNode == nil {
		t.Fatalf("expected a *graph.BaseImage plan entry")
	}

	res, err := ex.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, p := range client.pushed {
		if strings.HasPrefix(p, "registry.example.com/base:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a push under the configured base image repo, got %v", client.pushed)
	}
	if _, ok := res.Digests[baseNode]; !ok {
		t.Fatalf("expected Result.Digests to record the base image's build digest")
	}
}

func TestRenderChainRewritesFromFlag(t *testing.T) {
	text := "FROM alpine AS builder\nRUN echo build\nFROM alpine AS out\nCOPY --from=builder /a /b\n"
	res, err := dockerfile.Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := graph.Build(res.Stages, graph.Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	resolveSources(g.Stages["out"], map[graph.Node]bool{})

	plan, err := planner.Build([]graph.Node{g.Stages["out"]}, nil)
	if err != nil {
		t.Fatalf("planner.Build: %v", err)
	}

	names := map[graph.Node]string{}
	names[g.Stages["builder"]] = "builder-tag"
	nameOf := func(n graph.Node) (string, error) {
		if v, ok := names[n]; ok {
			return v, nil
		}
		if s, ok := n.(*graph.SourceImage); ok {
			return s.Repo, nil
		}
		return "", fmt.Errorf("no name for %T", n)
	}

	var out string
	for _, e := range plan.Entries {
		if len(e.Chain) > 0 {
			text, err := renderChain(e, nameOf)
			if err != nil {
				t.Fatalf("renderChain: %v", err)
			}
			out += text
		}
	}
	if !bytes.Contains([]byte(out), []byte("--from=builder-tag")) {
		t.Fatalf("expected rewritten --from flag in rendered Dockerfile, got:\n%s", out)
	}
}
