package tplbuild

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tplbuild/tplbuild/src/config"
	"github.com/tplbuild/tplbuild/src/dockerfile"
	"github.com/tplbuild/tplbuild/src/executor"
	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
	"github.com/tplbuild/tplbuild/src/render"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// BuildRequest configures a build/publish/base-build invocation.
type BuildRequest struct {
	Profile       string
	Platforms     []string // empty means the project's default platform list
	Stages        []string // empty means every publishable (non-anon, non-base) stage
	Bases         bool     // true for base-build: target base stages instead of publishable ones
	UpdateSources bool     // force-refresh every source lock, ignoring the state store
	UpdateSalt    bool     // rotate the project salt before hashing, invalidating every base hash
	Preserve      bool     // keep intermediate tplbuild-* tags for debugging
	Publish       bool     // push completed stage images to their configured push names
}

// tagData is exposed to stage_image_name/stage_push_name templates.
type tagData struct {
	Stage    string
	Platform string
	Profile  string
	Vars     map[string]interface{}
}

// Build renders the entrypoint, resolves sources and base-image cache
// hits, plans the resulting graph, and executes it. The returned
// executor.Result is nil only when an error occurs before planning.
func (p *Pipeline) Build(ctx context.Context, req BuildRequest) (*executor.Result, error) {
	if req.UpdateSalt {
		p.Store.SetSalt(uuid.NewString())
	}

	plan, err := p.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	archiver, err := buildContextArchiver(p.RootDir, p.Config.Contexts)
	if err != nil {
		return nil, err
	}

	parallelism := p.User.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	ex := executor.New(executor.Config{
		Client:        p.Client,
		Archiver:      archiver,
		Parallelism:   parallelism,
		Preserve:      req.Preserve,
		BaseImageRepo: p.Config.BaseImageRepo,
		Publish:       req.Publish,
	})

	result, runErr := ex.Run(ctx, plan)
	if result != nil {
		p.persistDigests(result.Digests)
		if runErr == nil && req.Publish {
			runErr = p.pushMultiarchManifests(ctx, plan, result)
		}
	}
	if flushErr := p.Store.Flush(); flushErr != nil && runErr == nil {
		runErr = flushErr
	}
	return result, runErr
}

// pushMultiarchManifests assembles and pushes an OCI image index for every
// publish tag that ended up with builds for more than one platform. Each
// platform's manifest was already pushed to the tag's repo by runEntry
// (that push clobbers the tag pointer, but the manifest itself stays
// addressable by digest); this replaces that pointer with an index
// spanning every platform.
func (p *Pipeline) pushMultiarchManifests(ctx context.Context, plan *planner.Plan, result *executor.Result) error {
	perTag := map[string]map[string]string{}
	for _, e := range plan.Entries {
		if e.Intermediate || e.Platform == "" {
			continue
		}
		if _, ok := e.Node.(*graph.StageImage); !ok {
			continue
		}
		digest, ok := result.Digests[e.Node]
		if !ok {
			continue
		}
		for _, tag := range e.PushTags {
			platforms := perTag[tag]
			if platforms == nil {
				platforms = map[string]string{}
				perTag[tag] = platforms
			}
			platforms[e.Platform] = digest
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for tag, platforms := range perTag {
		if len(platforms) < 2 {
			continue
		}
		tag, platforms := tag, platforms
		group.Go(func() error {
			repo, bareTag := splitPushTag(tag)
			_, err := p.Reg.PushMultiarch(gctx, repo, bareTag, platforms)
			return err
		})
	}
	return group.Wait()
}

// splitPushTag separates a full "repo:tag" reference into its repository
// and tag components, the same way graph.splitRepoTag does for FROM/COPY
// references, defaulting to "latest" when the reference carries no tag.
func splitPushTag(ref string) (repo, tag string) {
	if idx := strings.LastIndex(ref, ":"); idx > strings.LastIndex(ref, "/") {
		return ref[:idx], ref[idx+1:]
	}
	return ref, "latest"
}

// resolvePlan renders, parses, and lowers the project into a plan for
// req's platforms and target stages, resolving every source and
// base-image digest along the way.
func (p *Pipeline) resolvePlan(ctx context.Context, req BuildRequest) (*planner.Plan, error) {
	profileName, rctx, err := p.renderContext(req.Profile)
	if err != nil {
		return nil, err
	}

	entrypoint := p.Config.TemplateEntrypoint
	includes, err := p.Loader.DiscoverIncludes(entrypoint)
	if err != nil {
		return nil, err
	}

	text, _, err := p.Render.RenderMulti(entrypoint, includes, rctx)
	if err != nil {
		return nil, err
	}

	parsed, err := dockerfile.Parse(text, nil, nil)
	if err != nil {
		return nil, err
	}
	applyStageOverrides(parsed.Stages, p.Config.Stages)

	archiver, err := buildContextArchiver(p.RootDir, p.Config.Contexts)
	if err != nil {
		return nil, err
	}
	contextNames := make(map[string]bool, len(p.Config.Contexts))
	for name := range p.Config.Contexts {
		contextNames[name] = true
	}

	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = []string(p.Config.Platforms)
	}
	if len(platforms) == 0 {
		platforms = []string{""}
	}

	hasher := graph.NewHasher(p.Store.Salt())
	var targets []graph.Node

	for _, platform := range platforms {
		g, err := graph.Build(parsed.Stages, graph.Config{
			ContextNames: contextNames,
			Platform:     platform,
			Profile:      profileName,
			FilesHash:    archiver.filesHashFunc,
		})
		if err != nil {
			return nil, err
		}

		if err := p.resolveSourceDigests(ctx, g, req.UpdateSources); err != nil {
			return nil, err
		}
		if err := p.resolveBaseDigests(ctx, g, hasher); err != nil {
			return nil, err
		}

		for _, name := range g.Order {
			node := g.Stages[name]
			si, ok := node.(*graph.StageImage)
			if !ok {
				continue
			}
			imageTags, pushTags, err := p.publishTagsFor(name, p.Config.Stages[name], platform, profileName, rctx.Vars)
			if err != nil {
				return nil, err
			}
			si.ImageTags = imageTags
			si.PushTags = pushTags
		}

		names := req.Stages
		if len(names) == 0 {
			names = defaultTargetNames(g, req.Bases)
		}
		for _, name := range names {
			node, ok := g.Stages[name]
			if !ok {
				return nil, &tplerr.GraphError{Kind: "unknown_stage", Msg: "no such stage: " + name}
			}
			targets = append(targets, node)
		}
	}

	return planner.Build(targets, hasher)
}

// defaultTargetNames selects every base stage (if bases is true) or
// every publishable, non-anon, non-base stage (otherwise), in graph
// order.
func defaultTargetNames(g *graph.Graph, bases bool) []string {
	var names []string
	for _, name := range g.Order {
		switch g.Stages[name].(type) {
		case *graph.BaseImage:
			if bases {
				names = append(names, name)
			}
		case *graph.StageImage:
			if !bases {
				names = append(names, name)
			}
		}
	}
	return names
}

// applyStageOverrides forces a stage's Base classification when the
// project config says so explicitly, overriding the base-/base_ name
// prefix convention graph.Build otherwise applies.
func applyStageOverrides(stages []dockerfile.Stage, cfgStages map[string]config.StageConfig) {
	for i := range stages {
		if sc, ok := cfgStages[stages[i].Name]; ok && sc.Base {
			stages[i].Base = true
		}
	}
}

// publishTagsFor renders a stage's image_names and push_names (or the
// project-wide stage_image_name/stage_push_name templates when a stage
// doesn't override them) into the two concrete tag lists a StageImage node
// carries. The two stay separate all the way to the executor: image_names
// tags are assigned locally only and never pushed, while push_names tags
// are assigned and pushed when the build is publishing.
func (p *Pipeline) publishTagsFor(stage string, sc config.StageConfig, platform, profile string, vars map[string]interface{}) (imageTags, pushTags []string, err error) {
	data := tagData{Stage: stage, Platform: platform, Profile: profile, Vars: vars}

	imageNames := []string(sc.ImageNames)
	if len(imageNames) == 0 && p.Config.StageImageName != "" {
		imageNames = []string{p.Config.StageImageName}
	}
	for _, tmplText := range imageNames {
		rendered, err := renderNameTemplate(tmplText, data)
		if err != nil {
			return nil, nil, err
		}
		imageTags = append(imageTags, rendered)
	}

	pushNames := []string(sc.PushNames)
	if len(pushNames) == 0 && p.Config.StagePushName != "" {
		pushNames = []string{p.Config.StagePushName}
	}
	for _, tmplText := range pushNames {
		rendered, err := renderNameTemplate(tmplText, data)
		if err != nil {
			return nil, nil, err
		}
		pushTags = append(pushTags, rendered)
	}

	return dedupe(imageTags), dedupe(pushTags), nil
}

func renderNameTemplate(tmplText string, data tagData) (string, error) {
	if tmplText == "" {
		return "", nil
	}
	t, err := template.New("name").Funcs(render.FuncMap()).Parse(tmplText)
	if err != nil {
		return "", &tplerr.ConfigError{Field: "stage_image_name", Msg: err.Error()}
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", &tplerr.ConfigError{Field: "stage_image_name", Msg: err.Error()}
	}
	return b.String(), nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
