package tplbuild

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tplbuild/tplbuild/src/config"
	"github.com/tplbuild/tplbuild/src/executor"
	"github.com/tplbuild/tplbuild/src/render"
	"github.com/tplbuild/tplbuild/src/state"
)

// fakeBuildClient is a minimal executor.Client used to drive Pipeline.Build
// end to end without shelling out to a real builder.
type fakeBuildClient struct {
	built  []string
	pushed []string
}

func (f *fakeBuildClient) Build(ctx context.Context, in executor.BuildInput) (string, error) {
	f.built = append(f.built, in.Tag)
	return "sha256:" + in.Tag, nil
}
func (f *fakeBuildClient) Tag(ctx context.Context, src, dst string) error { return nil }
func (f *fakeBuildClient) Push(ctx context.Context, image string) error {
	f.pushed = append(f.pushed, image)
	return nil
}
func (f *fakeBuildClient) Pull(ctx context.Context, image string) error         { return nil }
func (f *fakeBuildClient) Untag(ctx context.Context, image string) error       { return nil }
func (f *fakeBuildClient) Platform(ctx context.Context) (string, error)        { return "linux/amd64", nil }

func newTestPipeline(t *testing.T, dockerfileText string, cfg *config.Config) (*Pipeline, *fakeBuildClient) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, cfg.TemplateEntrypoint), dockerfileText)

	store, err := state.Load(filepath.Join(root, ".tplbuilddata.json"))
	if err != nil {
		t.Fatalf("state.Load: %v", err)
	}
	loader := NewFileLoader(root, cfg.TemplatePaths)
	client := &fakeBuildClient{}
	reg := &fakeRegistry{digests: map[string]string{"alpine:3.19": "sha256:base"}}

	return &Pipeline{
		RootDir: root,
		Config:  cfg,
		User:    &config.UserConfig{Parallelism: 2},
		Store:   store,
		Client:  client,
		Reg:     reg,
		Render:  render.New(loader),
		Loader:  loader,
	}, client
}

func TestPipelineBuildProducesPublishTags(t *testing.T) {
	cfg := &config.Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		StagePushName:      "registry.example.com/{{ .Stage }}:{{ .Profile }}",
		DefaultProfile:     "default",
		Stages:             map[string]config.StageConfig{},
		Contexts:           map[string]config.ContextConfig{},
		Profiles:           map[string]config.ProfileConfig{"default": {}},
	}
	text := "FROM alpine:3.19 AS app\nRUN echo hi\n"
	p, client := newTestPipeline(t, text, cfg)

	result, err := p.Build(context.Background(), BuildRequest{Publish: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}

	found := false
	for _, pushed := range client.pushed {
		if strings.Contains(pushed, "registry.example.com/app:default") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a push to the rendered stage_push_name, got %v", client.pushed)
	}
}

func TestPipelineBuildWithoutPublishSkipsStagePush(t *testing.T) {
	cfg := &config.Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		StagePushName:      "registry.example.com/{{ .Stage }}:{{ .Profile }}",
		DefaultProfile:     "default",
		Stages:             map[string]config.StageConfig{},
		Contexts:           map[string]config.ContextConfig{},
		Profiles:           map[string]config.ProfileConfig{"default": {}},
	}
	text := "FROM alpine:3.19 AS app\nRUN echo hi\n"
	p, client := newTestPipeline(t, text, cfg)

	result, err := p.Build(context.Background(), BuildRequest{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}
	if len(client.pushed) != 0 {
		t.Fatalf("expected build without publish to push nothing, got %v", client.pushed)
	}
	if len(client.built) == 0 {
		t.Fatalf("expected the stage to still be built locally")
	}
}

func TestPipelineBuildPublishesMultiarchIndexForMultiplePlatforms(t *testing.T) {
	cfg := &config.Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		StagePushName:      "registry.example.com/app:v1",
		DefaultProfile:     "default",
		Stages:             map[string]config.StageConfig{},
		Contexts:           map[string]config.ContextConfig{},
		Profiles:           map[string]config.ProfileConfig{"default": {}},
	}
	text := "FROM alpine:3.19 AS app\nRUN echo hi\n"
	root := t.TempDir()
	writeFile(t, filepath.Join(root, cfg.TemplateEntrypoint), text)

	store, err := state.Load(filepath.Join(root, ".tplbuilddata.json"))
	if err != nil {
		t.Fatalf("state.Load: %v", err)
	}
	loader := NewFileLoader(root, cfg.TemplatePaths)
	client := &fakeBuildClient{}
	reg := &fakeRegistry{digests: map[string]string{"alpine:3.19": "sha256:base"}}

	p := &Pipeline{
		RootDir: root,
		Config:  cfg,
		User:    &config.UserConfig{Parallelism: 2},
		Store:   store,
		Client:  client,
		Reg:     reg,
		Render:  render.New(loader),
		Loader:  loader,
	}

	result, err := p.Build(context.Background(), BuildRequest{
		Publish:   true,
		Platforms: []string{"linux/amd64", "linux/arm64"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}

	reg.mu.Lock()
	calls := reg.multiarchCalls
	reg.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one PushMultiarch call, got %v", calls)
	}
	call := calls[0]
	if call.repo != "registry.example.com/app" || call.tag != "v1" {
		t.Fatalf("unexpected multiarch target: %+v", call)
	}
	if len(call.platforms) != 2 || call.platforms["linux/amd64"] == "" || call.platforms["linux/arm64"] == "" {
		t.Fatalf("expected a digest recorded for each platform, got %v", call.platforms)
	}
}

func TestPipelineBuildTargetsBaseStagesWhenRequested(t *testing.T) {
	cfg := &config.Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		BaseImageRepo:      "registry.example.com/base",
		Stages:             map[string]config.StageConfig{},
		Contexts:           map[string]config.ContextConfig{},
		Profiles:           map[string]config.ProfileConfig{"default": {}},
	}
	text := "FROM alpine:3.19 AS base-tools\nRUN apk add curl\nFROM base-tools AS app\nRUN echo hi\n"
	p, client := newTestPipeline(t, text, cfg)

	result, err := p.Build(context.Background(), BuildRequest{Bases: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Digests) == 0 {
		t.Fatalf("expected at least one recorded digest for a base image build")
	}

	found := false
	for _, pushed := range client.pushed {
		if strings.HasPrefix(pushed, "registry.example.com/base:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a push under the base image repo, got %v", client.pushed)
	}
}

func TestPublishTagsForFallsBackToStageOverrides(t *testing.T) {
	cfg := &config.Config{StageImageName: "registry.example.com/default/{{ .Stage }}"}
	p := &Pipeline{Config: cfg}

	imageTags, pushTags, err := p.publishTagsFor("app", config.StageConfig{ImageNames: []string{"registry.example.com/override/{{ .Stage }}"}}, "linux/amd64", "default", nil)
	if err != nil {
		t.Fatalf("publishTagsFor: %v", err)
	}
	if len(imageTags) != 1 || imageTags[0] != "registry.example.com/override/app" {
		t.Fatalf("expected the stage override to win, got %v", imageTags)
	}
	if len(pushTags) != 0 {
		t.Fatalf("expected no push tags when the stage sets no push_names, got %v", pushTags)
	}
}

func TestPublishTagsForUsesProjectDefaultWhenStageHasNoOverride(t *testing.T) {
	cfg := &config.Config{StageImageName: "registry.example.com/{{ .Stage }}-{{ .Platform }}"}
	p := &Pipeline{Config: cfg}

	imageTags, pushTags, err := p.publishTagsFor("app", config.StageConfig{}, "linux/amd64", "default", nil)
	if err != nil {
		t.Fatalf("publishTagsFor: %v", err)
	}
	if len(imageTags) != 1 || imageTags[0] != "registry.example.com/app-linux/amd64" {
		t.Fatalf("unexpected image tags: %v", imageTags)
	}
	if len(pushTags) != 0 {
		t.Fatalf("expected no push tags from stage_image_name alone, got %v", pushTags)
	}
}

func TestPublishTagsForKeepsImageAndPushNamesSeparate(t *testing.T) {
	p := &Pipeline{Config: &config.Config{}}

	imageTags, pushTags, err := p.publishTagsFor("app", config.StageConfig{
		ImageNames: []string{"local/{{ .Stage }}:dev"},
		PushNames:  []string{"registry.example.com/{{ .Stage }}:{{ .Profile }}"},
	}, "linux/amd64", "default", nil)
	if err != nil {
		t.Fatalf("publishTagsFor: %v", err)
	}
	if len(imageTags) != 1 || imageTags[0] != "local/app:dev" {
		t.Fatalf("unexpected image tags: %v", imageTags)
	}
	if len(pushTags) != 1 || pushTags[0] != "registry.example.com/app:default" {
		t.Fatalf("unexpected push tags: %v", pushTags)
	}
}

// TestPipelineBuildNeverPushesImageNamesTags proves that a stage's
// image_names tags stay local even when the build is publishing, while its
// push_names tags do get pushed.
func TestPipelineBuildNeverPushesImageNamesTags(t *testing.T) {
	cfg := &config.Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		DefaultProfile:     "default",
		Stages: map[string]config.StageConfig{
			"app": {
				ImageNames: []string{"local/{{ .Stage }}:dev"},
				PushNames:  []string{"registry.example.com/{{ .Stage }}:{{ .Profile }}"},
			},
		},
		Contexts: map[string]config.ContextConfig{},
		Profiles: map[string]config.ProfileConfig{"default": {}},
	}
	text := "FROM alpine:3.19 AS app\nRUN echo hi\n"
	p, client := newTestPipeline(t, text, cfg)

	result, err := p.Build(context.Background(), BuildRequest{Publish: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}

	builtLocal := false
	for _, tag := range client.built {
		if tag == "local/app:dev" {
			builtLocal = true
		}
	}
	if !builtLocal {
		t.Fatalf("expected the image_names tag to still be built locally, got %v", client.built)
	}

	for _, pushed := range client.pushed {
		if pushed == "local/app:dev" {
			t.Fatalf("image_names tag must never be pushed, got pushed=%v", client.pushed)
		}
	}
	pushedRemote := false
	for _, pushed := range client.pushed {
		if pushed == "registry.example.com/app:default" {
			pushedRemote = true
		}
	}
	if !pushedRemote {
		t.Fatalf("expected the push_names tag to be pushed, got %v", client.pushed)
	}
}
