// Package tplbuild is the orchestration root: it wires config loading,
// template rendering, Dockerfile parsing, graph construction, content
// hashing, planning, execution, and state persistence into the handful
// of operations the CLI verbs call, the same role the original tool's
// Tplbuild class plays over its own render/parse/plan/execute modules.
package tplbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tplbuild/tplbuild/src/config"
	"github.com/tplbuild/tplbuild/src/executor"
	"github.com/tplbuild/tplbuild/src/registry"
	"github.com/tplbuild/tplbuild/src/render"
	"github.com/tplbuild/tplbuild/src/state"
)

const stateFileName = ".tplbuilddata.json"

// Pipeline holds every long-lived collaborator a build operation needs,
// constructed once per CLI invocation from the project rooted at RootDir.
type Pipeline struct {
	RootDir string
	Config  *config.Config
	User    *config.UserConfig
	Store   *state.Store
	Client  executor.Client
	Reg     registry.Registry
	Render  *render.Renderer
	Loader  *FileLoader
	Git     *render.GitInfo
}

// Options overrides the default file locations New resolves relative to
// RootDir; a zero value uses every default.
type Options struct {
	ConfigPath     string // default: RootDir/tplbuild.yml
	UserConfigPath string // default: $HOME/.tplbuildconfig.yml
	StatePath      string // default: RootDir/.tplbuilddata.json
}

// New loads project and user config, opens the state store, and builds
// the render, registry, and builder-client collaborators for rootDir.
func New(rootDir string, opts Options) (*Pipeline, error) {
	if rootDir == "" {
		rootDir = "."
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(rootDir, "tplbuild.yml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	userConfigPath := opts.UserConfigPath
	if userConfigPath == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			userConfigPath = filepath.Join(home, ".tplbuildconfig.yml")
		}
	}
	userCfg, err := config.LoadUserConfig(userConfigPath)
	if err != nil {
		return nil, err
	}

	statePath := opts.StatePath
	if statePath == "" {
		statePath = filepath.Join(rootDir, stateFileName)
	}
	store, err := state.Load(statePath)
	if err != nil {
		return nil, err
	}

	cmdSet, err := userCfg.Client.CommandSet()
	if err != nil {
		return nil, err
	}
	client := executor.NewCommandClient(cmdSet)

	reg := registry.New(registry.Options{
		Keychain: registry.NewKeychain(convertAuth(userCfg.Auth)),
		TLS:      convertTLS(userCfg.Registry),
	})

	loader := NewFileLoader(rootDir, cfg.TemplatePaths)
	renderer := render.New(loader)
	git := render.DetectGitInfo(rootDir)

	return &Pipeline{
		RootDir: rootDir,
		Config:  cfg,
		User:    userCfg,
		Store:   store,
		Client:  client,
		Reg:     reg,
		Render:  renderer,
		Loader:  loader,
		Git:     git,
	}, nil
}

func convertAuth(auth map[string]config.AuthEntry) map[string]registry.AuthEntry {
	out := make(map[string]registry.AuthEntry, len(auth))
	for host, a := range auth {
		out[host] = registry.AuthEntry{Username: a.Username, Password: a.Password, Token: a.Token}
	}
	return out
}

func convertTLS(rc config.RegistryConfig) map[string]registry.TLSConfig {
	if !rc.SSLContext.Insecure && rc.SSLContext.CAFile == "" {
		return nil
	}
	// A single ssl_context block applies to every registry host this
	// project's config references; there is no per-host override in the
	// config schema.
	return map[string]registry.TLSConfig{
		"*": {Insecure: rc.SSLContext.Insecure, CAFile: rc.SSLContext.CAFile},
	}
}

// renderContext builds the render.Context for the given profile.
func (p *Pipeline) renderContext(profile string) (string, render.Context, error) {
	name, prof, err := p.Config.Profile(profile)
	if err != nil {
		return "", render.Context{}, err
	}
	return name, render.Context{
		Profile:    name,
		Vars:       prof.Vars,
		UserConfig: p.User,
		Git:        p.Git,
	}, nil
}

// Flush persists any pending state changes to disk.
func (p *Pipeline) Flush() error {
	return p.Store.Flush()
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("tplbuild pipeline at %s", p.RootDir)
}
