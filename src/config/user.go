package config

import "github.com/tplbuild/tplbuild/src/tplerr"

// UserConfig is the per-user ~/.tplbuildconfig.yml document: which
// builder client to shell out to and how, registry TLS trust settings,
// worker pool size, and registry auth.
type UserConfig struct {
	Client      ClientConfig      `yaml:"client"`
	Registry    RegistryConfig    `yaml:"registry"`
	Parallelism int               `yaml:"parallelism"`
	Auth        map[string]AuthEntry `yaml:"auth"`
}

// ClientKind names one of the built-in command-template presets, or
// "custom" to require Commands to be fully specified.
type ClientKind string

const (
	ClientDocker ClientKind = "docker"
	ClientBuildx ClientKind = "buildx"
	ClientPodman ClientKind = "podman"
	ClientCustom ClientKind = "custom"
)

// ClientConfig selects and optionally overrides the builder-client
// command templates (see src/executor.CommandSet).
type ClientConfig struct {
	Type     ClientKind             `yaml:"type"`
	Commands map[string]CommandSpec `yaml:"commands"`
}

// CommandSpec is one templated command: an argv template (recognised
// variables: {image}, {source_image}, {target_image}, {platform},
// {dependencies}, {args}, {environment}) plus environment overrides.
type CommandSpec struct {
	Argv []string          `yaml:"argv"`
	Env  map[string]string `yaml:"env"`
}

// RegistryConfig configures registry TLS trust.
type RegistryConfig struct {
	SSLContext SSLContextConfig `yaml:"ssl_context"`
}

// SSLContextConfig configures certificate trust for registry HTTPS calls.
type SSLContextConfig struct {
	Insecure bool   `yaml:"insecure"`
	CAFile   string `yaml:"cafile"`
	CAPath   string `yaml:"capath"`
}

// AuthEntry is one registry's credentials, keyed by registry hostname.
type AuthEntry struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

func defaultUserConfig() *UserConfig {
	return &UserConfig{
		Client:      ClientConfig{Type: ClientDocker},
		Parallelism: 0, // 0 means "default to runtime.NumCPU()"
		Auth:        map[string]AuthEntry{},
	}
}

// Validate checks that a custom client actually supplies every command
// the executor's Client interface needs.
func (c *UserConfig) Validate() error {
	if c.Client.Type == ClientCustom {
		for _, verb := range []string{"build", "tag", "push", "pull", "untag", "platform"} {
			if _, ok := c.Client.Commands[verb]; !ok {
				return &tplerr.ConfigError{Field: "client.commands." + verb, Msg: "required for a custom client"}
			}
		}
	}
	return nil
}
