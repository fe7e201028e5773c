package config

import "github.com/tplbuild/tplbuild/src/tplerr"

// Config is the top-level tplbuild.yml document: everything needed to
// render the entrypoint template, name and tag the resulting images, and
// pick a default set of platforms and a profile.
type Config struct {
	Version          string                    `yaml:"version"`
	BaseImageRepo    string                    `yaml:"base_image_repo"`
	StageImageName   string                    `yaml:"stage_image_name"`
	StagePushName    string                    `yaml:"stage_push_name"`
	Platforms        StringList                `yaml:"platforms"`
	DefaultProfile   string                    `yaml:"default_profile"`
	Profiles         map[string]ProfileConfig  `yaml:"profiles"`
	Contexts         map[string]ContextConfig  `yaml:"contexts"`
	Stages           map[string]StageConfig    `yaml:"stages"`
	TemplatePaths    StringList                `yaml:"template_paths"`
	TemplateEntrypoint string                  `yaml:"template_entrypoint"`
	DockerfileSyntax string                    `yaml:"dockerfile_syntax"`
}

// ProfileConfig is one named profile's free-form template variables.
type ProfileConfig struct {
	Vars map[string]interface{} `yaml:",inline"`
}

// ContextConfig configures one named build context.
type ContextConfig struct {
	BaseDir    string     `yaml:"base_dir"`
	Umask      string     `yaml:"umask"`
	IgnoreFile string     `yaml:"ignore_file"`
	Ignore     StringList `yaml:"ignore"`
}

// StageConfig configures how one stage's images are tagged and whether it
// participates in the base-image cache.
type StageConfig struct {
	Base       bool       `yaml:"base"`
	ImageNames StringList `yaml:"image_names"`
	PushNames  StringList `yaml:"push_names"`
}

func defaultConfig() *Config {
	return &Config{
		TemplateEntrypoint: "Dockerfile.tplbuild",
		Profiles:           map[string]ProfileConfig{},
		Contexts:           map[string]ContextConfig{},
		Stages:             map[string]StageConfig{},
	}
}

// Validate checks the cross-field invariants Load can't express through
// the YAML schema alone: an unknown default_profile, or a base stage
// without a configured base_image_repo to push cached builds into.
func (c *Config) Validate() error {
	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return &tplerr.ConfigError{Field: "default_profile", Msg: "profile " + c.DefaultProfile + " is not defined"}
		}
	}
	hasBase := false
	for _, s := range c.Stages {
		if s.Base {
			hasBase = true
			break
		}
	}
	if hasBase && c.BaseImageRepo == "" {
		return &tplerr.ConfigError{Field: "base_image_repo", Msg: "required when any stage is marked base"}
	}
	return nil
}

// Profile returns the named profile, or the default profile if name is
// empty, or an error if neither exists.
func (c *Config) Profile(name string) (string, ProfileConfig, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		return "", ProfileConfig{}, nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return "", ProfileConfig{}, &tplerr.ConfigError{Field: "profile", Msg: "unknown profile " + name}
	}
	return name, p, nil
}
