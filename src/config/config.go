// Package config loads tplbuild's two configuration documents: the
// per-project tplbuild.yml (build graph shape, contexts, stages,
// profiles) and the per-user .tplbuildconfig.yml (builder client,
// registry TLS, parallelism, auth) — both parsed with gopkg.in/yaml.v3
// exactly as the teacher's own config.Load does: defaults first, then
// unmarshal over them, with a missing file treated as "use defaults"
// rather than an error.
package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

const (
	defaultProjectConfigFile = "tplbuild.yml"
	defaultUserConfigFile    = ".tplbuildconfig.yml"
)

// Load reads the project config from path, or defaultProjectConfigFile
// if path is empty. A missing file yields an empty-but-valid Config with
// defaults applied; any other read or parse failure is a ConfigError.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultProjectConfigFile
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, &tplerr.ConfigError{Msg: "reading " + path + ": " + err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &tplerr.ConfigError{Msg: "parsing " + path + ": " + err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUserConfig reads the user config from path, or defaultUserConfigFile
// if path is empty. Missing file yields defaults, matching Load.
func LoadUserConfig(path string) (*UserConfig, error) {
	if path == "" {
		path = defaultUserConfigFile
	}

	cfg := defaultUserConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, &tplerr.ConfigError{Msg: "reading " + path + ": " + err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &tplerr.ConfigError{Msg: "parsing " + path + ": " + err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
