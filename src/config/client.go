package config

import (
	"github.com/tplbuild/tplbuild/src/executor"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// CommandSet builds an executor.CommandSet from the user's client
// configuration: one of the built-in presets, optionally overridden
// command-by-command, or a fully custom set when Type is "custom".
func (c *ClientConfig) CommandSet() (executor.CommandSet, error) {
	var base executor.CommandSet
	switch c.Type {
	case "", ClientDocker:
		base = executor.DockerCommandSet()
	case ClientBuildx:
		base = executor.BuildxCommandSet()
	case ClientPodman:
		base = executor.PodmanCommandSet()
	case ClientCustom:
		base = executor.CommandSet{}
		for _, verb := range []string{"build", "tag", "push", "pull", "untag", "platform"} {
			if _, ok := c.Commands[verb]; !ok {
				return executor.CommandSet{}, &tplerr.ConfigError{Field: "client.commands." + verb, Msg: "required for a custom client"}
			}
		}
	default:
		return executor.CommandSet{}, &tplerr.ConfigError{Field: "client.type", Msg: "unknown client type " + string(c.Type)}
	}

	for verb, spec := range c.Commands {
		tmpl := executor.CommandTemplate{Argv: spec.Argv, Env: spec.Env}
		switch verb {
		case "build":
			base.Build = tmpl
		case "tag":
			base.Tag = tmpl
		case "push":
			base.Push = tmpl
		case "pull":
			base.Pull = tmpl
		case "untag":
			base.Untag = tmpl
		case "platform":
			base.Platform = tmpl
		default:
			return executor.CommandSet{}, &tplerr.ConfigError{Field: "client.commands", Msg: "unknown command verb " + verb}
		}
	}
	return base, nil
}
