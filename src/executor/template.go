package executor

import "strings"

// CommandTemplate is a single builder-client operation, expanded into an
// argv vector and an environment-override mapping. Recognised
// placeholders in Argv are {image}, {source_image}, {target_image},
// {platform}, {dependencies}, {args}, and {environment}; unrecognised
// placeholders are left untouched so a custom command set can pass
// through arbitrary tool-specific tokens.
type CommandTemplate struct {
	Argv []string
	Env  map[string]string
}

// CommandSet is the user-configured table of command templates backing a
// CommandClient: one entry per builder-client operation.
type CommandSet struct {
	Build    CommandTemplate
	Tag      CommandTemplate
	Push     CommandTemplate
	Pull     CommandTemplate
	Untag    CommandTemplate
	Platform CommandTemplate
}

// DockerCommandSet is the default command set for the "docker" client
// type: plain docker CLI invocations with no buildx-specific flags.
func DockerCommandSet() CommandSet {
	return CommandSet{
		Build:    CommandTemplate{Argv: []string{"docker", "build", "--platform", "{platform}", "-t", "{image}", "-"}},
		Tag:      CommandTemplate{Argv: []string{"docker", "tag", "{source_image}", "{target_image}"}},
		Push:     CommandTemplate{Argv: []string{"docker", "push", "{image}"}},
		Pull:     CommandTemplate{Argv: []string{"docker", "pull", "{image}"}},
		Untag:    CommandTemplate{Argv: []string{"docker", "rmi", "{image}"}},
		Platform: CommandTemplate{Argv: []string{"docker", "version", "--format", "{{.Server.Os}}/{{.Server.Arch}}"}},
	}
}

// BuildxCommandSet is the default command set for the "buildx" client
// type, matching how the teacher's Buildx wrapper shells out.
func BuildxCommandSet() CommandSet {
	return CommandSet{
		Build:    CommandTemplate{Argv: []string{"docker", "buildx", "build", "--platform", "{platform}", "--load", "-t", "{image}", "-"}},
		Tag:      CommandTemplate{Argv: []string{"docker", "tag", "{source_image}", "{target_image}"}},
		Push:     CommandTemplate{Argv: []string{"docker", "push", "{image}"}},
		Pull:     CommandTemplate{Argv: []string{"docker", "pull", "{image}"}},
		Untag:    CommandTemplate{Argv: []string{"docker", "rmi", "{image}"}},
		Platform: CommandTemplate{Argv: []string{"docker", "buildx", "inspect", "--bootstrap"}},
	}
}

// PodmanCommandSet is the default command set for the "podman" client
// type.
func PodmanCommandSet() CommandSet {
	return CommandSet{
		Build:    CommandTemplate{Argv: []string{"podman", "build", "--platform", "{platform}", "-t", "{image}", "-"}},
		Tag:      CommandTemplate{Argv: []string{"podman", "tag", "{source_image}", "{target_image}"}},
		Push:     CommandTemplate{Argv: []string{"podman", "push", "{image}"}},
		Pull:     CommandTemplate{Argv: []string{"podman", "pull", "{image}"}},
		Untag:    CommandTemplate{Argv: []string{"podman", "rmi", "{image}"}},
		Platform: CommandTemplate{Argv: []string{"podman", "version", "--format", "{{.Server.OS}}/{{.Server.Arch}}"}},
	}
}

// expand substitutes every {name} placeholder in s found in vars, leaving
// unrecognised placeholders untouched.
func expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '{' {
			if end := strings.IndexByte(s[i:], '}'); end >= 0 {
				name := s[i+1 : i+end]
				if v, ok := vars[name]; ok {
					b.WriteString(v)
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// expandArgv applies expand to every argument in argv.
func expandArgv(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = expand(a, vars)
	}
	return out
}

// expandEnv applies expand to every value in env, returning "KEY=value"
// pairs suitable for appending to exec.Cmd.Env.
func expandEnv(env map[string]string, vars map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+expand(v, vars))
	}
	return out
}
