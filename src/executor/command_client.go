package executor

import (
	"context"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// CommandClient is the default Client implementation: every operation is
// an opaque subprocess invocation expanded from a CommandTemplate, per
// the credentials-agnostic client abstraction the user config's
// client.commands table describes.
type CommandClient struct {
	Commands CommandSet
	// StderrTailLines is the number of trailing stderr lines captured
	// from a failed build invocation for BuildError.Tail (default 50).
	StderrTailLines int
}

// NewCommandClient builds a CommandClient with the given command set,
// defaulting StderrTailLines to 50.
func NewCommandClient(cmds CommandSet) *CommandClient {
	return &CommandClient{Commands: cmds, StderrTailLines: 50}
}

func (c *CommandClient) run(ctx context.Context, tmpl CommandTemplate, vars map[string]string, stdin runOpts) (*runResult, error) {
	argv := expandArgv(tmpl.Argv, vars)
	env := expandEnv(tmpl.Env, vars)
	res, err := runCommand(ctx, argv, env, stdin)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (c *CommandClient) Build(ctx context.Context, in BuildInput) (string, error) {
	vars := map[string]string{
		"image":    in.Tag,
		"platform": in.Platform,
	}
	opts := runOpts{Stdin: in.Context, CaptureTail: c.tailLines(), CaptureStdout: true}
	res, err := c.run(ctx, c.Commands.Build, vars, opts)
	if err != nil {
		return "", &tplerr.BuildError{Entry: in.Tag, Tail: tailOf(res), Err: err}
	}
	// Most builder CLIs tag locally rather than print a digest on
	// success; the caller resolves the pushed digest via a registry
	// probe. A custom command set that does print one on its last stdout
	// line still gets it threaded through here.
	if res != nil {
		return res.LastStdout, nil
	}
	return "", nil
}

func (c *CommandClient) Tag(ctx context.Context, src, dst string) error {
	vars := map[string]string{"source_image": src, "target_image": dst}
	_, err := c.run(ctx, c.Commands.Tag, vars, runOpts{})
	return err
}

func (c *CommandClient) Push(ctx context.Context, image string) error {
	vars := map[string]string{"image": image}
	_, err := c.run(ctx, c.Commands.Push, vars, runOpts{})
	return err
}

func (c *CommandClient) Pull(ctx context.Context, image string) error {
	vars := map[string]string{"image": image}
	_, err := c.run(ctx, c.Commands.Pull, vars, runOpts{})
	return err
}

func (c *CommandClient) Untag(ctx context.Context, image string) error {
	vars := map[string]string{"image": image}
	_, err := c.run(ctx, c.Commands.Untag, vars, runOpts{})
	return err
}

func (c *CommandClient) Platform(ctx context.Context) (string, error) {
	res, err := c.run(ctx, c.Commands.Platform, nil, runOpts{CaptureTail: 20, CaptureStdout: true})
	if err != nil {
		return "", &tplerr.BuildError{Entry: "platform", Tail: tailOf(res), Err: err}
	}
	if res != nil {
		return res.LastStdout, nil
	}
	return "", nil
}

func (c *CommandClient) tailLines() int {
	if c.StderrTailLines > 0 {
		return c.StderrTailLines
	}
	return 50
}

func tailOf(res *runResult) []string {
	if res == nil {
		return nil
	}
	return res.StderrTail
}

var _ Client = (*CommandClient)(nil)
