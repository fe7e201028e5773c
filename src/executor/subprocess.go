package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// gracePeriod is how long a subprocess is given to exit cleanly after
// SIGTERM before the executor escalates to SIGKILL.
const gracePeriod = 10 * time.Second

var errEmptyCommand = errors.New("executor: empty command template")

// runOpts configures a single subprocess invocation.
type runOpts struct {
	Stdin         io.Reader
	CaptureTail   int  // if > 0, keep this many trailing stderr lines for BuildError.Tail
	CaptureStdout bool // if true, also return the process's trimmed last line of stdout
}

// runResult carries the captured stderr tail for error reporting and the
// last line of stdout, used as the advisory digest/platform value some
// builder-client operations return.
type runResult struct {
	StderrTail []string
	LastStdout string
}

// runCommand executes argv with env appended to the current environment,
// streaming stdout/stderr to the process's own streams. The subprocess is
// started in its own process group. Cancellation sends SIGTERM to the
// subprocess and escalates to SIGKILL after gracePeriod if it has not
// exited by then.
func runCommand(ctx context.Context, argv []string, env []string, opts runOpts) (*runResult, error) {
	if len(argv) == 0 {
		return nil, errEmptyCommand
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = opts.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutTail *tailBuffer
	if opts.CaptureStdout {
		stdoutTail = newTailBuffer(1)
		cmd.Stdout = io.MultiWriter(os.Stdout, stdoutTail)
	} else {
		cmd.Stdout = os.Stdout
	}

	var tail *tailBuffer
	if opts.CaptureTail > 0 {
		tail = newTailBuffer(opts.CaptureTail)
		cmd.Stderr = io.MultiWriter(os.Stderr, tail)
	} else {
		cmd.Stderr = os.Stderr
	}

	cmd.Cancel = func() error {
		log.Debug().Strs("argv", argv).Msg("sending SIGTERM to builder subprocess")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	err := cmd.Run()

	res := &runResult{}
	if tail != nil {
		res.StderrTail = tail.Lines()
	}
	if stdoutTail != nil {
		lines := stdoutTail.Lines()
		if len(lines) > 0 {
			res.LastStdout = lines[len(lines)-1]
		}
	}
	return res, err
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	n     int
	lines []string
	cur   bytes.Buffer
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			t.push(t.cur.String())
			t.cur.Reset()
			continue
		}
		t.cur.WriteByte(b)
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) Lines() []string {
	if t.cur.Len() > 0 {
		return append(append([]string{}, t.lines...), t.cur.String())
	}
	return t.lines
}
