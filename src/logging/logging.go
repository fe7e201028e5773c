// Package logging configures the process-wide zerolog logger tplbuild
// uses for structured progress and diagnostic output, following the
// teacher's split between streamed subprocess output (the executor passes
// builder output straight to the process's own stdout/stderr) and
// structured, leveled log lines for everything else.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure installs the process-wide logger, writing human-readable
// console output to w. verbose raises the level from info to debug,
// mirroring the CLI's persistent --verbose flag.
func Configure(w io.Writer, verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()
}

// Discard silences all logging, used by tests that exercise packages
// which log through the global logger without wanting the noise.
func Discard() {
	log.Logger = zerolog.New(io.Discard)
}

// ForEntry returns a logger with plan-entry identifying fields attached,
// the shape every executor log line carries: which entry, its content
// hash (when known), and its target platform.
func ForEntry(entryIndex int, contentHash, platform string) zerolog.Logger {
	ctx := log.With().Int("entry", entryIndex)
	if contentHash != "" {
		ctx = ctx.Str("content_hash", contentHash)
	}
	if platform != "" {
		ctx = ctx.Str("platform", platform)
	}
	return ctx.Logger()
}

func init() {
	// Default to a plain, machine-parseable writer until Configure runs;
	// CLI startup always calls Configure before doing real work, but
	// library callers (tests, embedders) still get sane output.
	log.Logger = log.Output(os.Stderr)
}
