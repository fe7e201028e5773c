// Package dockerfile parses rendered Dockerfile text into a typed sequence
// of instructions grouped into stages, per the parser design in the
// specification. It is not a Dockerfile frontend: it does not support
// `# syntax=` frontends or heredocs (see Non-goals).
package dockerfile

import (
	"fmt"
	"sort"
	"strings"
)

// Verb identifies the instruction's leading keyword. tplbuild recognizes
// the standard Dockerfile verbs plus the tplbuild-specific END and
// PUSHCONTEXT macros.
type Verb string

const (
	VerbFrom        Verb = "FROM"
	VerbCopy        Verb = "COPY"
	VerbAdd         Verb = "ADD"
	VerbRun         Verb = "RUN"
	VerbCmd         Verb = "CMD"
	VerbEntrypoint  Verb = "ENTRYPOINT"
	VerbEnv         Verb = "ENV"
	VerbArg         Verb = "ARG"
	VerbLabel       Verb = "LABEL"
	VerbWorkdir     Verb = "WORKDIR"
	VerbUser        Verb = "USER"
	VerbExpose      Verb = "EXPOSE"
	VerbVolume      Verb = "VOLUME"
	VerbShell       Verb = "SHELL"
	VerbOnbuild     Verb = "ONBUILD"
	VerbHealthcheck Verb = "HEALTHCHECK"
	VerbStopsignal  Verb = "STOPSIGNAL"
	VerbMaintainer  Verb = "MAINTAINER"

	// VerbEnd terminates the currently-open stage without starting a new
	// one. Used by macros that need to close a stage early.
	VerbEnd Verb = "END"
	// VerbPushContext rebinds the current stage's build context for the
	// remainder of the stage.
	VerbPushContext Verb = "PUSHCONTEXT"
)

var knownVerbs = map[Verb]bool{
	VerbFrom: true, VerbCopy: true, VerbAdd: true, VerbRun: true, VerbCmd: true,
	VerbEntrypoint: true, VerbEnv: true, VerbArg: true, VerbLabel: true,
	VerbWorkdir: true, VerbUser: true, VerbExpose: true, VerbVolume: true,
	VerbShell: true, VerbOnbuild: true, VerbHealthcheck: true,
	VerbStopsignal: true, VerbMaintainer: true, VerbEnd: true, VerbPushContext: true,
}

// StartsStage reports whether v begins a new stage.
func (v Verb) StartsStage() bool { return v == VerbFrom }

// Instruction is a single parsed Dockerfile line: its verb, its
// `--key=value` flags, its remaining operands, and the verbatim source
// text it was parsed from.
type Instruction struct {
	Verb     Verb
	Flags    map[string]string
	Operands string
	Raw      string
	Line     int
	// Context is the build context this instruction reads from, as of
	// the point it appeared in its stage (reflects any preceding
	// PUSHCONTEXT). Only meaningful for COPY/ADD.
	Context string
}

// Flag returns the value of a named flag and whether it was present.
func (i Instruction) Flag(name string) (string, bool) {
	v, ok := i.Flags[name]
	return v, ok
}

// Canonical renders the instruction in the canonical form used by the
// content hasher: verb uppercased, flags sorted by key, operands
// joined with single spaces, surrounding whitespace stripped.
func (i Instruction) Canonical() string {
	var b strings.Builder
	b.WriteString(string(i.Verb))

	if len(i.Flags) > 0 {
		keys := make([]string, 0, len(i.Flags))
		for k := range i.Flags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " --%s=%s", k, i.Flags[k])
		}
	}

	operands := strings.Join(strings.Fields(i.Operands), " ")
	if operands != "" {
		b.WriteString(" ")
		b.WriteString(operands)
	}
	return b.String()
}
