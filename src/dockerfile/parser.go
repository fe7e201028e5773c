package dockerfile

import (
	"strconv"
	"strings"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// verbFor maps a leading token, upper-cased, to its canonical verb; verbs
// are recognized case-insensitively.
func verbFor(token string) (Verb, bool) {
	v := Verb(strings.ToUpper(token))
	if knownVerbs[v] {
		return v, true
	}
	return "", false
}

// ParseResult is the output of Parse: the flat instruction list plus the
// stages it was grouped into.
type ParseResult struct {
	Instructions []Instruction
	Stages       []Stage
}

// rawLine is one logical (continuation-joined) line of Dockerfile text.
type rawLine struct {
	text      string
	startLine int
}

// Parse tokenizes rendered Dockerfile text into instructions and groups
// them into stages. basePrefixes/anonPrefixes classify stage
// names; pass nil to use the defaults.
func Parse(text string, basePrefixes, anonPrefixes []string) (*ParseResult, error) {
	if basePrefixes == nil {
		basePrefixes = DefaultBasePrefixes
	}
	if anonPrefixes == nil {
		anonPrefixes = DefaultAnonPrefixes
	}

	escape := byte('\\')
	lines := strings.Split(text, "\n")

	// Recognize leading parser-directive comments (# syntax=, # escape=).
	// These must appear before any other content, comment or otherwise.
	directiveDone := false
	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if k, v, ok := strings.Cut(body, "="); ok {
			key := strings.ToLower(strings.TrimSpace(k))
			val := strings.TrimSpace(v)
			switch key {
			case "syntax":
				// Informational only; tplbuild does not implement
				// alternate Dockerfile frontends.
			case "escape":
				if len(val) == 1 {
					escape = val[0]
				}
			default:
				directiveDone = true
			}
		} else {
			directiveDone = true
		}
		if directiveDone {
			break
		}
		lines[i] = "" // consume the directive comment
	}

	rawLines, err := joinContinuations(lines, escape)
	if err != nil {
		return nil, err
	}

	var instructions []Instruction
	for _, rl := range rawLines {
		inst, err := parseLine(rl)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			continue
		}
		instructions = append(instructions, *inst)
	}

	stages, err := groupStages(instructions, basePrefixes, anonPrefixes)
	if err != nil {
		return nil, err
	}

	return &ParseResult{Instructions: instructions, Stages: stages}, nil
}

// joinContinuations splits text into logical lines, honoring
// backslash-newline continuations and stripping full-line comments between
// instructions. Blank lines inside a continuation are skipped. Comments
// after content on the same line are not stripped; they stay part of the
// instruction text.
func joinContinuations(lines []string, escape byte) ([]rawLine, error) {
	var out []rawLine
	var buf strings.Builder
	building := false
	startLine := 0

	flush := func() {
		if building {
			out = append(out, rawLine{text: buf.String(), startLine: startLine})
			buf.Reset()
			building = false
		}
	}

	for i, raw := range lines {
		lineNum := i + 1
		line := strings.TrimRight(raw, " \t\r")
		if building && strings.TrimSpace(line) == "" {
			continue
		}

		if !building {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			startLine = lineNum
		}

		if strings.HasSuffix(line, string(escape)) && !strings.HasSuffix(line, string(escape)+string(escape)) {
			content := strings.TrimRight(strings.TrimSuffix(line, string(escape)), " \t")
			if building {
				buf.WriteString(strings.TrimLeft(content, " \t"))
			} else {
				buf.WriteString(content)
			}
			buf.WriteString(" ")
			building = true
			continue
		}

		if building {
			buf.WriteString(strings.TrimLeft(line, " \t"))
			flush()
		} else {
			out = append(out, rawLine{text: line, startLine: startLine})
		}
	}

	if building {
		return nil, &tplerr.ParseError{
			Line: startLine,
			Col:  1,
			Kind: "unterminated_continuation",
			Msg:  "line continuation never terminated before end of file",
		}
	}

	return out, nil
}

// parseLine parses a single logical line into an Instruction, or returns
// nil for a line that is empty after trimming.
func parseLine(rl rawLine) (*Instruction, error) {
	line := strings.TrimSpace(rl.text)
	if line == "" {
		return nil, nil
	}

	fields := strings.SplitN(line, " ", 2)
	verb, ok := verbFor(fields[0])
	if !ok {
		return nil, &tplerr.ParseError{
			Line: rl.startLine,
			Col:  1,
			Kind: "unknown_verb",
			Msg:  "unrecognized instruction verb: " + fields[0],
		}
	}

	rest := ""
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}

	flags, operands, err := parseFlags(rest, rl.startLine)
	if err != nil {
		return nil, err
	}

	return &Instruction{
		Verb:     verb,
		Flags:    flags,
		Operands: operands,
		Raw:      line,
		Line:     rl.startLine,
	}, nil
}

// parseFlags consumes leading `--key=value` tokens from rest and returns
// the flag map plus the remaining operand text.
func parseFlags(rest string, lineNum int) (map[string]string, string, error) {
	flags := map[string]string{}
	remaining := rest

	for {
		remaining = strings.TrimLeft(remaining, " \t")
		if !strings.HasPrefix(remaining, "--") {
			break
		}

		end := strings.IndexAny(remaining, " \t")
		var token string
		if end == -1 {
			token = remaining
			remaining = ""
		} else {
			token = remaining[:end]
			remaining = remaining[end:]
		}

		body := strings.TrimPrefix(token, "--")
		key, val, ok := strings.Cut(body, "=")
		if !ok || key == "" {
			return nil, "", &tplerr.ParseError{
				Line: lineNum,
				Col:  1,
				Kind: "malformed_flag",
				Msg:  "malformed flag: " + token,
			}
		}
		flags[key] = val
	}

	return flags, strings.TrimSpace(remaining), nil
}

// groupStages walks the flat instruction list, opening a new stage at each
// FROM, and enforces: no instruction before the first FROM, no duplicate
// explicit AS name, and no instructions after END until the next FROM.
func groupStages(instructions []Instruction, basePrefixes, anonPrefixes []string) ([]Stage, error) {
	var stages []Stage
	var current *Stage
	closed := false
	explicitNames := map[string]bool{}
	stageIndex := 0

	for _, inst := range instructions {
		if inst.Verb == VerbFrom {
			if current != nil {
				stages = append(stages, *current)
			}

			name, explicit := fromStageName(inst, stageIndex)
			if explicit {
				if explicitNames[name] {
					return nil, &tplerr.ParseError{
						Line: inst.Line,
						Col:  1,
						Kind: "duplicate_stage_name",
						Msg:  "duplicate explicit stage name: " + name,
					}
				}
				explicitNames[name] = true
			}

			baseRef, platform := fromOperands(inst)
			s := Stage{
				Name:     name,
				Explicit: explicit,
				BaseRef:  baseRef,
				Platform: platform,
				Context:  DefaultContextName,
				Base:     ClassifyName(name, basePrefixes),
				Anon:     ClassifyName(name, anonPrefixes),
			}
			current = &s
			closed = false
			stageIndex++
			continue
		}

		if current == nil {
			return nil, &tplerr.ParseError{
				Line: inst.Line,
				Col:  1,
				Kind: "instruction_before_from",
				Msg:  "instruction before any FROM: " + string(inst.Verb),
			}
		}

		if closed {
			return nil, &tplerr.ParseError{
				Line: inst.Line,
				Col:  1,
				Kind: "instruction_after_end",
				Msg:  "instruction after END before next FROM: " + string(inst.Verb),
			}
		}

		if inst.Verb == VerbEnd {
			closed = true
			continue
		}

		if inst.Verb == VerbPushContext {
			if name, ok := inst.Flag("name"); ok {
				current.Context = name
			} else if inst.Operands != "" {
				current.Context = strings.Fields(inst.Operands)[0]
			}
			continue
		}

		inst.Context = current.Context
		current.Instructions = append(current.Instructions, inst)
	}

	if current != nil {
		stages = append(stages, *current)
	}

	return stages, nil
}

// fromStageName resolves the name of a stage from its FROM instruction,
// defaulting to the stage's positional index.
func fromStageName(inst Instruction, index int) (name string, explicit bool) {
	fields := strings.Fields(inst.Operands)
	for i := 0; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], "AS") {
			return fields[i+1], true
		}
	}
	return strconv.Itoa(index), false
}

// fromOperands splits a FROM instruction's operand text into the base
// image reference and (via the parsed flag map) its platform.
func fromOperands(inst Instruction) (baseRef, platform string) {
	fields := strings.Fields(inst.Operands)
	if len(fields) > 0 {
		baseRef = fields[0]
	}
	platform = inst.Flags["platform"]
	return baseRef, platform
}
