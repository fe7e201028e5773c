package render

import (
	"sort"
	"strconv"
	"strings"
)

// markerSentinel prefixes an injected line marker in the raw template
// output before postprocessing strips it back out. NUL never appears in
// legitimate Dockerfile text, so it is a safe delimiter.
const markerSentinel = "\x00"

// breakPoint records that byte offset pos in the rendered document was
// produced starting at line lineNo of file.
type breakPoint struct {
	pos    int
	lineNo int
	file   string
}

// SourceMap correlates a byte offset in a rendered document back to the
// template file and line number that produced it, so render errors and
// Dockerfile parse errors can point at the entrypoint template a user
// actually wrote instead of an opaque, fully-expanded document.
type SourceMap struct {
	breaks []breakPoint
}

// Lookup returns the "file:line" that produced the byte at pos.
func (m *SourceMap) Lookup(pos int) string {
	file, line := m.LookupLine(pos)
	return file + ":" + strconv.Itoa(line)
}

// LookupLine returns the template file and line number that produced the
// byte at pos.
func (m *SourceMap) LookupLine(pos int) (string, int) {
	if len(m.breaks) == 0 {
		return "<none>", -1
	}
	// Find the last breakpoint with pos <= its position, matching the
	// original's "advance while pos > breakpoint" scan.
	idx := sort.Search(len(m.breaks), func(i int) bool {
		return m.breaks[i].pos > pos
	})
	if idx > 0 {
		idx--
	}
	return m.breaks[idx].file, m.breaks[idx].lineNo
}

// injectMarkers rewrites a template's raw text so that, once rendered, the
// output is interleaved with hidden {{<tmplFuncName> "line;file"}} calls at
// every literal line boundary. tmplFuncName must resolve, via the template's
// FuncMap, to a function with signature func(string) string that returns
// its argument wrapped in markerSentinel bytes.
func injectMarkers(name, tmplFuncName, text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("{{" + tmplFuncName + " " + strconv.Quote(strconv.Itoa(i+1)+";"+name) + "}}")
		b.WriteString(line)
	}
	return b.String()
}

// marker is installed in the template FuncMap under tmplFuncName; it
// returns its file/line descriptor wrapped in NUL bytes so it can be
// stripped and recorded by extractSourceMap after rendering.
func marker(s string) string {
	return markerSentinel + s + markerSentinel
}

// extractSourceMap scans rendered output for marker sentinels emitted by
// marker(), removing them from the returned text and recording a
// SourceMap breakpoint for each one.
func extractSourceMap(rendered string) (string, *SourceMap) {
	var out strings.Builder
	var breaks []breakPoint
	curLine := 0
	curFile := "<none>"

	rest := rendered
	for {
		start := strings.IndexByte(rest, 0)
		if start == -1 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		rest = rest[start+1:]
		end := strings.IndexByte(rest, 0)
		if end == -1 {
			// Unterminated marker: treat the rest as literal text.
			out.WriteString(rest)
			break
		}
		desc := rest[:end]
		rest = rest[end+1:]

		if semi := strings.IndexByte(desc, ';'); semi != -1 {
			if n, err := strconv.Atoi(desc[:semi]); err == nil {
				curLine = n
				curFile = desc[semi+1:]
			}
		}
		breaks = append(breaks, breakPoint{pos: out.Len(), lineNo: curLine, file: curFile})
	}

	return out.String(), &SourceMap{breaks: breaks}
}
