// Package render turns a project's template_entrypoint into the plain
// Dockerfile-like text the dockerfile package parses, using Go's
// text/template plus the sprig function library in place of the original
// tool's Jinja2 environment.
package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/Masterminds/sprig/v3"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// Context is the data made available to the entrypoint template and to
// context ignore-file templates: the active profile name, its free-form
// vars, resolved user config, and detected git metadata.
type Context struct {
	Profile    string
	Vars       map[string]interface{}
	UserConfig interface{}
	Git        *GitInfo
}

// TemplateLoader resolves a template_paths-relative name (as used by
// {{ template "name" }} includes and the entrypoint itself) to its raw
// text.
type TemplateLoader interface {
	Load(name string) (string, error)
}

// Renderer renders named templates against a Context, tracking template
// file/line provenance for every byte of output so render and parse
// errors can be attributed to the template source that produced them.
type Renderer struct {
	loader TemplateLoader
}

// New builds a Renderer that resolves includes via loader.
func New(loader TemplateLoader) *Renderer {
	return &Renderer{loader: loader}
}

// Render renders the named template against ctx, returning the expanded
// text and a SourceMap that maps output byte offsets back to the
// template file/line that produced them.
func (r *Renderer) Render(name string, ctx Context) (string, *SourceMap, error) {
	text, err := r.loader.Load(name)
	if err != nil {
		return "", nil, &tplerr.ConfigError{Field: "template_entrypoint", Msg: fmt.Sprintf("loading %q: %v", name, err)}
	}

	tmpl := template.New(name).Funcs(FuncMap())
	tmpl, err = tmpl.Parse(injectMarkers(name, "__tplbuild_mark", text))
	if err != nil {
		return "", nil, &tplerr.ConfigError{Field: "template_entrypoint", Msg: fmt.Sprintf("parsing %q: %v", name, err)}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", nil, &tplerr.ConfigError{Field: "template_entrypoint", Msg: fmt.Sprintf("rendering %q: %v", name, err)}
	}

	out, sm := extractSourceMap(b.String())
	return out, sm, nil
}

// RenderMulti parses every named template (main plus any it includes via
// {{ template "name" }}) into one template set before rendering name,
// so cross-file includes resolve correctly. names must list every
// template file transitively reachable from name.
func (r *Renderer) RenderMulti(name string, includeNames []string, ctx Context) (string, *SourceMap, error) {
	set := template.New(name).Funcs(FuncMap())
	for _, n := range append([]string{name}, includeNames...) {
		text, err := r.loader.Load(n)
		if err != nil {
			return "", nil, &tplerr.ConfigError{Field: "template_paths", Msg: fmt.Sprintf("loading %q: %v", n, err)}
		}
		marked := text
		if n == name {
			marked = injectMarkers(n, "__tplbuild_mark", text)
		}
		var t *template.Template
		if n == name {
			t = set
		} else {
			t = set.New(n)
		}
		if _, err := t.Parse(marked); err != nil {
			return "", nil, &tplerr.ConfigError{Field: "template_paths", Msg: fmt.Sprintf("parsing %q: %v", n, err)}
		}
	}

	var b strings.Builder
	if err := set.ExecuteTemplate(&b, name, ctx); err != nil {
		return "", nil, &tplerr.ConfigError{Field: "template_entrypoint", Msg: fmt.Sprintf("rendering %q: %v", name, err)}
	}

	out, sm := extractSourceMap(b.String())
	return out, sm, nil
}

// FuncMap returns the function set every tplbuild template gets: all of
// sprig's general-purpose helpers, plus shell_escape, ignore_escape, and
// the internal marker function the source mapper installs.
func FuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["shell_escape"] = ShellEscape
	fm["ignore_escape"] = IgnoreEscape
	fm["arch"] = DockerArch
	fm["debian_arch"] = DebianArch
	fm["go_arch"] = GoArch
	fm["semver_compare"] = SemverCompare
	fm["__tplbuild_mark"] = marker
	return fm
}

// SemverCompare reports whether v satisfies constraint (e.g. ">= 1.2.0"),
// exposed to templates so a profile can gate a stage on the project's
// declared version without hand-rolled string comparisons.
func SemverCompare(constraint, v string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid semver constraint %q: %w", constraint, err)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return false, fmt.Errorf("invalid semver version %q: %w", v, err)
	}
	return c.Check(ver), nil
}

// ShellEscape quotes s for safe interpolation into a POSIX shell command
// line, the way a RUN instruction built from templated arguments needs.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, "\t\n '\"\\$`!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IgnoreEscape escapes s for safe use as a literal entry inside a
// .dockerignore-style ignore pattern list, backslash-escaping the
// characters that pattern syntax treats specially.
func IgnoreEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
