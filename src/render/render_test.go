package render

import (
	"fmt"
	"strings"
	"testing"
)

type mapLoader map[string]string

func (m mapLoader) Load(name string) (string, error) {
	text, ok := m[name]
	if !ok {
		return "", fmt.Errorf("no such template %q", name)
	}
	return text, nil
}

func TestRenderExpandsVarsAndSprig(t *testing.T) {
	loader := mapLoader{
		"Dockerfile.tplbuild": "FROM {{ .Vars.base | upper }} AS build\nRUN echo {{ .Profile }}\n",
	}
	r := New(loader)
	out, _, err := r.Render("Dockerfile.tplbuild", Context{
		Profile: "prod",
		Vars:    map[string]interface{}{"base": "alpine"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "FROM ALPINE AS build") {
		t.Fatalf("expected sprig upper filter applied, got:\n%s", out)
	}
	if !strings.Contains(out, "RUN echo prod") {
		t.Fatalf("expected profile substituted, got:\n%s", out)
	}
}

func TestRenderReportsSyntaxErrorAsConfigError(t *testing.T) {
	loader := mapLoader{"Dockerfile.tplbuild": "FROM {{ .Vars.base\n"}
	r := New(loader)
	if _, _, err := r.Render("Dockerfile.tplbuild", Context{}); err == nil {
		t.Fatalf("expected a parse error for malformed template syntax")
	}
}

func TestSourceMapTracksLineOfOrigin(t *testing.T) {
	loader := mapLoader{
		"Dockerfile.tplbuild": "FROM alpine AS a\nRUN one\nRUN two\n",
	}
	r := New(loader)
	out, sm, err := r.Render("Dockerfile.tplbuild", Context{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	idx := strings.Index(out, "RUN two")
	if idx == -1 {
		t.Fatalf("expected RUN two literal text in output:\n%s", out)
	}
	file, line := sm.LookupLine(idx)
	if file != "Dockerfile.tplbuild" || line != 3 {
		t.Fatalf("expected Dockerfile.tplbuild:3, got %s:%d", file, line)
	}
}

func TestRenderMultiResolvesIncludes(t *testing.T) {
	loader := mapLoader{
		"Dockerfile.tplbuild": "FROM alpine AS a\n{{ template \"snippet\" . }}\n",
		"snippet":             "RUN echo included",
	}
	r := New(loader)
	out, _, err := r.RenderMulti("Dockerfile.tplbuild", []string{"snippet"}, Context{})
	if err != nil {
		t.Fatalf("RenderMulti: %v", err)
	}
	if !strings.Contains(out, "RUN echo included") {
		t.Fatalf("expected included template content, got:\n%s", out)
	}
}

func TestShellEscape(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"simple":      "simple",
		"has space":   "'has space'",
		"it's quoted": `'it'\''s quoted'`,
	}
	for in, want := range cases {
		if got := ShellEscape(in); got != want {
			t.Errorf("ShellEscape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIgnoreEscape(t *testing.T) {
	if got := IgnoreEscape("file[1].txt"); got != `file\[1\].txt` {
		t.Fatalf("IgnoreEscape: got %q", got)
	}
}

func TestArchFilters(t *testing.T) {
	if v, err := DebianArch("linux/arm/v7"); err != nil || v != "armhf" {
		t.Fatalf("DebianArch(linux/arm/v7) = %q, %v", v, err)
	}
	if v, err := DockerArch("linux/amd64"); err != nil || v != "amd64" {
		t.Fatalf("DockerArch(linux/amd64) = %q, %v", v, err)
	}
	if v, err := GoArch("linux/arm64"); err != nil || v != "arm64" {
		t.Fatalf("GoArch(linux/arm64) = %q, %v", v, err)
	}
}

func TestSemverCompare(t *testing.T) {
	ok, err := SemverCompare(">= 1.2.0", "1.5.0")
	if err != nil || !ok {
		t.Fatalf("SemverCompare(>=1.2.0, 1.5.0) = %v, %v", ok, err)
	}
	ok, err = SemverCompare(">= 1.2.0", "1.0.0")
	if err != nil || ok {
		t.Fatalf("SemverCompare(>=1.2.0, 1.0.0) = %v, %v", ok, err)
	}
}

func TestArchTemplateFilterEndToEnd(t *testing.T) {
	loader := mapLoader{"Dockerfile.tplbuild": "RUN echo {{ arch .Vars.platform }}\n"}
	r := New(loader)
	out, _, err := r.Render("Dockerfile.tplbuild", Context{Vars: map[string]interface{}{"platform": "linux/arm64"}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "RUN echo arm64") {
		t.Fatalf("expected arch filter substitution, got:\n%s", out)
	}
}

func TestNormalizeArchitecture(t *testing.T) {
	cases := []struct{ arch, variant, wantArch, wantVariant string }{
		{"x86_64", "", "amd64", ""},
		{"aarch64", "", "arm64", ""},
		{"aarch64", "v8", "arm64", ""},
		{"armhf", "", "arm", "v7"},
		{"arm", "6", "arm", "v6"},
	}
	for _, c := range cases {
		gotArch, gotVariant := NormalizeArchitecture(c.arch, c.variant)
		if gotArch != c.wantArch || gotVariant != c.wantVariant {
			t.Errorf("NormalizeArchitecture(%q,%q) = (%q,%q), want (%q,%q)",
				c.arch, c.variant, gotArch, gotVariant, c.wantArch, c.wantVariant)
		}
	}
}

func TestRepoNameFromRemoteURL(t *testing.T) {
	cases := []struct{ url, want string }{
		{"git@github.com:tplbuild/tplbuild.git", "tplbuild"},
		{"https://github.com/tplbuild/tplbuild.git", "tplbuild"},
		{"https://github.com/tplbuild/tplbuild", "tplbuild"},
	}
	for _, c := range cases {
		if got := repoNameFromRemoteURL(c.url); got != c.want {
			t.Errorf("repoNameFromRemoteURL(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}
