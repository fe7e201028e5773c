package tplbuild

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestFileLoaderLoadChecksTemplatePathsThenRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "templates", "Dockerfile.tplbuild"), "in templates dir")
	writeFile(t, filepath.Join(root, "root-only.tpl"), "in root")

	l := NewFileLoader(root, []string{"templates"})

	got, err := l.Load("Dockerfile.tplbuild")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "in templates dir" {
		t.Fatalf("expected the template_paths copy to win, got %q", got)
	}

	got, err = l.Load("root-only.tpl")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "in root" {
		t.Fatalf("expected a fallback to the root dir, got %q", got)
	}
}

func TestFileLoaderLoadMissingReturnsConfigError(t *testing.T) {
	l := NewFileLoader(t.TempDir(), nil)
	if _, err := l.Load("nope.tpl"); err == nil {
		t.Fatalf("expected an error for a missing template")
	}
}

func TestFileLoaderDiscoverIncludesWalksTemplatePaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "templates", "Dockerfile.tplbuild"), "entry")
	writeFile(t, filepath.Join(root, "templates", "partials", "base.tpl"), "partial")
	writeFile(t, filepath.Join(root, "templates", "partials", "app.tpl"), "partial2")

	l := NewFileLoader(root, []string{"templates"})
	names, err := l.DiscoverIncludes("Dockerfile.tplbuild")
	if err != nil {
		t.Fatalf("DiscoverIncludes: %v", err)
	}
	sort.Strings(names)
	want := []string{filepath.Join("partials", "app.tpl"), filepath.Join("partials", "base.tpl")}
	sort.Strings(want)
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestFileLoaderDiscoverIncludesToleratesMissingTemplatePathDir(t *testing.T) {
	root := t.TempDir()
	l := NewFileLoader(root, []string{"does-not-exist"})
	names, err := l.DiscoverIncludes("Dockerfile.tplbuild")
	if err != nil {
		t.Fatalf("DiscoverIncludes: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no discovered includes for a missing template_paths dir, got %v", names)
	}
}
