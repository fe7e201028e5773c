package context

import (
	"testing"

	"github.com/spf13/afero"
)

func newFixture(t *testing.T) afero.Fs {
	t.Helper()
	vfs := afero.NewMemMapFs()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture setup: %v", err)
		}
	}
	must(afero.WriteFile(vfs, "/ctx/a", []byte("a"), 0o644))
	must(afero.WriteFile(vfs, "/ctx/keep", []byte("keep-1"), 0o644))
	must(vfs.MkdirAll("/ctx/sub", 0o755))
	must(afero.WriteFile(vfs, "/ctx/sub/keep", []byte("sub-keep-1"), 0o644))
	return vfs
}

func TestFilesHashIgnoreSemantics(t *testing.T) {
	vfs := newFixture(t)
	bc := &BuildContext{Name: "default", BaseDir: "/ctx", Ignore: []string{"*", "!keep"}}

	h1, err := bc.FilesHash(vfs)
	if err != nil {
		t.Fatalf("FilesHash: %v", err)
	}

	// Changing an ignored file ("a") must not change the hash.
	if err := afero.WriteFile(vfs, "/ctx/a", []byte("changed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h2, err := bc.FilesHash(vfs)
	if err != nil {
		t.Fatalf("FilesHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected hash to be unaffected by ignored file change")
	}

	// Changing a kept file must change the hash.
	if err := afero.WriteFile(vfs, "/ctx/keep", []byte("keep-2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h3, err := bc.FilesHash(vfs)
	if err != nil {
		t.Fatalf("FilesHash: %v", err)
	}
	if h2 == h3 {
		t.Fatalf("expected hash to change when a non-ignored file changes")
	}
}

func TestFilesHashStableAcrossRuns(t *testing.T) {
	vfs := newFixture(t)
	bc := &BuildContext{Name: "default", BaseDir: "/ctx"}

	h1, err := bc.FilesHash(vfs)
	if err != nil {
		t.Fatalf("FilesHash: %v", err)
	}
	h2, err := bc.FilesHash(vfs)
	if err != nil {
		t.Fatalf("FilesHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash across repeated runs on identical inputs")
	}
}

func TestApplyUmask(t *testing.T) {
	u := uint32(0o022)
	got := applyUmask(0o755, &u)
	if got != 0o755 {
		t.Fatalf("applyUmask(0755, 022) = %o, want %o", got, 0o755)
	}

	got = applyUmask(0o700, &u)
	if got != 0o755 {
		t.Fatalf("applyUmask(0700, 022) = %o, want %o (owner bits copied then masked)", got, 0o755)
	}

	got = applyUmask(0o644, nil)
	if got != 0o644 {
		t.Fatalf("applyUmask with nil umask should preserve raw bits, got %o", got)
	}
}

func TestMatchGlobDoubleStar(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"**/keep", "sub/keep", true},
		{"**/keep", "keep", true},
		{"*", "a", true},
		{"*", "sub/a", false},
		{"sub/**", "sub/a/b", true},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.path); got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
