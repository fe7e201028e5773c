// Package context resolves and snapshots build contexts: named,
// directory-rooted file trees filtered by a .dockerignore-style pattern
// list, whose identity is the hash of the filtered tree's content.
//
// File-tree access goes through an afero.Fs so hashing and ignore
// matching are unit-testable against an in-memory filesystem, the same
// separation the teacher draws between its command layer and disk I/O.
package context

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tplbuild/tplbuild/src/hashing"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// BuildContext is a named, directory-rooted file tree filtered by an
// ignore pattern list.
type BuildContext struct {
	Name       string
	BaseDir    string
	Umask      *uint32
	IgnoreFile string
	Ignore     []string
}

// readlinkIfPossible resolves a symlink's target on vfs if the
// filesystem implementation supports it.
func readlinkIfPossible(vfs afero.Fs, path string) (string, error) {
	if lr, ok := vfs.(afero.LinkReader); ok {
		return lr.ReadlinkIfPossible(path)
	}
	return "", afero.ErrNoReadlink
}

// entry is one row of the canonical, sorted file listing hashed together
// to produce a context's files hash.
type entry struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"` // "file", "dir", "symlink"
	Mode    uint32 `json:"mode,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Hash    string `json:"hash,omitempty"`
	SymTarg string `json:"target,omitempty"`
}

// FilesHash walks the context root on fs, filters out ignored paths, and
// returns a stable hash of the remaining tree. Umask semantics: if Umask
// is nil, raw mode bits are preserved; otherwise the owner's permission
// bits are copied to group and other, then bits set in Umask are cleared.
func (c *BuildContext) FilesHash(vfs afero.Fs) (string, error) {
	if c.BaseDir == "" {
		return "", &tplerr.ContextError{Context: c.Name, Msg: "base_dir is not set"}
	}
	if _, err := vfs.Stat(c.BaseDir); err != nil {
		return "", &tplerr.ContextError{Context: c.Name, Msg: "base_dir does not exist", Err: err}
	}

	patterns, err := c.loadPatterns(vfs)
	if err != nil {
		return "", err
	}

	var entries []entry
	err = c.walkFiltered(vfs, patterns, func(rel string, info fs.FileInfo, path string) error {
		if info.IsDir() {
			entries = append(entries, entry{
				Path: rel,
				Kind: "dir",
				Mode: applyUmask(uint32(info.Mode().Perm()), c.Umask),
			})
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, lerr := readlinkIfPossible(vfs, path)
			if lerr != nil {
				return &tplerr.ContextError{Context: c.Name, Msg: "reading symlink " + rel, Err: lerr}
			}
			entries = append(entries, entry{Path: rel, Kind: "symlink", SymTarg: target})
			return nil
		}

		data, rerr := afero.ReadFile(vfs, path)
		if rerr != nil {
			return &tplerr.ContextError{Context: c.Name, Msg: "reading file " + rel, Err: rerr}
		}
		entries = append(entries, entry{
			Path: rel,
			Kind: "file",
			Mode: applyUmask(uint32(info.Mode().Perm()), c.Umask),
			Size: info.Size(),
			Hash: hashing.SHA256Hex(data),
		})
		return nil
	})
	if err != nil {
		if ce, ok := err.(*tplerr.ContextError); ok {
			return "", ce
		}
		return "", &tplerr.ContextError{Context: c.Name, Msg: "walking context tree", Err: err}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return hashing.MustJSONHash(entries), nil
}

// walkFiltered walks the context root on vfs, skipping any path matched by
// patterns (a matched directory is pruned entirely), and invokes fn for
// every surviving entry with its slash-normalised path relative to
// BaseDir, its fs.FileInfo, and its absolute path on vfs.
func (c *BuildContext) walkFiltered(vfs afero.Fs, patterns []pattern, fn func(rel string, info fs.FileInfo, path string) error) error {
	return afero.Walk(vfs, c.BaseDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == c.BaseDir {
			return nil
		}
		rel, err := filepath.Rel(c.BaseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matchIgnored(patterns, rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		return fn(rel, info, path)
	})
}

// applyUmask copies owner permission bits to group/other when a umask is
// given, then clears any bits set in the umask; with a nil umask, raw
// mode bits are preserved unchanged.
func applyUmask(mode uint32, umask *uint32) uint32 {
	perm := mode & 0o777
	if umask == nil {
		return perm
	}
	owner := (perm >> 6) & 0o7
	combined := (owner << 6) | (owner << 3) | owner
	return combined &^ *umask
}

// loadPatterns merges the inline Ignore list with the IgnoreFile contents
// (inline patterns take priority by being appended last, so they can
// override file-based rules per dockerignore's later-wins semantics).
func (c *BuildContext) loadPatterns(vfs afero.Fs) ([]pattern, error) {
	var lines []string

	if c.IgnoreFile != "" {
		path := c.IgnoreFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.BaseDir, path)
		}
		data, err := afero.ReadFile(vfs, path)
		if err != nil {
			if os.IsNotExist(err) {
				// Absence of an ignore file is not an error.
			} else {
				return nil, &tplerr.ContextError{Context: c.Name, Msg: "reading ignore file", Err: err}
			}
		} else {
			lines = append(lines, strings.Split(string(data), "\n")...)
		}
	}

	lines = append(lines, c.Ignore...)
	return parsePatterns(lines)
}
