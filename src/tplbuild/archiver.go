package tplbuild

import (
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/tplbuild/tplbuild/src/config"
	tplcontext "github.com/tplbuild/tplbuild/src/context"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// contextArchiver adapts the project's configured contexts to
// executor.ContextArchiver, resolving each context's base_dir relative to
// the project root and parsing its umask string into the *uint32
// BuildContext.Umask expects.
type contextArchiver struct {
	vfs      afero.Fs
	contexts map[string]*tplcontext.BuildContext
}

// buildContextArchiver constructs the archiver from the project's
// configured contexts.
func buildContextArchiver(rootDir string, contexts map[string]config.ContextConfig) (*contextArchiver, error) {
	built := make(map[string]*tplcontext.BuildContext, len(contexts))
	for name, cs := range contexts {
		umask, err := parseUmask(cs.Umask)
		if err != nil {
			return nil, &tplerr.ContextError{Context: name, Msg: "invalid umask", Err: err}
		}
		baseDir := cs.BaseDir
		if baseDir != "" && !filepath.IsAbs(baseDir) {
			baseDir = filepath.Join(rootDir, baseDir)
		}
		built[name] = &tplcontext.BuildContext{
			Name:       name,
			BaseDir:    baseDir,
			Umask:      umask,
			IgnoreFile: cs.IgnoreFile,
			Ignore:     []string(cs.Ignore),
		}
	}
	return &contextArchiver{vfs: afero.NewOsFs(), contexts: built}, nil
}

// Archive implements executor.ContextArchiver.
func (a *contextArchiver) Archive(name string, w io.Writer, extra ...tplcontext.ExtraFile) error {
	if name == "" {
		bc := &tplcontext.BuildContext{}
		return bc.Archive(a.vfs, w, extra...)
	}
	bc, ok := a.contexts[name]
	if !ok {
		return &tplerr.ContextError{Context: name, Msg: "not configured"}
	}
	return bc.Archive(a.vfs, w, extra...)
}

// filesHashFunc resolves a context name to its files hash, the shape
// graph.Config.FilesHash expects.
func (a *contextArchiver) filesHashFunc(name string) (string, error) {
	bc, ok := a.contexts[name]
	if !ok {
		return "", &tplerr.ContextError{Context: name, Msg: "not configured"}
	}
	return bc.FilesHash(a.vfs)
}

// parseUmask parses an octal umask string (e.g. "022") into the *uint32
// BuildContext.Umask expects. An empty string means "no umask applied".
func parseUmask(s string) (*uint32, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return nil, err
	}
	u := uint32(v)
	return &u, nil
}
