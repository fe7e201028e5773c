package tplbuild

import (
	"os"
	"path/filepath"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// FileLoader implements render.TemplateLoader against the project's
// on-disk template_paths: a name is resolved by trying each configured
// path, in order, before falling back to the project root itself.
type FileLoader struct {
	rootDir       string
	templatePaths []string
}

// NewFileLoader builds a FileLoader rooted at rootDir, searching
// templatePaths (each relative to rootDir) before rootDir itself.
func NewFileLoader(rootDir string, templatePaths []string) *FileLoader {
	return &FileLoader{rootDir: rootDir, templatePaths: templatePaths}
}

// Load implements render.TemplateLoader.
func (l *FileLoader) Load(name string) (string, error) {
	dirs := append(append([]string{}, l.templatePaths...), "")
	var lastErr error
	for _, dir := range dirs {
		path := filepath.Join(l.rootDir, dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		lastErr = err
	}
	return "", &tplerr.ConfigError{Field: "template_paths", Msg: "could not find template " + name + ": " + lastErr.Error()}
}

// DiscoverIncludes walks every configured template_paths directory and
// returns every file name found there (relative to that directory),
// excluding entrypoint. text/template requires every template a
// {{ template "name" }} action might reference to be parsed into the
// same set up front, so RenderMulti needs the full candidate list rather
// than discovering includes lazily the way a Jinja2 loader would.
func (l *FileLoader) DiscoverIncludes(entrypoint string) ([]string, error) {
	var names []string
	seen := map[string]bool{entrypoint: true}
	for _, dir := range l.templatePaths {
		root := filepath.Join(l.rootDir, dir)
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return rerr
			}
			if !seen[rel] {
				seen[rel] = true
				names = append(names, rel)
			}
			return nil
		})
		if err != nil {
			return nil, &tplerr.ConfigError{Field: "template_paths", Msg: "scanning " + dir + ": " + err.Error()}
		}
	}
	return names, nil
}
