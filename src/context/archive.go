package context

import (
	"archive/tar"
	"io"
	"io/fs"
	"sort"

	"github.com/spf13/afero"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// ExtraFile is an additional file injected into an archived context, used
// to append the rendered Dockerfile alongside the context tree without
// writing it to disk first.
type ExtraFile struct {
	Name string
	Mode int64
	Data []byte
}

// Archive writes the filtered context tree, plus any extra files, to w as
// a tar stream in deterministic path order. The builder subprocess reads
// this stream as its build context.
func (c *BuildContext) Archive(vfs afero.Fs, w io.Writer, extra ...ExtraFile) error {
	if c.BaseDir != "" {
		if _, err := vfs.Stat(c.BaseDir); err != nil {
			return &tplerr.ContextError{Context: c.Name, Msg: "base_dir does not exist", Err: err}
		}
	}

	tw := tar.NewWriter(w)

	if c.BaseDir != "" {
		patterns, err := c.loadPatterns(vfs)
		if err != nil {
			return err
		}

		type item struct {
			rel  string
			info fs.FileInfo
			path string
		}
		var items []item
		err = c.walkFiltered(vfs, patterns, func(rel string, info fs.FileInfo, path string) error {
			items = append(items, item{rel: rel, info: info, path: path})
			return nil
		})
		if err != nil {
			return &tplerr.ContextError{Context: c.Name, Msg: "walking context tree", Err: err}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].rel < items[j].rel })

		for _, it := range items {
			mode := applyUmask(uint32(it.info.Mode().Perm()), c.Umask)
			switch {
			case it.info.IsDir():
				if err := tw.WriteHeader(&tar.Header{
					Name:     it.rel + "/",
					Typeflag: tar.TypeDir,
					Mode:     int64(mode),
				}); err != nil {
					return err
				}
			case it.info.Mode()&fs.ModeSymlink != 0:
				target, lerr := readlinkIfPossible(vfs, it.path)
				if lerr != nil {
					return &tplerr.ContextError{Context: c.Name, Msg: "reading symlink " + it.rel, Err: lerr}
				}
				if err := tw.WriteHeader(&tar.Header{
					Name:     it.rel,
					Typeflag: tar.TypeSymlink,
					Linkname: target,
				}); err != nil {
					return err
				}
			default:
				data, rerr := afero.ReadFile(vfs, it.path)
				if rerr != nil {
					return &tplerr.ContextError{Context: c.Name, Msg: "reading file " + it.rel, Err: rerr}
				}
				if err := tw.WriteHeader(&tar.Header{
					Name:     it.rel,
					Typeflag: tar.TypeReg,
					Mode:     int64(mode),
					Size:     int64(len(data)),
				}); err != nil {
					return err
				}
				if _, err := tw.Write(data); err != nil {
					return err
				}
			}
		}
	}

	for _, ef := range extra {
		if err := tw.WriteHeader(&tar.Header{
			Name:     ef.Name,
			Typeflag: tar.TypeReg,
			Mode:     ef.Mode,
			Size:     int64(len(ef.Data)),
		}); err != nil {
			return err
		}
		if _, err := tw.Write(ef.Data); err != nil {
			return err
		}
	}

	return tw.Close()
}
