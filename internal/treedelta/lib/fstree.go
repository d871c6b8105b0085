package lib

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// SymlinkPrefix starts the text of a node carrying svn:special that
// represents a symbolic link; the link target follows it.
const SymlinkPrefix = "link "

// FSTree is a types.TreeSource over a directory on disk. Ignored paths do not
// exist as far as the tree is concerned.
type FSTree struct {
	root string
}

// NewFSTree returns the tree rooted at dir.
func NewFSTree(dir string) (*FSTree, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &FSTree{root: abs}, nil
}

// Root returns the absolute directory of the tree.
func (t *FSTree) Root() string {
	return t.root
}

func (t *FSTree) osPath(p string) string {
	return filepath.Join(t.root, filepath.FromSlash(p))
}

func (t *FSTree) ignored(p string) bool {
	return p != "" && IsPathIgnored(t.root, t.osPath(p))
}

func kindOf(mode fs.FileMode) types.NodeKind {
	switch {
	case mode.IsDir():
		return types.KindDir
	case mode.IsRegular(), mode&fs.ModeSymlink != 0:
		return types.KindFile
	}
	return types.KindNone
}

func (t *FSTree) Stat(p string) (types.NodeKind, error) {
	if t.ignored(p) {
		return types.KindNone, nil
	}
	info, err := os.Lstat(t.osPath(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.KindNone, nil
		}
		return types.KindNone, err
	}
	return kindOf(info.Mode()), nil
}

// List returns the children of dir. Children that exist but cannot be opened
// are listed as absent.
func (t *FSTree) List(dir string) ([]types.Entry, error) {
	dirEntries, err := os.ReadDir(t.osPath(dir))
	if err != nil {
		return nil, err
	}

	var entries []types.Entry
	for _, de := range dirEntries {
		child := de.Name()
		if dir != "" {
			child = dir + "/" + de.Name()
		}
		if t.ignored(child) {
			continue
		}

		kind := kindOf(de.Type())
		if kind == types.KindNone {
			// Devices, sockets and pipes cannot be versioned.
			continue
		}
		entry := types.Entry{Name: de.Name(), Kind: kind}
		if de.Type()&fs.ModeSymlink == 0 {
			if f, err := os.Open(t.osPath(child)); err != nil {
				entry.Absent = true
			} else {
				f.Close()
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Props maps the executable bit to svn:executable and symbolic links to
// svn:special.
func (t *FSTree) Props(p string) (types.Props, error) {
	info, err := os.Lstat(t.osPath(p))
	if err != nil {
		return nil, err
	}
	props := types.Props{}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		props[types.PropSpecial] = []byte(types.PropSpecialValue)
	case info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0:
		props[types.PropExecutable] = []byte(types.PropExecutableValue)
	}
	return props, nil
}

// Contents reads a file through a read-only mapping. The text of a symbolic
// link is SymlinkPrefix followed by its target.
func (t *FSTree) Contents(p string) ([]byte, error) {
	full := t.osPath(p)
	info, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return nil, err
		}
		return []byte(SymlinkPrefix + filepath.ToSlash(target)), nil
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	if info.Size() == 0 {
		// Empty files cannot be mapped.
		return []byte{}, nil
	}

	file, err := os.OpenFile(full, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	defer data.Unmap()

	return append([]byte(nil), data...), nil
}
